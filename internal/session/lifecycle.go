package session

import (
	"context"

	"tmachat/pkg/logging"
)

// Controller is the startup orchestration: it adopts a persisted session
// token when one exists, and otherwise drives the identity provider and
// exchange client to establish one. It runs once per application
// lifetime, after the host environment has finished initializing.
type Controller struct {
	store    Store
	identity *IdentityProvider
	exchange *ExchangeClient
}

// NewController creates a session lifecycle controller.
func NewController(store Store, identity *IdentityProvider, exchange *ExchangeClient) *Controller {
	return &Controller{store: store, identity: identity, exchange: exchange}
}

// EnsureSession returns the active session token, establishing one when
// none is persisted.
//
// A persisted token is adopted without any network call: validation is
// deliberately lazy, a stale token is caught and repaired by the Gateway
// on first real use. Without a token, a missing identity assertion is
// terminal (ErrUnsupportedContext), and a failed exchange propagates
// unretried — the session cannot be established until the client is
// relaunched.
func (c *Controller) EnsureSession(ctx context.Context) (string, error) {
	token, err := c.store.Get()
	if err != nil {
		logging.Warn("Session", "Failed to read persisted token: %v", err)
	}
	if token != "" {
		logging.Debug("Session", "Adopting persisted session token")
		return token, nil
	}

	assertion := c.identity.RawAssertion()
	if assertion == "" {
		return "", ErrUnsupportedContext
	}

	logging.Info("Session", "No persisted session, exchanging identity assertion")
	return c.exchange.Exchange(ctx, assertion)
}
