package session

import (
	"fmt"
	"net/http"
	"sync"

	"tmachat/pkg/logging"
)

// recoveryOutcome is the settled result of a recovery cycle, delivered
// to the driver and to every queued waiter alike.
type recoveryOutcome struct {
	token string
	err   error
}

// recoveryState is the gateway's explicit state machine: idle or
// renewing, plus the ordered queue of callers waiting on the in-flight
// recovery. It is owned by the Gateway instance rather than held as
// package state, so gateways are independent and testable in isolation.
type recoveryState struct {
	mu       sync.Mutex
	renewing bool
	waiters  []chan recoveryOutcome
}

// begin either claims the driver role (returns true) or, when a recovery
// is already in flight, enqueues a waiter and returns its channel.
func (r *recoveryState) begin() (bool, <-chan recoveryOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.renewing {
		ch := make(chan recoveryOutcome, 1)
		r.waiters = append(r.waiters, ch)
		return false, ch
	}
	r.renewing = true
	return true, nil
}

// settle ends the recovery cycle and releases every queued waiter with
// the same outcome.
func (r *recoveryState) settle(out recoveryOutcome) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.renewing = false
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- out
	}
}

// GatewayConfig configures the authenticated request gateway.
type GatewayConfig struct {
	// HTTPClient dispatches business calls. Defaults to a plain client;
	// auth calls use the ExchangeClient's own transport.
	HTTPClient *http.Client

	// Store supplies the current session token and is cleared on
	// terminal recovery failure.
	Store Store

	// Exchange performs renewal and full re-exchange during recovery.
	Exchange *ExchangeClient

	// Identity supplies the assertion for full re-exchange.
	Identity *IdentityProvider

	// RetryOnNetworkError treats a transport error with no response like
	// a 401: clear the token, re-exchange, retry once. Off by default;
	// when recovery fails the original transport error surfaces.
	RetryOnNetworkError bool

	// Headers are attached to every outgoing request (e.g. the client
	// session identifier).
	Headers map[string]string
}

// Gateway wraps every outgoing backend call. It attaches the current
// session token as a bearer credential and, on an authorization
// rejection, drives the recovery state machine: renew, then full
// re-exchange, then give up with ErrSessionExpired. Calls that 401 while
// a recovery is in flight queue behind it and share its outcome.
type Gateway struct {
	httpClient *http.Client
	store      Store
	exchange   *ExchangeClient
	identity   *IdentityProvider

	retryOnNetworkError bool
	headers             map[string]string

	recovery *recoveryState

	cbMu             sync.Mutex
	onTokenChanged   func(token string)
	onSessionExpired func(err error)
}

// NewGateway creates a gateway from the given configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Gateway{
		httpClient:          httpClient,
		store:               cfg.Store,
		exchange:            cfg.Exchange,
		identity:            cfg.Identity,
		retryOnNetworkError: cfg.RetryOnNetworkError,
		headers:             cfg.Headers,
		recovery:            &recoveryState{},
	}
}

// OnTokenChanged registers a callback invoked whenever recovery installs
// a new session token. UI-state mirrors subscribe here; the gateway
// itself has no knowledge of them.
func (g *Gateway) OnTokenChanged(fn func(token string)) {
	g.cbMu.Lock()
	defer g.cbMu.Unlock()
	g.onTokenChanged = fn
}

// OnSessionExpired registers a callback invoked once per terminal
// recovery failure, before the failing calls are released.
func (g *Gateway) OnSessionExpired(fn func(err error)) {
	g.cbMu.Lock()
	defer g.cbMu.Unlock()
	g.onSessionExpired = fn
}

// Do dispatches an authenticated backend call.
//
// A token from the store is attached when present; requests without one
// are sent unauthenticated (e.g. before first login). Responses other
// than 401 — success or failure — pass through unchanged. A 401 enters
// the recovery path and the request is retried at most once with the
// recovered token; if recovery is exhausted, Do returns
// ErrSessionExpired.
//
// Requests with a body must be replayable (GetBody set), which holds for
// anything built via http.NewRequest with a byte or string reader.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	for key, value := range g.headers {
		req.Header.Set(key, value)
	}
	g.attachToken(req, "")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if !g.retryOnNetworkError {
			return nil, err
		}
		logging.Debug("Session", "Transport error on %s %s, attempting session recovery", req.Method, req.URL.Path)
		token, recErr := g.recover(req, false)
		if recErr != nil {
			// Recovery could not help; the original transport error is
			// what the caller needs to see.
			return nil, err
		}
		return g.redispatch(req, token)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	resp.Body.Close()
	logging.Debug("Session", "401 on %s %s, entering recovery", req.Method, req.URL.Path)

	token, recErr := g.recover(req, true)
	if recErr != nil {
		return nil, recErr
	}
	return g.redispatch(req, token)
}

// recover resolves a recovery cycle for req: either drive it or wait on
// the one in flight. allowRenew selects whether the renewal stage runs
// before full re-exchange (it does for 401s, not for transport errors,
// where the refresh credential is as unreachable as everything else).
func (g *Gateway) recover(req *http.Request, allowRenew bool) (string, error) {
	driver, wait := g.recovery.begin()
	if !driver {
		select {
		case out := <-wait:
			return out.token, out.err
		case <-req.Context().Done():
			return "", req.Context().Err()
		}
	}

	out := g.runRecovery(req, allowRenew)
	g.recovery.settle(out)
	return out.token, out.err
}

// runRecovery executes the driver's side of the state machine: renewal,
// then identity re-exchange, then terminal failure with the stored token
// cleared.
func (g *Gateway) runRecovery(req *http.Request, allowRenew bool) recoveryOutcome {
	ctx := req.Context()

	if allowRenew {
		token, err := g.exchange.Renew(ctx)
		if err == nil {
			g.notifyTokenChanged(token)
			return recoveryOutcome{token: token}
		}
		logging.Debug("Session", "Renewal failed, falling back to identity re-exchange: %v", err)
	}

	// The old token is dead either way; remove it before re-exchange so
	// nothing downstream keeps presenting it.
	g.removeToken()

	assertion := g.identity.RawAssertion()
	if assertion == "" {
		logging.Warn("Session", "No identity assertion available, session cannot be recovered")
		return g.terminalFailure()
	}

	token, err := g.exchange.Exchange(ctx, assertion)
	if err != nil {
		logging.Warn("Session", "Identity re-exchange failed: %v", err)
		return g.terminalFailure()
	}

	g.notifyTokenChanged(token)
	return recoveryOutcome{token: token}
}

func (g *Gateway) terminalFailure() recoveryOutcome {
	g.removeToken()
	g.notifySessionExpired(ErrSessionExpired)
	return recoveryOutcome{err: ErrSessionExpired}
}

// redispatch retries the original request exactly once with the
// recovered token. A second 401 passes through untouched.
func (g *Gateway) redispatch(req *http.Request, token string) (*http.Response, error) {
	retry, err := cloneForRetry(req)
	if err != nil {
		return nil, err
	}
	g.attachToken(retry, token)
	return g.httpClient.Do(retry)
}

// attachToken sets the bearer credential. An explicit token wins;
// otherwise the store is consulted. Absence of a token is not an error.
func (g *Gateway) attachToken(req *http.Request, token string) {
	if token == "" && g.store != nil {
		stored, err := g.store.Get()
		if err != nil {
			logging.Warn("Session", "Failed to read stored token: %v", err)
		} else {
			token = stored
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (g *Gateway) removeToken() {
	if g.store == nil {
		return
	}
	if err := g.store.Remove(); err != nil {
		logging.Warn("Session", "Failed to remove stored token: %v", err)
	}
}

func (g *Gateway) notifyTokenChanged(token string) {
	g.cbMu.Lock()
	fn := g.onTokenChanged
	g.cbMu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (g *Gateway) notifySessionExpired(err error) {
	g.cbMu.Lock()
	fn := g.onSessionExpired
	g.cbMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// cloneForRetry produces a fresh copy of req with its body rewound.
func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		return retry, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body for retry: %w", err)
	}
	retry.Body = body
	return retry, nil
}
