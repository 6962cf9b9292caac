package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"tmachat/internal/chat"
	"tmachat/internal/config"
	"tmachat/internal/session"
	"tmachat/pkg/logging"
)

// clientSessionIDHeader carries the persistent per-install identifier on
// every backend call, so the server can correlate requests across CLI
// invocations. It carries no authentication weight.
const clientSessionIDHeader = "X-Client-Session"

// app bundles the wired-up client stack shared by the CLI commands.
type app struct {
	cfg        config.Config
	store      session.Store
	identity   *session.IdentityProvider
	exchange   *session.ExchangeClient
	gateway    *session.Gateway
	controller *session.Controller
	chats      *chat.Client
}

// newApp loads configuration and assembles the session layer plus the
// chat client on top of it.
func newApp(ctx context.Context) (*app, error) {
	configPath := rootConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	fileStore, err := session.NewFileStore(configPath)
	if err != nil {
		return nil, err
	}
	// The CLI runs outside the platform webview, so no cloud storage
	// bridge is available; the factory falls back to the file store.
	store := session.NewStore(nil, fileStore)

	identity := session.NewIdentityProvider()

	exchange, err := session.NewExchangeClient(cfg.APIHost, store,
		session.WithAuthScheme(session.AuthScheme(cfg.AuthScheme)))
	if err != nil {
		return nil, err
	}

	clientID, err := config.EnsureClientID(configPath)
	if err != nil {
		return nil, err
	}

	gateway := session.NewGateway(session.GatewayConfig{
		HTTPClient:          &http.Client{Timeout: cfg.Timeout},
		Store:               store,
		Exchange:            exchange,
		Identity:            identity,
		RetryOnNetworkError: cfg.RetryOnNetworkError,
		Headers:             map[string]string{clientSessionIDHeader: clientID},
	})
	gateway.OnSessionExpired(func(err error) {
		logging.Warn("CLI", "Session expired and could not be recovered; run 'tmachat auth login'")
	})

	return &app{
		cfg:        cfg,
		store:      store,
		identity:   identity,
		exchange:   exchange,
		gateway:    gateway,
		controller: session.NewController(store, identity, exchange),
		chats:      chat.NewClient(cfg.APIHost, gateway),
	}, nil
}

// ensureSession establishes the session up front so commands fail early
// with a clear message when no launch context is available.
func (a *app) ensureSession(ctx context.Context) error {
	if _, err := a.controller.EnsureSession(ctx); err != nil {
		return fmt.Errorf("could not establish a session: %w", err)
	}
	return nil
}

// contextWithOptionalTimeout derives a command context with a timeout; a
// zero timeout means no limit.
func contextWithOptionalTimeout(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
