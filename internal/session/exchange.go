package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"tmachat/pkg/logging"
)

// DefaultHTTPTimeout bounds every auth network call. A timeout is a
// transport failure and feeds the same recovery path as a network error.
const DefaultHTTPTimeout = 30 * time.Second

// AuthScheme selects how the identity assertion is transmitted on the
// exchange call. The mode is static configuration, not runtime data.
type AuthScheme string

const (
	// AuthSchemeBody sends the assertion as a field in the JSON body.
	AuthSchemeBody AuthScheme = "body"

	// AuthSchemeHeader sends the assertion in an Authorization header
	// using the platform's custom scheme.
	AuthSchemeHeader AuthScheme = "header"
)

// Auth endpoint paths, relative to the configured API host.
const (
	exchangePath = "auth/telegram"
	renewPath    = "auth/refresh"
)

// tokenResponse is the JSON contract shared by both auth endpoints.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// ExchangeClient performs the two network operations that obtain a
// session token: exchanging the identity assertion, and renewing an
// existing session via the refresh credential.
//
// The refresh credential is never read or stored here. It is a cookie
// set by the backend on successful exchange/renewal and presented
// automatically by the client's cookie jar on the renewal endpoint.
type ExchangeClient struct {
	baseURL    string
	scheme     AuthScheme
	store      Store
	httpClient *http.Client

	// renewGroup collapses concurrent renewals into one network call.
	renewGroup singleflight.Group
}

// ExchangeOption configures the exchange client.
type ExchangeOption func(*ExchangeClient)

// WithHTTPClient sets a custom HTTP client. The caller is responsible
// for attaching a cookie jar when overriding, otherwise renewal cannot
// present the refresh credential.
func WithHTTPClient(httpClient *http.Client) ExchangeOption {
	return func(c *ExchangeClient) {
		c.httpClient = httpClient
	}
}

// WithAuthScheme sets the transmission mode for the identity assertion.
func WithAuthScheme(scheme AuthScheme) ExchangeOption {
	return func(c *ExchangeClient) {
		c.scheme = scheme
	}
}

// NewExchangeClient creates an exchange client for the given API host.
// Tokens obtained by Exchange and Renew are persisted to store as a side
// effect before being returned.
func NewExchangeClient(baseURL string, store Store, opts ...ExchangeOption) (*ExchangeClient, error) {
	c := &ExchangeClient{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		scheme:  AuthSchemeBody,
		store:   store,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.httpClient = &http.Client{
			Timeout: DefaultHTTPTimeout,
			Jar:     jar,
		}
	}

	return c, nil
}

// Exchange trades a raw identity assertion for a fresh session token and
// persists it. All failure conditions — transport error, non-2xx status,
// missing token in a 2xx response — surface as an *AuthError with
// Op "exchange". No retry is performed here; recovery is the caller's
// responsibility.
func (c *ExchangeClient) Exchange(ctx context.Context, assertion string) (string, error) {
	if assertion == "" {
		return "", &AuthError{Op: "exchange", Err: fmt.Errorf("empty identity assertion")}
	}

	req, err := c.exchangeRequest(ctx, assertion)
	if err != nil {
		return "", &AuthError{Op: "exchange", Err: err}
	}

	token, err := c.doTokenRequest(req)
	if err != nil {
		return "", &AuthError{Op: "exchange", Err: err}
	}

	c.persist(token)
	logging.Info("Session", "Identity exchange succeeded")
	return token, nil
}

// Renew obtains a fresh session token using the cookie-borne refresh
// credential and persists it. Renewal failure is an expected, recoverable
// outcome: the returned error tells the caller to fall through to a full
// re-exchange, not to abort.
//
// Renew is single-flight: if a renewal is already outstanding, the
// caller shares its outcome instead of triggering a second network call.
// The guard is released when the shared call settles, so a subsequent
// call after a failure issues a fresh attempt.
func (c *ExchangeClient) Renew(ctx context.Context) (string, error) {
	result, err, shared := c.renewGroup.Do("renew", func() (interface{}, error) {
		return c.doRenew(ctx)
	})
	if shared {
		logging.Debug("Session", "Renewal already in flight, sharing its outcome")
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *ExchangeClient) doRenew(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+renewPath, nil)
	if err != nil {
		return "", &AuthError{Op: "renew", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.doTokenRequest(req)
	if err != nil {
		logging.Debug("Session", "Token renewal failed: %v", err)
		return "", &AuthError{Op: "renew", Err: err}
	}

	c.persist(token)
	logging.Info("Session", "Session token renewed")
	return token, nil
}

func (c *ExchangeClient) exchangeRequest(ctx context.Context, assertion string) (*http.Request, error) {
	if c.scheme == AuthSchemeHeader {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+exchangePath, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "tma "+assertion)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	body, err := json.Marshal(map[string]string{"initData": assertion})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+exchangePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doTokenRequest sends an auth request and extracts the session token
// from the response.
func (c *ExchangeClient) doTokenRequest(req *http.Request) (string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse auth response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", ErrMissingToken
	}
	return tr.AccessToken, nil
}

// persist writes the token to the store. A persistence failure does not
// invalidate the freshly minted session; the token still serves the
// current process.
func (c *ExchangeClient) persist(token string) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(token); err != nil {
		logging.Warn("Session", "Failed to persist session token: %v", err)
	}
}
