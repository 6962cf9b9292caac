package session

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noIdentity() *IdentityProvider {
	return NewIdentityProviderWithSources(
		func() string { return "" },
		func() string { return "" },
	)
}

func staticIdentity(assertion string) *IdentityProvider {
	return NewIdentityProviderWithSources(
		func() string { return "tgWebAppData=" + assertion },
		func() string { return "" },
	)
}

func newTestGateway(t *testing.T, srvURL string, store Store, identity *IdentityProvider) *Gateway {
	t.Helper()
	exchange, err := NewExchangeClient(srvURL, store)
	if err != nil {
		t.Fatalf("Failed to create exchange client: %v", err)
	}
	return NewGateway(GatewayConfig{
		Store:    store,
		Exchange: exchange,
		Identity: identity,
	})
}

func TestGateway_AttachesTokenAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Errorf("Expected Authorization %q, got %q", "Bearer T1", got)
		}
		if got := r.Header.Get("X-Client-Session"); got != "abc" {
			t.Errorf("Expected X-Client-Session %q, got %q", "abc", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, noIdentity())
	gw.headers = map[string]string{"X-Client-Session": "abc"}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

// Requests without a stored token go out unauthenticated rather than
// failing locally.
func TestGateway_NoTokenSendsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Expected no Authorization header, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL, &MemoryStore{}, noIdentity())
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
}

// Non-401 failures pass through untouched; the recovery machinery never
// engages.
func TestGateway_PassesThroughNon401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL, &MemoryStore{}, noIdentity())
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
}

// A 401 triggers renewal; the request is retried once with the renewed
// token and its response is returned.
func TestGateway_RecoversVia401AndRenewal(t *testing.T) {
	var renewals int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			atomic.AddInt32(&renewals, 1)
			writeToken(w, "T2")
		default:
			if r.Header.Get("Authorization") != "Bearer T2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, noIdentity())

	var changed []string
	gw.OnTokenChanged(func(token string) { changed = append(changed, token) })

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after recovery, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&renewals); got != 1 {
		t.Errorf("Expected 1 renewal, got %d", got)
	}
	if token, _ := store.Get(); token != "T2" {
		t.Errorf("Expected store to hold %q, got %q", "T2", token)
	}
	if len(changed) != 1 || changed[0] != "T2" {
		t.Errorf("Expected one token-changed notification for T2, got %v", changed)
	}
}

// Concurrent 401s share a single recovery: one renewal call, and every
// queued request is redispatched with the recovered token.
func TestGateway_QueuesConcurrent401s(t *testing.T) {
	var renewals, retried int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			atomic.AddInt32(&renewals, 1)
			// Hold the renewal open long enough for every business call
			// to 401 and queue behind it.
			time.Sleep(150 * time.Millisecond)
			writeToken(w, "T2")
		default:
			if r.Header.Get("Authorization") != "Bearer T2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			atomic.AddInt32(&retried, 1)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, noIdentity())

	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+fmt.Sprintf("/api/data/%d", i), nil)
			resp, err := gw.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("Request %d failed: %v", i, errs[i])
		} else if codes[i] != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, codes[i])
		}
	}
	if got := atomic.LoadInt32(&renewals); got != 1 {
		t.Errorf("Expected exactly 1 renewal, got %d", got)
	}
	if got := atomic.LoadInt32(&retried); got != n {
		t.Errorf("Expected %d retried requests, got %d", n, got)
	}
}

// Failed renewal falls back to a full identity re-exchange before giving
// up, and the stale token is removed in between.
func TestGateway_FallsBackToReExchange(t *testing.T) {
	var exchanges int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			http.Error(w, "refresh expired", http.StatusUnauthorized)
		case "/auth/telegram":
			atomic.AddInt32(&exchanges, 1)
			writeToken(w, "T3")
		default:
			if r.Header.Get("Authorization") != "Bearer T3" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, staticIdentity("signed-data"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after re-exchange, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&exchanges); got != 1 {
		t.Errorf("Expected 1 exchange, got %d", got)
	}
	if token, _ := store.Get(); token != "T3" {
		t.Errorf("Expected store to hold %q, got %q", "T3", token)
	}
}

// A renewal response that is 2xx but carries no token counts as a failed
// renewal and falls through to re-exchange the same way.
func TestGateway_TokenlessRenewalFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{}`))
		case "/auth/telegram":
			writeToken(w, "T3")
		default:
			if r.Header.Get("Authorization") != "Bearer T3" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, staticIdentity("signed-data"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after re-exchange, got %d", resp.StatusCode)
	}
}

// With renewal failed and no identity assertion, recovery is terminal:
// ErrSessionExpired, cleared store, one expiry notification.
func TestGateway_TerminalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, noIdentity())

	var expirations int32
	gw.OnSessionExpired(func(err error) { atomic.AddInt32(&expirations, 1) })

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	_, err := gw.Do(req)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	if token, _ := store.Get(); token != "" {
		t.Errorf("Expected store to be cleared, still holds %q", token)
	}
	if got := atomic.LoadInt32(&expirations); got != 1 {
		t.Errorf("Expected 1 expiry notification, got %d", got)
	}
}

// When re-exchange itself fails, the gateway gives up with
// ErrSessionExpired rather than looping.
func TestGateway_TerminalFailureWhenReExchangeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, staticIdentity("signed-data"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	_, err := gw.Do(req)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
}

// A request that still 401s with the recovered token is retried at most
// once; the second 401 is returned to the caller as a response.
func TestGateway_SecondUnauthorizedPassesThrough(t *testing.T) {
	var renewals int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			atomic.AddInt32(&renewals, 1)
			writeToken(w, "T2")
			return
		}
		// Endpoint-level denial independent of the token.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, noIdentity())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected the second 401 to pass through, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&renewals); got != 1 {
		t.Errorf("Expected exactly 1 renewal, got %d", got)
	}
}

// Request bodies are rewound for the retry so the backend sees the same
// payload twice.
func TestGateway_RetryReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			writeToken(w, "T2")
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	gw := newTestGateway(t, srv.URL, store, noIdentity())

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/data", strings.NewReader(`{"text":"hello"}`))
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201, got %d", resp.StatusCode)
	}
	if len(bodies) != 2 {
		t.Fatalf("Expected 2 delivery attempts, got %d", len(bodies))
	}
	for i, body := range bodies {
		if body != `{"text":"hello"}` {
			t.Errorf("Attempt %d: unexpected body %q", i, body)
		}
	}
}

// flakyTransport fails the first N round trips, then delegates.
type flakyTransport struct {
	failures int32
	base     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, fmt.Errorf("connection reset")
	}
	return f.base.RoundTrip(req)
}

// By default a transport error surfaces untouched; no recovery runs.
func TestGateway_NetworkErrorSurfacesByDefault(t *testing.T) {
	var authCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/auth/") {
			atomic.AddInt32(&authCalls, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	exchange, err := NewExchangeClient(srv.URL, store)
	if err != nil {
		t.Fatalf("Failed to create exchange client: %v", err)
	}
	gw := NewGateway(GatewayConfig{
		HTTPClient: &http.Client{Transport: &flakyTransport{failures: 1, base: http.DefaultTransport}},
		Store:      store,
		Exchange:   exchange,
		Identity:   staticIdentity("signed-data"),
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	if _, err := gw.Do(req); err == nil {
		t.Fatal("Expected transport error to surface")
	}
	if got := atomic.LoadInt32(&authCalls); got != 0 {
		t.Errorf("Expected no auth traffic, got %d calls", got)
	}
	if token, _ := store.Get(); token != "T1" {
		t.Errorf("Expected stored token untouched, got %q", token)
	}
}

// With opt-in network-error recovery, a transport failure clears the
// token, re-exchanges the identity, and retries once.
func TestGateway_NetworkErrorRecoveryOptIn(t *testing.T) {
	var exchanges, renewals int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			atomic.AddInt32(&renewals, 1)
			writeToken(w, "T9")
		case "/auth/telegram":
			atomic.AddInt32(&exchanges, 1)
			writeToken(w, "T2")
		default:
			if r.Header.Get("Authorization") != "Bearer T2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	exchange, err := NewExchangeClient(srv.URL, store)
	if err != nil {
		t.Fatalf("Failed to create exchange client: %v", err)
	}
	gw := NewGateway(GatewayConfig{
		HTTPClient:          &http.Client{Transport: &flakyTransport{failures: 1, base: http.DefaultTransport}},
		Store:               store,
		Exchange:            exchange,
		Identity:            staticIdentity("signed-data"),
		RetryOnNetworkError: true,
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := gw.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after network-error recovery, got %d", resp.StatusCode)
	}
	// Transport errors skip renewal: the refresh credential is no more
	// reachable than anything else was.
	if got := atomic.LoadInt32(&renewals); got != 0 {
		t.Errorf("Expected no renewal attempts, got %d", got)
	}
	if got := atomic.LoadInt32(&exchanges); got != 1 {
		t.Errorf("Expected 1 exchange, got %d", got)
	}
}

// If recovery after a transport error also fails, the original transport
// error is what the caller sees, not ErrSessionExpired.
func TestGateway_NetworkErrorRecoveryFailureKeepsOriginalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := &MemoryStore{}
	store.Set("T1")
	exchange, err := NewExchangeClient(srv.URL, store)
	if err != nil {
		t.Fatalf("Failed to create exchange client: %v", err)
	}
	gw := NewGateway(GatewayConfig{
		HTTPClient:          &http.Client{Transport: &flakyTransport{failures: 1, base: http.DefaultTransport}},
		Store:               store,
		Exchange:            exchange,
		Identity:            noIdentity(),
		RetryOnNetworkError: true,
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	_, err = gw.Do(req)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Errorf("Expected the transport error to surface, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Expected original transport error, got %v", err)
	}
}
