package session

import (
	"net/url"
	"os"

	"tmachat/pkg/logging"
)

// Launch environment variables. The host wrapper that starts the client
// inside the platform webview populates these.
const (
	// LaunchParamsEnv holds the structured launch parameters as a
	// URL-encoded string, the way the platform SDK exposes them.
	LaunchParamsEnv = "TMA_LAUNCH_PARAMS"

	// LaunchURLEnv holds the full launch URL. Used as a fallback when
	// the structured parameters are absent or unparseable.
	LaunchURLEnv = "TMA_LAUNCH_URL"
)

// initDataParam is the launch parameter carrying the raw, platform-signed
// identity assertion.
const initDataParam = "tgWebAppData"

// IdentityProvider retrieves the raw identity assertion ("init data")
// from the launch environment. It is read-only and idempotent: the
// launch environment does not mutate within a session, so repeated calls
// return the same value.
type IdentityProvider struct {
	launchParams func() string
	launchURL    func() string
}

// NewIdentityProvider creates a provider backed by the process launch
// environment.
func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{
		launchParams: func() string { return os.Getenv(LaunchParamsEnv) },
		launchURL:    func() string { return os.Getenv(LaunchURLEnv) },
	}
}

// NewIdentityProviderWithSources creates a provider with explicit launch
// sources. Host integrations that embed the client supply their own.
func NewIdentityProviderWithSources(launchParams, launchURL func() string) *IdentityProvider {
	return &IdentityProvider{launchParams: launchParams, launchURL: launchURL}
}

// RawAssertion returns the raw identity assertion, or the empty string
// when no strategy can produce one. It tries the structured launch
// parameters first, then the launch URL's query string, then its
// fragment. A failure in one strategy falls through to the next; the
// method never returns an error.
func (p *IdentityProvider) RawAssertion() string {
	if raw := p.fromLaunchParams(); raw != "" {
		return raw
	}
	if raw := p.fromLaunchURL(); raw != "" {
		return raw
	}
	logging.Debug("Session", "No identity assertion found in launch environment")
	return ""
}

// Available reports whether an identity assertion can be retrieved.
func (p *IdentityProvider) Available() bool {
	return p.RawAssertion() != ""
}

func (p *IdentityProvider) fromLaunchParams() string {
	raw := p.launchParams()
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		logging.Debug("Session", "Failed to parse launch parameters: %v", err)
		return ""
	}
	return values.Get(initDataParam)
}

func (p *IdentityProvider) fromLaunchURL() string {
	raw := p.launchURL()
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		logging.Debug("Session", "Failed to parse launch URL: %v", err)
		return ""
	}

	if data := u.Query().Get(initDataParam); data != "" {
		return data
	}

	// The platform delivers launch data in the fragment on some clients.
	if u.Fragment != "" {
		values, err := url.ParseQuery(u.Fragment)
		if err != nil {
			return ""
		}
		return values.Get(initDataParam)
	}
	return ""
}
