// Package session implements the authentication and session-resilience
// layer of the tmachat client.
//
// The package is organized around five collaborators:
//
//   - Store: durable key/value persistence for the session token,
//     preferring the host platform's cloud storage and falling back to a
//     local file store.
//   - IdentityProvider: read-only access to the raw, platform-signed
//     identity assertion ("init data") from the launch environment.
//   - ExchangeClient: the two network operations that mint a session
//     token — exchanging the identity assertion, and renewing via the
//     cookie-borne refresh credential. Renewal is single-flight.
//   - Gateway: wraps every outgoing backend call, attaches the bearer
//     token, and on a 401 drives the recovery state machine (renew,
//     then full re-exchange, then give up) while queueing concurrent
//     callers behind the in-flight recovery.
//   - Controller: one-shot startup orchestration that adopts a persisted
//     token or establishes a fresh session.
//
// # Token lifecycle
//
// The session token is an opaque bearer credential. It is created by the
// ExchangeClient, persisted by the Store, read by the Gateway on every
// call, and removed when both renewal and re-exchange fail after an
// authorization rejection. The refresh credential is never handled
// directly: it travels exclusively as a cookie managed by the HTTP
// client's jar.
//
// # Concurrency
//
// At most one renewal network call is outstanding at any time. Callers
// that observe a 401 while a recovery is in flight enqueue behind it and
// receive the same outcome. The single-flight guard inside the
// ExchangeClient is an independent, second layer of serialization scoped
// to the client itself.
//
// SECURITY: token values are never logged by this package.
package session
