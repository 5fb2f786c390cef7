// Package errors defines the sentinel errors shared across internal packages.
package errors

import "errors"

// Authorization errors. These require a human to resolve and are never
// retried automatically.
var (
	// ErrAuthorizationDenied means the user denied consent or the provider
	// returned an error on the redirect callback.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrCSRFMismatch means the callback state nonce did not match the one
	// sent in the authorization request. The callback is discarded even if
	// it carried a code.
	ErrCSRFMismatch = errors.New("callback state mismatch")

	// ErrAuthorizationTimeout means the browser round-trip did not complete
	// within the configured wait.
	ErrAuthorizationTimeout = errors.New("authorization timed out")
)

// Token lifecycle errors.
var (
	// ErrTokenExchange means the token endpoint rejected the authorization
	// code or the client credentials.
	ErrTokenExchange = errors.New("token exchange rejected")

	// ErrRefreshFailed means the refresh token was missing or rejected by
	// the provider. The auth engine recovers by re-authorizing.
	ErrRefreshFailed = errors.New("token refresh rejected")

	// ErrScopeMismatch means the cached token's granted scopes differ from
	// the requested set. Recovered by re-authorizing.
	ErrScopeMismatch = errors.New("cached token scope mismatch")

	// ErrTokenNotFound means no token is cached on disk for the flow.
	// Not a failure: the engine starts from a fresh authorization.
	ErrTokenNotFound = errors.New("no cached token")
)
