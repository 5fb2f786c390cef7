// Package auth implements the Spotify OAuth2 credential lifecycle:
// authorization (authorization-code and PKCE grants), loopback redirect
// capture, token caching, and refresh.
package auth

// Credentials identifies the registered Spotify application. The secret
// is empty for the PKCE grant. Immutable once loaded from config.
type Credentials struct {
	ClientID     string
	ClientSecret string
}
