package auth

import "net/url"

// GrantStrategy supplies the fields that differ between the
// authorization-code and PKCE grants. The surrounding state machine,
// caching, and refresh logic in Engine are shared.
type GrantStrategy interface {
	// FlowID names the grant for the on-disk cache, so both grants can
	// keep separate token caches.
	FlowID() string

	// ClientID returns the application identifier sent on every request.
	ClientID() string

	// AuthParams returns grant-specific query parameters for the
	// authorization URL.
	AuthParams(ch *CodeChallenge) url.Values

	// ExchangeForm returns the token endpoint form body for the code
	// exchange and whether to attach HTTP Basic client authentication.
	ExchangeForm(code, redirectURI string, ch *CodeChallenge) (url.Values, bool)

	// RefreshForm returns the token endpoint form body for a refresh and
	// whether to attach HTTP Basic client authentication.
	RefreshForm(refreshToken string) (url.Values, bool)
}

// AuthorizationCodeGrant authenticates the code exchange with the client
// secret over HTTP Basic.
type AuthorizationCodeGrant struct {
	Creds Credentials
}

func (g AuthorizationCodeGrant) FlowID() string { return "authcode" }

func (g AuthorizationCodeGrant) ClientID() string { return g.Creds.ClientID }

func (g AuthorizationCodeGrant) AuthParams(*CodeChallenge) url.Values {
	return url.Values{}
}

func (g AuthorizationCodeGrant) ExchangeForm(code, redirectURI string, _ *CodeChallenge) (url.Values, bool) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	return form, true
}

func (g AuthorizationCodeGrant) RefreshForm(refreshToken string) (url.Values, bool) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", g.Creds.ClientID)

	return form, true
}

// PKCEGrant authenticates the code exchange with the code verifier
// instead of a client secret, for public clients.
type PKCEGrant struct {
	ID string
}

func (g PKCEGrant) FlowID() string { return "pkce" }

func (g PKCEGrant) ClientID() string { return g.ID }

func (g PKCEGrant) AuthParams(ch *CodeChallenge) url.Values {
	params := url.Values{}
	params.Set("code_challenge", ch.Challenge)
	params.Set("code_challenge_method", "S256")

	return params
}

func (g PKCEGrant) ExchangeForm(code, redirectURI string, ch *CodeChallenge) (url.Values, bool) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", g.ID)
	form.Set("code_verifier", ch.Verifier)

	return form, false
}

func (g PKCEGrant) RefreshForm(refreshToken string) (url.Values, bool) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", g.ID)

	return form, false
}
