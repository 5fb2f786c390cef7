package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	serrors "github.com/alexjbarnes/spotify-term/internal/errors"
)

const (
	// expiryGrace is subtracted from the token's expiry when checking
	// freshness, absorbing clock skew and network latency so a token is
	// never sent moments before the API would reject it.
	expiryGrace = 10 * time.Second

	// cacheDirPerm is the permission mode for the cache directory.
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the token cache file.
	cacheFilePerm = fs.FileMode(0o600)
)

// Token is the access/refresh token value object. The zero value is
// pre-expired, forcing an authorization attempt before first use.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	Scopes       []string  `json:"scopes"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired reports whether the token is within the grace window of its
// expiry (or past it).
func (t Token) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt.Add(-expiryGrace))
}

// AuthHeader renders the Authorization header value for API requests.
func (t Token) AuthHeader() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}

	return typ + " " + t.AccessToken
}

// HasScopes reports whether the token's granted scopes equal the given
// set. Set inequality in either direction forces re-authorization, so
// this is not a subset check.
func (t Token) HasScopes(scopes []string) bool {
	if len(t.Scopes) != len(scopes) {
		return false
	}

	have := make(map[string]bool, len(t.Scopes))
	for _, s := range t.Scopes {
		have[s] = true
	}

	for _, s := range scopes {
		if !have[s] {
			return false
		}
	}

	return true
}

// CacheConfig locates the on-disk token cache. Passed explicitly into the
// engine so no package-level path state exists.
type CacheConfig struct {
	Dir     string
	Enabled bool
}

// path returns the cache file for a flow. The flow id keeps the
// authorization-code and PKCE caches distinct so both can coexist.
func (c CacheConfig) path(flowID string) string {
	return filepath.Join(c.Dir, "spotify."+flowID+".token")
}

// Save serializes the token as base64-encoded JSON and writes it
// atomically to the cache path for the flow, creating the cache directory
// as needed. A failed save is an I/O error for the caller to log; the
// engine treats it as a cache miss on the next start, never as fatal.
func (t Token) Save(cache CacheConfig, flowID string) error {
	if err := os.MkdirAll(cache.Dir, cacheDirPerm); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	path := cache.path(flowID)

	tmp, err := os.CreateTemp(cache.Dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}

	if _, err := tmp.WriteString(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("writing token file: %w", err)
	}

	if err := tmp.Chmod(cacheFilePerm); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("setting token file mode: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("closing token file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replacing token file: %w", err)
	}

	return nil
}

// LoadToken reads a cached token back from disk. Returns ErrTokenNotFound
// when no cache exists for the flow, which the engine treats as "start
// from an authorization attempt".
func LoadToken(cache CacheConfig, flowID string) (Token, error) {
	encoded, err := os.ReadFile(cache.path(flowID))
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, serrors.ErrTokenNotFound
		}

		return Token{}, fmt.Errorf("reading token cache: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return Token{}, fmt.Errorf("decoding token cache: %w", err)
	}

	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("parsing token cache: %w", err)
	}

	return t, nil
}

// tokenResponse is the provider token endpoint's wire shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// parseTokenResponse builds a Token from a token endpoint response body,
// anchoring the expiry at now + expires_in. expires_at is never recomputed
// after this point except on a fresh issuance or refresh.
func parseTokenResponse(body []byte, now time.Time) (Token, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Token{}, fmt.Errorf("parsing token response: %w", err)
	}

	if resp.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	return Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		Scopes:       splitScopes(resp.Scope),
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// applyRefreshResponse folds a refresh response into an existing token.
// Scope and refresh_token are only overwritten when the provider restates
// them; omission on refresh means "unchanged".
func (t Token) applyRefreshResponse(body []byte, now time.Time) (Token, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Token{}, fmt.Errorf("parsing refresh response: %w", err)
	}

	if resp.AccessToken == "" {
		return Token{}, fmt.Errorf("refresh response missing access_token")
	}

	t.AccessToken = resp.AccessToken
	t.TokenType = resp.TokenType
	t.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)

	if resp.RefreshToken != "" {
		t.RefreshToken = resp.RefreshToken
	}

	if resp.Scope != "" {
		t.Scopes = splitScopes(resp.Scope)
	}

	return t, nil
}

// splitScopes parses the provider's space-delimited scope string into a
// sorted slice.
func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}

	scopes := strings.Fields(scope)
	sort.Strings(scopes)

	return scopes
}
