package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	serrors "github.com/alexjbarnes/spotify-term/internal/errors"
)

const (
	// Spotify account service endpoints. Overridable in EngineConfig for
	// tests against a stub provider.
	defaultAuthURL  = "https://accounts.spotify.com/authorize"
	defaultTokenURL = "https://accounts.spotify.com/api/token"

	// tokenHTTPTimeout bounds token endpoint round-trips.
	tokenHTTPTimeout = 30 * time.Second

	// maxTokenResponseBytes caps token endpoint body reads.
	maxTokenResponseBytes = 64 * 1024
)

// TokenCallback is invoked with every newly issued or refreshed token,
// for callers that mirror the token elsewhere (e.g. a status line).
type TokenCallback func(Token)

// EngineConfig configures an Engine. Zero fields get defaults.
type EngineConfig struct {
	RedirectURI string
	Scopes      []string
	Cache       CacheConfig

	// AuthTimeout bounds the browser round-trip during Authorize.
	AuthTimeout time.Duration

	Logger     *slog.Logger
	HTTPClient *http.Client

	// Endpoint overrides for tests.
	AuthURL  string
	TokenURL string

	// OpenBrowser opens the authorization URL in the user's browser.
	// Failure is non-fatal; the URL is always printed.
	OpenBrowser func(url string) error
}

// Engine orchestrates authorization, token exchange, and refresh for one
// grant. The cached token is the only state shared across concurrent
// callers and is mutated exclusively through Engine methods. Concurrent
// Token callers that observe an expired token share a single in-flight
// refresh or authorization rather than racing their own.
type Engine struct {
	strategy    GrantStrategy
	redirectURI string
	scopes      []string
	cache       CacheConfig
	authTimeout time.Duration

	logger      *slog.Logger
	httpClient  *http.Client
	authURL     string
	tokenURL    string
	openBrowser func(string) error

	mu      sync.Mutex
	token   Token
	onToken TokenCallback

	group singleflight.Group
}

// NewEngine builds an engine for the given grant and loads any cached
// token for it. A cached token whose granted scopes differ from the
// requested set (in either direction) is ignored, forcing
// re-authorization.
func NewEngine(strategy GrantStrategy, cfg EngineConfig) (*Engine, error) {
	if _, err := url.Parse(cfg.RedirectURI); err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}

	scopes := append([]string(nil), cfg.Scopes...)
	sort.Strings(scopes)

	e := &Engine{
		strategy:    strategy,
		redirectURI: cfg.RedirectURI,
		scopes:      scopes,
		cache:       cfg.Cache,
		authTimeout: cfg.AuthTimeout,
		logger:      cfg.Logger,
		httpClient:  cfg.HTTPClient,
		authURL:     cfg.AuthURL,
		tokenURL:    cfg.TokenURL,
		openBrowser: cfg.OpenBrowser,
	}

	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: tokenHTTPTimeout}
	}

	if e.authURL == "" {
		e.authURL = defaultAuthURL
	}

	if e.tokenURL == "" {
		e.tokenURL = defaultTokenURL
	}

	if e.openBrowser == nil {
		e.openBrowser = openBrowser
	}

	if e.authTimeout <= 0 {
		e.authTimeout = 5 * time.Minute
	}

	e.loadCached()

	return e, nil
}

// loadCached restores the token persisted for this flow, if usable.
func (e *Engine) loadCached() {
	if !e.cache.Enabled {
		return
	}

	tok, err := LoadToken(e.cache, e.strategy.FlowID())
	if err != nil {
		if !errors.Is(err, serrors.ErrTokenNotFound) {
			e.logger.Warn("ignoring unreadable token cache", slog.Any("error", err))
		}

		return
	}

	if err := e.usable(tok); err != nil {
		e.logger.Info("ignoring cached token, re-authorization required",
			slog.Any("reason", err),
			slog.String("flow", e.strategy.FlowID()))

		return
	}

	e.mu.Lock()
	e.token = tok
	e.mu.Unlock()
}

// usable reports why a token from the cache cannot be installed, or nil.
// Scope drift in either direction disqualifies it.
func (e *Engine) usable(tok Token) error {
	if !tok.HasScopes(e.scopes) {
		return serrors.ErrScopeMismatch
	}

	return nil
}

// OnToken registers a callback invoked with every newly issued or
// refreshed token.
func (e *Engine) OnToken(cb TokenCallback) {
	e.mu.Lock()
	e.onToken = cb
	e.mu.Unlock()
}

// Current returns the token as held in memory without triggering any
// network activity. The zero value means not authenticated.
func (e *Engine) Current() Token {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.token
}

// Token returns a fresh access token, transparently refreshing or
// re-authorizing as needed. Concurrent callers share one in-flight
// renewal.
func (e *Engine) Token(ctx context.Context) (Token, error) {
	e.mu.Lock()
	tok := e.token
	e.mu.Unlock()

	if tok.AccessToken != "" && !tok.IsExpired() {
		return tok, nil
	}

	v, err, _ := e.group.Do("renew", func() (interface{}, error) {
		return e.renew(ctx)
	})
	if err != nil {
		return Token{}, err
	}

	return v.(Token), nil
}

// renew re-checks the token under the single-flight guard and drives a
// refresh or full authorization. A provider rejection of the refresh
// token (4xx) recovers by re-authorizing; transport failures and 5xx are
// surfaced so a flaky network never pops a browser window.
func (e *Engine) renew(ctx context.Context) (Token, error) {
	e.mu.Lock()
	tok := e.token
	e.mu.Unlock()

	// Another caller in the same flight window may have renewed already.
	if tok.AccessToken != "" && !tok.IsExpired() {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		return e.Authorize(ctx)
	}

	refreshed, err := e.refresh(ctx, tok)
	if err == nil {
		return refreshed, nil
	}

	if errors.Is(err, serrors.ErrRefreshFailed) {
		e.logger.Info("refresh token rejected, starting re-authorization", slog.Any("cause", err))

		return e.Authorize(ctx)
	}

	return Token{}, err
}

// Refresh forces a refresh of the current token, falling back to a full
// authorization when the provider rejects the refresh token or none is
// held.
func (e *Engine) Refresh(ctx context.Context) (Token, error) {
	v, err, _ := e.group.Do("renew", func() (interface{}, error) {
		e.mu.Lock()
		tok := e.token
		e.mu.Unlock()

		if tok.RefreshToken == "" {
			return e.Authorize(ctx)
		}

		refreshed, err := e.refresh(ctx, tok)
		if err == nil {
			return refreshed, nil
		}

		if errors.Is(err, serrors.ErrRefreshFailed) {
			return e.Authorize(ctx)
		}

		return Token{}, err
	})
	if err != nil {
		return Token{}, err
	}

	return v.(Token), nil
}

// refresh exchanges the refresh token for a new access token.
func (e *Engine) refresh(ctx context.Context, tok Token) (Token, error) {
	form, basic := e.strategy.RefreshForm(tok.RefreshToken)

	body, status, err := e.postForm(ctx, form, basic)
	if err != nil {
		return Token{}, fmt.Errorf("refresh request: %w", err)
	}

	if status >= 400 && status < 500 {
		return Token{}, fmt.Errorf("%w: token endpoint returned %d: %s",
			serrors.ErrRefreshFailed, status, snippet(body))
	}

	if status != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned %d during refresh: %s", status, snippet(body))
	}

	refreshed, err := tok.applyRefreshResponse(body, time.Now())
	if err != nil {
		return Token{}, err
	}

	e.install(refreshed)
	e.logger.Debug("token refreshed", slog.Time("expires_at", refreshed.ExpiresAt))

	return refreshed, nil
}

// Authorize runs the full browser flow: build the authorization URL, open
// it, capture the redirect on the loopback listener, and exchange the
// code. The wait is bounded by the configured timeout and the listener is
// torn down on every path.
func (e *Engine) Authorize(ctx context.Context) (Token, error) {
	state := uuid.NewString()
	challenge := NewCodeChallenge()

	srv, err := newCaptureServer(e.redirectURI, state)
	if err != nil {
		return Token{}, err
	}
	defer srv.shutdown()

	authorizeURL, err := e.buildAuthURL(state, challenge)
	if err != nil {
		return Token{}, err
	}

	fmt.Fprintf(os.Stderr, "Open this URL in your browser to authorize spotify-term:\n%s\n", authorizeURL)

	if err := e.openBrowser(authorizeURL); err != nil {
		e.logger.Debug("could not open browser", slog.Any("error", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.authTimeout)
	defer cancel()

	code, err := srv.wait(waitCtx)
	if err != nil {
		return Token{}, err
	}

	return e.exchange(ctx, code, challenge)
}

// exchange posts the captured code to the token endpoint and installs the
// resulting token.
func (e *Engine) exchange(ctx context.Context, code string, challenge *CodeChallenge) (Token, error) {
	form, basic := e.strategy.ExchangeForm(code, e.redirectURI, challenge)

	body, status, err := e.postForm(ctx, form, basic)
	if err != nil {
		return Token{}, fmt.Errorf("code exchange request: %w", err)
	}

	if status != http.StatusOK {
		return Token{}, fmt.Errorf("%w: token endpoint returned %d: %s",
			serrors.ErrTokenExchange, status, snippet(body))
	}

	tok, err := parseTokenResponse(body, time.Now())
	if err != nil {
		return Token{}, err
	}

	// Providers may omit scope on issuance, meaning the requested set was
	// granted as-is.
	if len(tok.Scopes) == 0 {
		tok.Scopes = append([]string(nil), e.scopes...)
	}

	e.install(tok)
	e.logger.Info("authorized",
		slog.String("flow", e.strategy.FlowID()),
		slog.Time("expires_at", tok.ExpiresAt))

	return tok, nil
}

// install stores the token in memory, persists it, and notifies the
// registered callback. A failed persist is logged and treated as a cache
// miss next time.
func (e *Engine) install(tok Token) {
	e.mu.Lock()
	e.token = tok
	cb := e.onToken
	e.mu.Unlock()

	if e.cache.Enabled {
		if err := tok.Save(e.cache, e.strategy.FlowID()); err != nil {
			e.logger.Warn("persisting token cache failed", slog.Any("error", err))
		}
	}

	if cb != nil {
		cb(tok)
	}
}

// buildAuthURL assembles the provider authorization URL for this grant.
func (e *Engine) buildAuthURL(state string, challenge *CodeChallenge) (string, error) {
	u, err := url.Parse(e.authURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint: %w", err)
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", e.strategy.ClientID())
	q.Set("redirect_uri", e.redirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(e.scopes, " "))

	for key, vals := range e.strategy.AuthParams(challenge) {
		for _, v := range vals {
			q.Set(key, v)
		}
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// postForm sends a form-encoded POST to the token endpoint, optionally
// with HTTP Basic client authentication, and returns the capped body and
// status. Transport errors are returned as-is; the caller classifies
// statuses.
func (e *Engine) postForm(ctx context.Context, form url.Values, basic bool) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if basic {
		creds := e.credentials()
		req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("reading token response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// credentials pulls the client credentials off the strategy for Basic
// auth. Only the authorization-code grant carries a secret.
func (e *Engine) credentials() Credentials {
	if g, ok := e.strategy.(AuthorizationCodeGrant); ok {
		return g.Creds
	}

	return Credentials{ClientID: e.strategy.ClientID()}
}

// snippet truncates a response body for error messages.
func snippet(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	return strings.TrimSpace(string(body))
}

// openBrowser launches the system browser at the given URL.
func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
