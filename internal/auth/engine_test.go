package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/alexjbarnes/spotify-term/internal/errors"
)

// tokenStub is a fake provider token endpoint. It counts requests per
// grant type and records the last form seen for each.
type tokenStub struct {
	srv *httptest.Server

	refreshDelay   time.Duration
	refreshStatus  int
	exchangeStatus int

	mu             sync.Mutex
	exchanges      int
	refreshes      int
	lastExchange   url.Values
	lastRefresh    url.Values
	lastAuthHeader string
}

func newTokenStub(t *testing.T) *tokenStub {
	t.Helper()

	s := &tokenStub{refreshStatus: http.StatusOK, exchangeStatus: http.StatusOK}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		if r.PostForm.Get("grant_type") == "refresh_token" && s.refreshDelay > 0 {
			time.Sleep(s.refreshDelay)
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			s.exchanges++
			s.lastExchange = r.PostForm
			s.lastAuthHeader = r.Header.Get("Authorization")

			if s.exchangeStatus != http.StatusOK {
				w.WriteHeader(s.exchangeStatus)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)

				return
			}

			fmt.Fprintf(w, `{"access_token":"issued-%d","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-1"}`, s.exchanges)

		case "refresh_token":
			s.refreshes++
			s.lastRefresh = r.PostForm

			if s.refreshStatus != http.StatusOK {
				w.WriteHeader(s.refreshStatus)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)

				return
			}

			fmt.Fprintf(w, `{"access_token":"refreshed-%d","token_type":"Bearer","expires_in":3600}`, s.refreshes)

		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported_grant_type"}`)
		}
	}))
	t.Cleanup(s.srv.Close)

	return s
}

func (s *tokenStub) counts() (exchanges, refreshes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.exchanges, s.refreshes
}

// freeLoopbackAddr picks an ephemeral loopback port for a redirect URI.
func freeLoopbackAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	return ln.Addr().String()
}

// completingBrowser simulates the user approving in the browser: it
// parses the authorization URL and hits the redirect URI with the given
// code and the echoed state.
func completingBrowser(t *testing.T, code string, sawAuthURL *string) func(string) error {
	t.Helper()

	return func(authorizeURL string) error {
		u, err := url.Parse(authorizeURL)
		if err != nil {
			return err
		}

		if sawAuthURL != nil {
			*sawAuthURL = authorizeURL
		}

		q := url.Values{}
		q.Set("code", code)
		q.Set("state", u.Query().Get("state"))

		go func() {
			resp, err := http.Get(u.Query().Get("redirect_uri") + "?" + q.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()

		return nil
	}
}

// forbiddenBrowser fails the test if an authorization flow starts.
func forbiddenBrowser(t *testing.T) func(string) error {
	t.Helper()

	return func(string) error {
		t.Error("browser flow started unexpectedly")

		return nil
	}
}

var testScopes = []string{"user-library-read", "user-read-private"}

func testEngineConfig(t *testing.T, stub *tokenStub, browser func(string) error) EngineConfig {
	t.Helper()

	return EngineConfig{
		RedirectURI: "http://" + freeLoopbackAddr(t) + "/callback",
		Scopes:      testScopes,
		Cache:       testCache(t),
		AuthTimeout: 5 * time.Second,
		AuthURL:     "http://127.0.0.1/authorize",
		TokenURL:    stub.srv.URL,
		OpenBrowser: browser,
	}
}

func TestEngine_AuthorizeFlow_PKCE(t *testing.T) {
	stub := newTokenStub(t)

	var authURL string
	cfg := testEngineConfig(t, stub, completingBrowser(t, "good-code", &authURL))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	tok, err := engine.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "issued-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	// The stub omits scope, so the requested set is assumed granted.
	assert.ElementsMatch(t, testScopes, tok.Scopes)
	assert.False(t, tok.IsExpired())

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "user-library-read user-read-private", q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))

	// The exchanged verifier must hash to the challenge advertised in
	// the authorization URL.
	stub.mu.Lock()
	verifier := stub.lastExchange.Get("code_verifier")
	stub.mu.Unlock()
	require.NotEmpty(t, verifier)
	assert.Equal(t, q.Get("code_challenge"), challengeFor(verifier))

	// The new token is persisted for the flow.
	cached, err := LoadToken(cfg.Cache, "pkce")
	require.NoError(t, err)
	assert.Equal(t, "issued-1", cached.AccessToken)
}

func TestEngine_AuthorizeFlow_AuthorizationCode(t *testing.T) {
	stub := newTokenStub(t)
	cfg := testEngineConfig(t, stub, completingBrowser(t, "good-code", nil))

	grant := AuthorizationCodeGrant{Creds: Credentials{ClientID: "cid", ClientSecret: "sec"}}
	engine, err := NewEngine(grant, cfg)
	require.NoError(t, err)

	tok, err := engine.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-1", tok.AccessToken)

	// The exchange authenticates with the client secret over Basic.
	stub.mu.Lock()
	authHeader := stub.lastAuthHeader
	verifier := stub.lastExchange.Get("code_verifier")
	stub.mu.Unlock()

	assert.Contains(t, authHeader, "Basic ")
	assert.Empty(t, verifier)
}

func TestEngine_UsesCachedToken(t *testing.T) {
	stub := newTokenStub(t)
	cfg := testEngineConfig(t, stub, forbiddenBrowser(t))
	cfg.AuthTimeout = 100 * time.Millisecond

	cached := Token{
		AccessToken: "cached",
		TokenType:   "Bearer",
		Scopes:      testScopes,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, cached.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	tok, err := engine.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)

	exchanges, refreshes := stub.counts()
	assert.Zero(t, exchanges)
	assert.Zero(t, refreshes)
}

func TestEngine_ScopeDriftIgnoresCache(t *testing.T) {
	stub := newTokenStub(t)
	cfg := testEngineConfig(t, stub, forbiddenBrowser(t))

	drifted := Token{
		AccessToken: "cached",
		Scopes:      []string{"user-library-read"},
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, drifted.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	assert.Empty(t, engine.Current().AccessToken)
}

func TestEngine_RefreshesExpiredToken(t *testing.T) {
	stub := newTokenStub(t)
	cfg := testEngineConfig(t, stub, forbiddenBrowser(t))
	cfg.AuthTimeout = 100 * time.Millisecond

	expired := Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		Scopes:       testScopes,
		RefreshToken: "rt-0",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, expired.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	tok, err := engine.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "refreshed-1", tok.AccessToken)
	// Omitted on refresh, so both carry over.
	assert.Equal(t, "rt-0", tok.RefreshToken)
	assert.ElementsMatch(t, testScopes, tok.Scopes)

	exchanges, refreshes := stub.counts()
	assert.Zero(t, exchanges)
	assert.Equal(t, 1, refreshes)

	stub.mu.Lock()
	form := stub.lastRefresh
	stub.mu.Unlock()
	assert.Equal(t, "rt-0", form.Get("refresh_token"))
}

func TestEngine_RefreshRejectionFallsBackToAuthorize(t *testing.T) {
	stub := newTokenStub(t)
	stub.refreshStatus = http.StatusBadRequest

	cfg := testEngineConfig(t, stub, completingBrowser(t, "good-code", nil))

	expired := Token{
		AccessToken:  "stale",
		Scopes:       testScopes,
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, expired.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	tok, err := engine.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-1", tok.AccessToken)

	exchanges, refreshes := stub.counts()
	assert.Equal(t, 1, exchanges)
	assert.Equal(t, 1, refreshes)
}

func TestEngine_RefreshServerErrorSurfaces(t *testing.T) {
	stub := newTokenStub(t)
	stub.refreshStatus = http.StatusInternalServerError

	cfg := testEngineConfig(t, stub, forbiddenBrowser(t))
	cfg.AuthTimeout = 100 * time.Millisecond

	expired := Token{
		AccessToken:  "stale",
		Scopes:       testScopes,
		RefreshToken: "rt-0",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, expired.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	_, err = engine.Token(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, serrors.ErrRefreshFailed)

	exchanges, _ := stub.counts()
	assert.Zero(t, exchanges)
}

func TestEngine_ExchangeFailure(t *testing.T) {
	stub := newTokenStub(t)
	stub.exchangeStatus = http.StatusBadRequest

	cfg := testEngineConfig(t, stub, completingBrowser(t, "bad-code", nil))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	_, err = engine.Token(context.Background())
	assert.ErrorIs(t, err, serrors.ErrTokenExchange)
}

func TestEngine_AuthorizationTimesOut(t *testing.T) {
	stub := newTokenStub(t)

	// The browser never completes the flow.
	cfg := testEngineConfig(t, stub, func(string) error { return nil })
	cfg.AuthTimeout = 50 * time.Millisecond

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	_, err = engine.Token(context.Background())
	assert.ErrorIs(t, err, serrors.ErrAuthorizationTimeout)
}

func TestEngine_ConcurrentCallersShareOneRefresh(t *testing.T) {
	stub := newTokenStub(t)
	stub.refreshDelay = 100 * time.Millisecond

	cfg := testEngineConfig(t, stub, forbiddenBrowser(t))
	cfg.AuthTimeout = 100 * time.Millisecond

	expired := Token{
		AccessToken:  "stale",
		Scopes:       testScopes,
		RefreshToken: "rt-0",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, expired.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	const callers = 10

	var wg sync.WaitGroup
	tokens := make([]Token, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = engine.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-1", tokens[i].AccessToken)
	}

	_, refreshes := stub.counts()
	assert.Equal(t, 1, refreshes)
}

func TestEngine_ForcedRefresh(t *testing.T) {
	stub := newTokenStub(t)
	cfg := testEngineConfig(t, stub, forbiddenBrowser(t))
	cfg.AuthTimeout = 100 * time.Millisecond

	// Still valid, but Refresh renews regardless.
	valid := Token{
		AccessToken:  "valid",
		Scopes:       testScopes,
		RefreshToken: "rt-0",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, valid.Save(cfg.Cache, "pkce"))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	tok, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", tok.AccessToken)

	_, refreshes := stub.counts()
	assert.Equal(t, 1, refreshes)
}

func TestEngine_OnTokenCallback(t *testing.T) {
	stub := newTokenStub(t)
	cfg := testEngineConfig(t, stub, completingBrowser(t, "good-code", nil))

	engine, err := NewEngine(PKCEGrant{ID: "cid"}, cfg)
	require.NoError(t, err)

	var got Token
	engine.OnToken(func(tok Token) { got = tok })

	_, err = engine.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "issued-1", got.AccessToken)
}
