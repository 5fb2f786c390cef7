package e2e_test

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/spotify-term/internal/auth"
	"github.com/alexjbarnes/spotify-term/internal/spotify"
)

const (
	testClientID = "e2e-client-id"
	testSecret   = "e2e-client-secret"
)

var testScopes = []string{"user-library-read", "user-read-private"}

// issuedCode is an authorization code pending exchange, with the PKCE
// challenge it was bound to (empty for the plain authorization-code
// grant).
type issuedCode struct {
	challenge string
}

// provider fakes the Spotify account service and Web API in one server:
// /authorize and /api/token drive the OAuth flows, /v1/* serves a small
// saved-tracks library guarded by the tokens the provider itself issued.
type provider struct {
	srv *httptest.Server

	mu        sync.Mutex
	codes     map[string]issuedCode
	access    map[string]bool
	refresh   map[string]bool
	issued    int
	exchanges int
	refreshes int

	// expiresIn is stamped on the next issued token.
	expiresIn int

	// totalTracks sizes the fake saved-tracks library.
	totalTracks int
}

func newProvider(t *testing.T) *provider {
	t.Helper()

	p := &provider{
		codes:       make(map[string]issuedCode),
		access:      make(map[string]bool),
		refresh:     make(map[string]bool),
		expiresIn:   3600,
		totalTracks: 5,
	}

	r := chi.NewRouter()
	r.Get("/authorize", p.handleAuthorize)
	r.Post("/api/token", p.handleToken)
	r.Get("/v1/me", p.requireToken(p.handleMe))
	r.Get("/v1/me/tracks", p.requireToken(p.handleSavedTracks))

	p.srv = httptest.NewServer(r)
	t.Cleanup(p.srv.Close)

	return p
}

// handleAuthorize plays the user approving instantly: issue a code bound
// to the presented challenge and bounce to the redirect URI.
func (p *provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p.mu.Lock()
	p.issued++
	code := fmt.Sprintf("code-%d", p.issued)
	p.codes[code] = issuedCode{challenge: q.Get("code_challenge")}
	p.mu.Unlock()

	cb := url.Values{}
	cb.Set("code", code)
	cb.Set("state", q.Get("state"))

	http.Redirect(w, r, q.Get("redirect_uri")+"?"+cb.Encode(), http.StatusFound)
}

func (p *provider) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	w.Header().Set("Content-Type", "application/json")

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.mu.Lock()
		defer p.mu.Unlock()

		p.exchanges++

		issued, ok := p.codes[r.PostForm.Get("code")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)

			return
		}
		delete(p.codes, r.PostForm.Get("code"))

		if issued.challenge != "" {
			if s256(r.PostForm.Get("code_verifier")) != issued.challenge {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant","error_description":"verifier mismatch"}`)

				return
			}
		} else if !p.validBasicAuth(r) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_client"}`)

			return
		}

		p.writeTokenLocked(w)

	case "refresh_token":
		p.mu.Lock()
		defer p.mu.Unlock()

		p.refreshes++

		if !p.refresh[r.PostForm.Get("refresh_token")] {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)

			return
		}

		p.writeTokenLocked(w)

	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"unsupported_grant_type"}`)
	}
}

// writeTokenLocked mints and records a token pair. Caller holds p.mu.
func (p *provider) writeTokenLocked(w http.ResponseWriter) {
	access := fmt.Sprintf("access-%d", p.exchanges+p.refreshes)
	refresh := fmt.Sprintf("refresh-%d", p.exchanges+p.refreshes)
	p.access[access] = true
	p.refresh[refresh] = true

	fmt.Fprintf(w, `{
		"access_token": %q,
		"token_type": "Bearer",
		"scope": %q,
		"expires_in": %d,
		"refresh_token": %q
	}`, access, strings.Join(testScopes, " "), p.expiresIn, refresh)
}

func (p *provider) validBasicAuth(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()

	return ok && id == testClientID && secret == testSecret
}

// requireToken rejects requests whose bearer token was never issued.
func (p *provider) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		p.mu.Lock()
		ok := p.access[token]
		p.mu.Unlock()

		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"status":401,"message":"Invalid access token"}}`)

			return
		}

		next(w, r)
	}
}

func (p *provider) handleMe(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"id":"e2e-user","display_name":"E2E User","product":"premium"}`)
}

func (p *provider) handleSavedTracks(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	p.mu.Lock()
	total := p.totalTracks
	p.mu.Unlock()

	pageURL := func(off int) string {
		return fmt.Sprintf("%s/v1/me/tracks?limit=%d&offset=%d", p.srv.URL, limit, off)
	}

	next := "null"
	if offset+limit < total {
		next = strconv.Quote(pageURL(offset + limit))
	}

	previous := "null"
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		previous = strconv.Quote(pageURL(prev))
	}

	var items []string
	for i := offset; i < offset+limit && i < total; i++ {
		items = append(items, fmt.Sprintf(
			`{"added_at":"2024-01-0%dT00:00:00Z","track":{"id":"t%d","name":"Track %d","artists":[{"id":"a%d","name":"Artist %d"}]}}`,
			i+1, i, i, i, i))
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
		"href": %q,
		"limit": %d,
		"offset": %d,
		"total": %d,
		"next": %s,
		"previous": %s,
		"items": [%s]
	}`, pageURL(offset), limit, offset, total, next, previous, strings.Join(items, ","))
}

func (p *provider) stats() (exchanges, refreshes int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exchanges, p.refreshes
}

func (p *provider) setExpiresIn(seconds int) {
	p.mu.Lock()
	p.expiresIn = seconds
	p.mu.Unlock()
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// freeLoopbackAddr picks an ephemeral loopback port for the redirect URI.
func freeLoopbackAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	return ln.Addr().String()
}

// approvingBrowser simulates the user's browser: it fetches the
// authorization URL and follows the provider's redirect back to the
// loopback capture server.
func approvingBrowser() func(string) error {
	return func(authorizeURL string) error {
		go func() {
			resp, err := http.Get(authorizeURL)
			if err == nil {
				resp.Body.Close()
			}
		}()

		return nil
	}
}

// newEngine wires an engine against the fake provider.
func newEngine(t *testing.T, p *provider, strategy auth.GrantStrategy, cacheDir string) *auth.Engine {
	t.Helper()

	engine, err := auth.NewEngine(strategy, auth.EngineConfig{
		RedirectURI: "http://" + freeLoopbackAddr(t) + "/callback",
		Scopes:      testScopes,
		Cache:       auth.CacheConfig{Dir: cacheDir, Enabled: true},
		AuthTimeout: 10 * time.Second,
		AuthURL:     p.srv.URL + "/authorize",
		TokenURL:    p.srv.URL + "/api/token",
		OpenBrowser: approvingBrowser(),
	})
	require.NoError(t, err)

	return engine
}

// newAPIClient points a Spotify client at the fake provider's API.
func newAPIClient(p *provider, engine *auth.Engine) *spotify.Client {
	return spotify.NewClient(engine, p.srv.Client(), spotify.WithBaseURL(p.srv.URL+"/v1"))
}
