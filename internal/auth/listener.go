package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	serrors "github.com/alexjbarnes/spotify-term/internal/errors"
)

const (
	// defaultCallbackPort is used when the redirect URI does not encode
	// a port.
	defaultCallbackPort = "8888"

	// listenerShutdownTimeout bounds the capture server teardown after a
	// result has been delivered.
	listenerShutdownTimeout = 3 * time.Second
)

// successPage is written to the browser when a code was captured.
const successPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>spotify-term</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
<h1>Authorized</h1>
<p>spotify-term received the authorization code. You can close this tab.</p>
</body>
</html>`

// failurePage renders the error shown in the browser. The message is
// escaped because it can echo a provider-supplied error string.
var failurePage = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>spotify-term</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
<h1>Authorization failed</h1>
<p>{{.}}</p>
<p>Return to the terminal and try again.</p>
</body>
</html>`))

// callbackResult carries the outcome of one redirect hit.
type callbackResult struct {
	code string
	err  error
}

// captureServer is a short-lived, single-use loopback HTTP listener that
// turns the provider's redirect into a captured authorization code.
// Each accepted connection runs on its own goroutine, so a stalled
// connection never blocks capturing a later, correct one. At most one
// result is ever delivered; hits after completion get a response but are
// not observed by the waiter.
type captureServer struct {
	srv     *http.Server
	addr    string
	results chan callbackResult
}

// newCaptureServer binds the loopback port encoded in the redirect URI
// (falling back to defaultCallbackPort) and starts serving the callback
// path. Non-loopback redirect hosts are rejected.
func newCaptureServer(redirectURI, expectedState string) (*captureServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}

	if !isLoopbackHost(u.Hostname()) {
		return nil, fmt.Errorf("redirect URI host %q is not a loopback address", u.Hostname())
	}

	port := u.Port()
	if port == "" {
		port = defaultCallbackPort
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	s := &captureServer{
		results: make(chan callbackResult, 1),
	}

	router := chi.NewRouter()
	router.Get(path, s.handleCallback(expectedState))

	addr := net.JoinHostPort(u.Hostname(), port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding callback listener on %s: %w", addr, err)
	}

	// The listener's address, not the requested one, so a ":0" request in
	// tests reports the bound port.
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		// ErrServerClosed is the normal teardown path.
		_ = s.srv.Serve(ln)
	}()

	return s, nil
}

// handleCallback parses code/error/state from the redirect query string.
// A state mismatch is a CSRF rejection: the code is not honored even when
// present.
func (s *captureServer) handleCallback(expectedState string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if errParam := q.Get("error"); errParam != "" {
			s.fail(w, fmt.Errorf("%w: provider returned %q", serrors.ErrAuthorizationDenied, errParam))
			return
		}

		if q.Get("state") != expectedState {
			s.fail(w, serrors.ErrCSRFMismatch)
			return
		}

		code := q.Get("code")
		if code == "" {
			s.fail(w, fmt.Errorf("%w: callback carried no code", serrors.ErrAuthorizationDenied))
			return
		}

		s.deliver(callbackResult{code: code})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(successPage))
	}
}

func (s *captureServer) fail(w http.ResponseWriter, err error) {
	s.deliver(callbackResult{err: err})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = failurePage.Execute(w, err.Error())
}

// deliver sends a result without blocking. Only the first result is kept;
// the channel is buffered for exactly one.
func (s *captureServer) deliver(res callbackResult) {
	select {
	case s.results <- res:
	default:
	}
}

// wait blocks until a callback result arrives or the context ends.
// A deadline expiry is surfaced as ErrAuthorizationTimeout, the primary
// failure mode when the user never completes the browser flow.
func (s *captureServer) wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", serrors.ErrAuthorizationTimeout
		}

		return "", ctx.Err()

	case res := <-s.results:
		return res.code, res.err
	}
}

// shutdown tears the listener down. Called on both completion and
// timeout so the port is always released.
func (s *captureServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), listenerShutdownTimeout)
	defer cancel()

	_ = s.srv.Shutdown(ctx)
}

// isLoopbackHost reports whether host resolves trivially to loopback.
func isLoopbackHost(host string) bool {
	h := strings.ToLower(host)
	if h == "localhost" {
		return true
	}

	ip := net.ParseIP(h)

	return ip != nil && ip.IsLoopback()
}
