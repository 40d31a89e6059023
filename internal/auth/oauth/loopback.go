package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// callbackResult is what the provider's redirect delivers.
type callbackResult struct {
	IDToken string
	State   string
}

// loopback is a short-lived local HTTP server that catches the provider's
// redirect. The callback page runs on the provider's origin, so the server
// allows cross-origin posts.
type loopback struct {
	ln  net.Listener
	srv *http.Server
	ch  chan callbackResult
}

const callbackPage = `<!doctype html><html><body>
<p>Sign-in complete. You can close this window and return to FloraLens.</p>
<script>
  // Implicit-flow tokens arrive in the fragment; repost them to the server.
  if (window.location.hash.length > 1) {
    fetch('/callback?' + window.location.hash.substring(1), {method: 'POST'});
  }
</script>
</body></html>`

func startLoopback(addr string) (*loopback, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &loopback{ln: ln, ch: make(chan callbackResult, 1)}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/callback", l.handleCallback)
	r.Post("/callback", l.handleCallback)

	l.srv = &http.Server{Handler: r}
	go l.srv.Serve(ln)
	return l, nil
}

func (l *loopback) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	idToken := q.Get("id_token")
	if idToken == "" {
		// The token may be in the URL fragment, invisible to the server:
		// serve the page that reposts it.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, callbackPage)
		return
	}

	select {
	case l.ch <- callbackResult{IDToken: idToken, State: q.Get("state")}:
	default:
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, callbackPage)
}

// RedirectURI is the URI registered with the provider for this flow.
func (l *loopback) RedirectURI() string {
	return fmt.Sprintf("http://%s/callback", l.ln.Addr().String())
}

// Wait blocks until the redirect delivers a token or ctx is done.
func (l *loopback) Wait(ctx context.Context) (callbackResult, error) {
	select {
	case res := <-l.ch:
		return res, nil
	case <-ctx.Done():
		return callbackResult{}, errors.New("sign-in timed out waiting for provider redirect")
	}
}

func (l *loopback) Close() {
	l.srv.Close()
}
