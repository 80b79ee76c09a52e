package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avolkov/mxauth/internal/id"
)

func newTestResolver(t *testing.T, handler http.Handler, cacheTTL time.Duration) (*Resolver, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	r := NewResolver(srv.Client(), cacheTTL, nil)
	r.wellKnownURL = func(domain string) string {
		return srv.URL + "/.well-known/matrix/client"
	}
	return r, &hits
}

func mustParse(t *testing.T, raw string) id.UserID {
	t.Helper()
	uid, err := id.Parse(raw)
	require.NoError(t, err)
	return uid
}

func TestResolveWellKnownWins(t *testing.T) {
	r, _ := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/.well-known/matrix/client", req.URL.Path)
		_, _ = w.Write([]byte(`{"m.homeserver":{"base_url":"https://matrix.example.org"}}`))
	}), 0)

	hs, err := r.Resolve(context.Background(), mustParse(t, "@alice:example.org"))
	require.NoError(t, err)
	require.Equal(t, "https://matrix.example.org", hs.URL())
}

func TestResolveAbsentWellKnownFallsBack(t *testing.T) {
	r, _ := newTestResolver(t, http.NotFoundHandler(), 0)

	hs, err := r.Resolve(context.Background(), mustParse(t, "@alice:example.org"))
	require.NoError(t, err)
	require.Equal(t, "https://example.org", hs.URL())
}

func TestResolveMalformedWellKnownFallsBack(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"empty base_url", `{"m.homeserver":{"base_url":""}}`},
		{"invalid base_url", `{"m.homeserver":{"base_url":"not a url"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}), 0)

			hs, err := r.Resolve(context.Background(), mustParse(t, "@alice:example.org"))
			require.NoError(t, err)
			require.Equal(t, "https://example.org", hs.URL())
		})
	}
}

func TestResolveTransportErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	r := NewResolver(&http.Client{Timeout: time.Second}, 0, nil)
	r.wellKnownURL = func(string) string { return srv.URL + "/.well-known/matrix/client" }

	_, err := r.Resolve(context.Background(), mustParse(t, "@alice:example.org"))
	require.ErrorIs(t, err, ErrNetwork)
}

func TestResolveBadDomainFails(t *testing.T) {
	r, _ := newTestResolver(t, http.NotFoundHandler(), 0)
	// Force both paths to produce an unusable URL.
	r.fallbackBase = func(string) string { return "://nope" }

	_, err := r.ResolveDomain(context.Background(), "example.org")
	require.ErrorIs(t, err, ErrResolutionFailed)
}

func TestResolveCaches(t *testing.T) {
	r, hits := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"m.homeserver":{"base_url":"https://matrix.example.org"}}`))
	}), time.Minute)

	uid := mustParse(t, "@alice:example.org")
	for i := 0; i < 3; i++ {
		hs, err := r.Resolve(context.Background(), uid)
		require.NoError(t, err)
		require.Equal(t, "https://matrix.example.org", hs.URL())
	}
	require.Equal(t, int64(1), hits.Load())
}
