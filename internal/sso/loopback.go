package sso

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolkov/mxauth/internal/logging"
)

// launchCommand is a test seam for opening the system browser.
var launchCommand = func(ctx context.Context, u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", u)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", u)
	}
	return cmd.Start()
}

// LoopbackBrowser implements Browser with a loopback HTTP listener: the
// homeserver redirects the user's browser to http://{addr}/callback, which
// this process intercepts. The process cannot register a custom URL scheme
// the way a desktop app bundle can, so the redirect URL configured on the
// controller must point at this listener.
type LoopbackBrowser struct {
	addr string
	log  logging.Logger
}

// NewLoopbackBrowser listens on addr (e.g. "127.0.0.1:29600") when a
// session opens. A nil log discards.
func NewLoopbackBrowser(addr string, log logging.Logger) *LoopbackBrowser {
	if log == nil {
		log = logging.Discard()
	}
	return &LoopbackBrowser{addr: addr, log: log.With("component", "loopback-browser")}
}

// CallbackURL returns the redirect URL a controller should be configured
// with for this listener.
func (b *LoopbackBrowser) CallbackURL() string {
	return "http://" + b.addr + "/callback"
}

func (b *LoopbackBrowser) Open(ctx context.Context, authURL string) (Session, error) {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return nil, fmt.Errorf("listen for sso callback: %w", err)
	}

	s := &loopbackSession{
		result: make(chan *url.URL, 1),
		closed: make(chan struct{}),
		log:    b.log,
	}

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		select {
		case s.result <- req.URL:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body>Login complete. You can close this window.</body></html>"))
		default:
			http.Error(w, "already handled", http.StatusGone)
		}
	})

	s.server = &http.Server{Handler: r}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error(ctx, "callback listener failed", "err", err)
		}
	}()

	if err := launchCommand(ctx, authURL); err != nil {
		_ = s.teardown(ctx)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b.log.Info(ctx, "browser launched", "listen", b.addr)
	return s, nil
}

type loopbackSession struct {
	server *http.Server
	result chan *url.URL
	log    logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *loopbackSession) Wait(ctx context.Context) (*url.URL, error) {
	select {
	case u := <-s.result:
		// Give the browser a moment to receive the response page, then
		// release the port.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return u, nil
	case <-s.closed:
		return nil, ErrCancelled
	case <-ctx.Done():
		_ = s.teardown(context.WithoutCancel(ctx))
		return nil, ctx.Err()
	}
}

func (s *loopbackSession) Cancel(ctx context.Context) error {
	return s.teardown(ctx)
}

func (s *loopbackSession) teardown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.server.Close()
	})
	return err
}
