// Package sso drives single-sign-on through an external browser: it builds
// the homeserver's SSO redirect URL, opens it, waits for the redirect back
// to the app, and extracts the short-lived login token. At most one SSO
// session may be in flight per controller.
package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/avolkov/mxauth/internal/logging"
	"github.com/avolkov/mxauth/internal/matrix"
)

var (
	// ErrBadState is returned by Start while another session is active.
	// A contract violation by the caller, not a transient condition.
	ErrBadState = errors.New("sso session already in progress")

	// ErrMissingToken means the callback URL carried no loginToken
	// parameter.
	ErrMissingToken = errors.New("callback url missing loginToken")

	// ErrCancelled is returned by Start after Cancel tore the session down.
	ErrCancelled = errors.New("sso login cancelled")
)

// State is the controller's lifecycle position. Terminal outcomes reset the
// controller to StateIdle before Start returns, so the states observable
// from outside are only Idle, Launching and AwaitingCallback.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateAwaitingCallback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateAwaitingCallback:
		return "awaiting-callback"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is one in-flight browser authentication, produced by a Browser.
type Session interface {
	// Wait blocks until the browser delivers the callback URL, the session
	// fails, or ctx is done.
	Wait(ctx context.Context) (*url.URL, error)

	// Cancel tears the browser session down and releases its resources.
	// It must not return before teardown is complete; Wait unblocks with
	// an error afterwards.
	Cancel(ctx context.Context) error
}

// Browser opens an authentication URL in an external user agent and
// intercepts the redirect back.
type Browser interface {
	Open(ctx context.Context, authURL string) (Session, error)
}

// Controller is the single-session SSO state machine.
type Controller struct {
	browser Browser
	// RedirectURL is the callback the homeserver redirects to after the
	// provider authenticates the user. It must match what the browser
	// integration intercepts exactly, or the flow never completes.
	redirectURL string
	log         logging.Logger

	mu      sync.Mutex
	state   State
	session Session
	cancels chan struct{}
}

// NewController constructs a Controller. A nil log discards.
func NewController(browser Browser, redirectURL string, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Discard()
	}
	return &Controller{
		browser:     browser,
		redirectURL: redirectURL,
		log:         log.With("component", "sso"),
	}
}

// State reports the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RedirectURL builds the homeserver redirect entry point for a provider:
// {base}/_matrix/client/v3/login/sso/redirect/{providerId}?redirectUrl=...
func RedirectURL(hs matrix.Homeserver, providerID, redirectURL string) string {
	return hs.Path("/_matrix/client/v3/login/sso/redirect/"+url.PathEscape(providerID)) +
		"?redirectUrl=" + url.QueryEscape(redirectURL)
}

// Start runs one complete SSO session and returns the extracted login
// token. It fails fast with ErrBadState if a session is already active. Any
// outcome, success or not, leaves the controller Idle so a later Start is
// valid.
func (c *Controller) Start(ctx context.Context, hs matrix.Homeserver, providerID string) (string, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return "", ErrBadState
	}
	c.state = StateLaunching
	cancels := make(chan struct{})
	c.cancels = cancels
	c.mu.Unlock()

	sid := uuid.NewString()
	log := c.log.With("session_id", sid, "provider", providerID)
	defer c.reset()

	sess, err := c.browser.Open(ctx, RedirectURL(hs, providerID, c.redirectURL))
	if err != nil {
		log.Error(ctx, "failed to open browser", "err", err)
		return "", fmt.Errorf("open browser: %w", err)
	}

	c.mu.Lock()
	select {
	case <-cancels:
		// Cancel landed while the browser was launching; tear the fresh
		// session down instead of waiting for a callback nobody expects.
		c.mu.Unlock()
		_ = sess.Cancel(ctx)
		log.Info(ctx, "sso login cancelled")
		return "", ErrCancelled
	default:
	}
	c.state = StateAwaitingCallback
	c.session = sess
	c.mu.Unlock()
	log.Info(ctx, "awaiting sso callback")

	cb, err := sess.Wait(ctx)
	select {
	case <-cancels:
		// Cancel won the race: report cancellation regardless of how Wait
		// unblocked.
		log.Info(ctx, "sso login cancelled")
		return "", ErrCancelled
	default:
	}
	if err != nil {
		log.Error(ctx, "sso session failed", "err", err)
		return "", err
	}

	token := cb.Query().Get("loginToken")
	if token == "" {
		log.Error(ctx, "callback carried no login token")
		return "", ErrMissingToken
	}

	log.Info(ctx, "sso callback received")
	return token, nil
}

// Cancel aborts the in-flight session, tearing down the browser resource
// before returning. A cancel that lands while the browser is still
// launching makes the pending Start return ErrCancelled once the launch
// completes. Cancelling an idle controller is a no-op.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	cancels := c.cancels
	c.session = nil
	c.cancels = nil
	c.mu.Unlock()

	if cancels != nil {
		close(cancels)
	}
	if sess == nil {
		return nil
	}
	return sess.Cancel(ctx)
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.state = StateIdle
	c.session = nil
	c.cancels = nil
	c.mu.Unlock()
}
