// Package login coordinates one login attempt end to end: identifier
// parsing, homeserver resolution, flow negotiation, password or SSO
// credential exchange, session persistence, and the optional save-to-vault
// step. One Orchestrator owns one attempt; it is discarded on success or
// when the user gives up.
package login

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avolkov/mxauth/internal/id"
	"github.com/avolkov/mxauth/internal/logging"
	"github.com/avolkov/mxauth/internal/matrix"
	"github.com/avolkov/mxauth/internal/secret"
	"github.com/avolkov/mxauth/internal/store"
	"github.com/avolkov/mxauth/internal/vault"
)

var (
	// ErrBadState means the operation is not valid in the attempt's
	// current state (e.g. Login before DiscoverServer, or a second
	// credential exchange while one is in flight).
	ErrBadState = errors.New("operation not valid in current login state")

	// ErrAlreadyLoggedIn means the session store already holds an account
	// for the identifier; the duplicate-account guard fires before any
	// network I/O.
	ErrAlreadyLoggedIn = errors.New("account already logged in")

	// ErrMissingParam means required input (e.g. the password) is absent.
	ErrMissingParam = errors.New("missing required parameter")
)

// State is the attempt's position in the login lifecycle.
type State int

const (
	// StateEmpty: nothing discovered yet. Username may be edited freely.
	StateEmpty State = iota
	// StateDiscovering: resolution/negotiation I/O in flight.
	StateDiscovering
	// StateFlowsKnown: homeserver and flows are set (always together);
	// credential exchange may begin.
	StateFlowsKnown
	// StateAuthenticating: a password or SSO exchange is in flight. At
	// most one at a time.
	StateAuthenticating
	// StateAuthenticated: the session has been persisted; the attempt is
	// finished.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateDiscovering:
		return "discovering"
	case StateFlowsKnown:
		return "flows-known"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HomeserverResolver abstracts internal/discovery for testing.
type HomeserverResolver interface {
	Resolve(ctx context.Context, uid id.UserID) (matrix.Homeserver, error)
}

// SSOStarter abstracts the SSO controller: Start yields a login token.
type SSOStarter interface {
	Start(ctx context.Context, hs matrix.Homeserver, providerID string) (string, error)
	Cancel(ctx context.Context) error
}

// ClientFactory builds an API client for a resolved homeserver.
type ClientFactory func(hs matrix.Homeserver) matrix.Client

// ConfirmSaveFunc asks the user whether a freshly typed password should be
// saved to the vault. An out-of-band UI concern; called only after a
// successful password login with a non-vault password.
type ConfirmSaveFunc func(ctx context.Context, account string) bool

// Deps are the orchestrator's collaborators, all injected so tests can
// substitute fakes.
type Deps struct {
	Resolver    HomeserverResolver
	NewClient   ClientFactory
	Store       store.AccountStore
	Vault       vault.Vault
	SSO         SSOStarter
	ConfirmSave ConfirmSaveFunc
	// DeviceName is sent as initial_device_display_name on login.
	DeviceName string
	Log        logging.Logger
}

// Orchestrator is the per-attempt state machine. Methods are safe for
// concurrent use; the state machine serializes credential exchanges.
type Orchestrator struct {
	deps Deps

	mu         sync.Mutex
	state      State
	username   string
	password   string
	fromVault  bool
	uid        id.UserID
	homeserver matrix.Homeserver
	flows      []matrix.LoginFlow
	lastErr    error
	loggedInAs id.UserID
}

// New constructs an Orchestrator in StateEmpty.
func New(deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	deps.Log = deps.Log.With("component", "login")
	return &Orchestrator{deps: deps}
}

// State reports the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the most recent surfaced error, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Flows returns the negotiated flows, in server order. Nil until
// StateFlowsKnown.
func (o *Orchestrator) Flows() []matrix.LoginFlow {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flows
}

// Homeserver returns the resolved homeserver. Zero until StateFlowsKnown.
func (o *Orchestrator) Homeserver() matrix.Homeserver {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.homeserver
}

// PasswordPrefilled reports whether the password was pre-filled from the
// vault during discovery. A pre-filled password skips the save prompt.
func (o *Orchestrator) PasswordPrefilled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fromVault
}

// UserID returns the parsed identifier once DiscoverServer accepted it.
func (o *Orchestrator) UserID() id.UserID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.uid
}

// LoggedInAs returns the authenticated user id once StateAuthenticated.
func (o *Orchestrator) LoggedInAs() id.UserID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loggedInAs
}

// SetUsername records the raw identifier input. Changing it invalidates any
// discovered homeserver and flows: the attempt drops back to StateEmpty so
// discovery runs again.
func (o *Orchestrator) SetUsername(username string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if username == o.username {
		return
	}
	o.username = username
	o.flows = nil
	o.homeserver = matrix.Homeserver{}
	o.uid = id.UserID{}
	o.fromVault = false
	if o.state == StateFlowsKnown {
		o.state = StateEmpty
	}
}

// SetPassword records the raw password input, marking it user-typed.
func (o *Orchestrator) SetPassword(password string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.password = password
	o.fromVault = false
}

// DiscoverServer runs the discovery phase for the current username: parse,
// duplicate-account guard (no network), homeserver resolution, vault
// pre-fill, flow negotiation. On success the attempt is StateFlowsKnown; on
// failure it returns to StateEmpty with the error surfaced.
func (o *Orchestrator) DiscoverServer(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateDiscovering || o.state == StateAuthenticating {
		o.mu.Unlock()
		return ErrBadState
	}
	username := o.username
	o.lastErr = nil

	uid, err := id.Parse(username)
	if err != nil {
		o.state = StateEmpty
		o.lastErr = err
		o.mu.Unlock()
		return err
	}
	o.uid = uid
	o.state = StateDiscovering
	o.mu.Unlock()

	hs, flows, prefill, err := o.discover(ctx, uid)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = StateEmpty
		o.lastErr = err
		return err
	}

	// Homeserver and flows become visible together, never separately.
	o.homeserver = hs
	o.flows = flows
	if prefill != "" && o.password == "" {
		o.password = prefill
		o.fromVault = true
	}
	o.state = StateFlowsKnown
	return nil
}

func (o *Orchestrator) discover(ctx context.Context, uid id.UserID) (matrix.Homeserver, []matrix.LoginFlow, string, error) {
	log := o.deps.Log

	// Duplicate-account guard: deliberately before any network I/O.
	_, err := o.deps.Store.GetAccountInfo(ctx, uid.String())
	switch {
	case err == nil:
		log.Warn(ctx, "account already present", "user_id", uid.String())
		return matrix.Homeserver{}, nil, "", fmt.Errorf("%w: %s", ErrAlreadyLoggedIn, uid.String())
	case !errors.Is(err, store.ErrNotFound):
		return matrix.Homeserver{}, nil, "", fmt.Errorf("session store lookup: %w", err)
	}

	hs, err := o.deps.Resolver.Resolve(ctx, uid)
	if err != nil {
		return matrix.Homeserver{}, nil, "", err
	}

	// Best effort: a stored password lets the front end log in without
	// prompting. Absence and unreadable entries both come back ErrNotFound.
	prefill := ""
	if o.deps.Vault != nil {
		if pw, err := o.deps.Vault.Load(ctx, hs.URL(), uid.String()); err == nil {
			log.Info(ctx, "password pre-filled from vault", "user_id", uid.String())
			prefill = pw
		}
	}

	flows, err := o.deps.NewClient(hs).GetLoginFlows(ctx)
	if err != nil {
		return matrix.Homeserver{}, nil, "", err
	}

	log.Info(ctx, "discovery complete", "user_id", uid.String(), "homeserver", hs.URL(), "flows", len(flows))
	return hs, flows, prefill, nil
}

// DiscoverServerURL runs discovery for a raw homeserver URL instead of a
// username. No identifier is known yet, so the duplicate-account guard and
// vault pre-fill are skipped; the user id is learned at login time.
func (o *Orchestrator) DiscoverServerURL(ctx context.Context, rawURL string) error {
	o.mu.Lock()
	if o.state == StateDiscovering || o.state == StateAuthenticating {
		o.mu.Unlock()
		return ErrBadState
	}
	o.lastErr = nil

	hs, err := matrix.NewHomeserver(rawURL)
	if err != nil {
		o.state = StateEmpty
		o.lastErr = err
		o.mu.Unlock()
		return err
	}
	o.state = StateDiscovering
	o.mu.Unlock()

	flows, err := o.deps.NewClient(hs).GetLoginFlows(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = StateEmpty
		o.lastErr = err
		return err
	}
	o.homeserver = hs
	o.flows = flows
	o.state = StateFlowsKnown
	return nil
}

// Login exchanges the current username/password for a session. Valid only
// in StateFlowsKnown. On success the session is persisted, the password is
// offered to the vault (unless it came from the vault), secrets are wiped,
// and the attempt finishes in StateAuthenticated. On failure the attempt
// returns to StateFlowsKnown so the user can retry.
func (o *Orchestrator) Login(ctx context.Context) (id.UserID, error) {
	o.mu.Lock()
	if o.state != StateFlowsKnown {
		o.mu.Unlock()
		return id.UserID{}, ErrBadState
	}
	if o.password == "" {
		err := fmt.Errorf("%w: password", ErrMissingParam)
		o.lastErr = err
		o.mu.Unlock()
		return id.UserID{}, err
	}
	username, password, fromVault, hs := o.username, o.password, o.fromVault, o.homeserver
	o.state = StateAuthenticating
	o.lastErr = nil
	o.mu.Unlock()

	result, err := o.deps.NewClient(hs).LoginPassword(ctx, username, password, o.deps.DeviceName)
	if err != nil {
		o.fail(err)
		return id.UserID{}, err
	}

	if !fromVault && o.deps.ConfirmSave != nil && o.deps.Vault != nil &&
		o.deps.ConfirmSave(ctx, result.UserID.String()) {
		// Key the saved password on the homeserver discovery resolved, the
		// same key the pre-fill lookup uses. The login response may advertise
		// a different base URL; saving under that would orphan the entry.
		err := o.deps.Vault.Save(ctx, hs.URL(), result.UserID.String(), password,
			vault.Policy{RequireUserPresence: true})
		if err != nil {
			// The login itself stands; the failure is still observable.
			o.deps.Log.Error(ctx, "failed to save password to vault", "err", err)
			o.mu.Lock()
			o.lastErr = err
			o.mu.Unlock()
		}
	}

	return o.finish(ctx, result)
}

// LoginWithSSO runs the browser SSO flow for the given identity provider
// and exchanges the resulting token for a session. Valid only in
// StateFlowsKnown. Cancellation and SSO failures return the attempt to
// StateFlowsKnown, not a terminal failure, so the user may retry or pick
// another provider.
func (o *Orchestrator) LoginWithSSO(ctx context.Context, providerID string) (id.UserID, error) {
	o.mu.Lock()
	if o.state != StateFlowsKnown {
		o.mu.Unlock()
		return id.UserID{}, ErrBadState
	}
	hs := o.homeserver
	o.state = StateAuthenticating
	o.lastErr = nil
	o.mu.Unlock()

	token, err := o.deps.SSO.Start(ctx, hs, providerID)
	if err != nil {
		o.fail(err)
		return id.UserID{}, err
	}

	result, err := o.deps.NewClient(hs).LoginToken(ctx, token, o.deps.DeviceName)
	if err != nil {
		o.fail(err)
		return id.UserID{}, err
	}

	return o.finish(ctx, result)
}

// CancelSSO aborts an in-flight SSO session. The pending LoginWithSSO call
// returns with the cancellation error and the attempt drops back to
// StateFlowsKnown.
func (o *Orchestrator) CancelSSO(ctx context.Context) error {
	return o.deps.SSO.Cancel(ctx)
}

// fail records err and returns the attempt to StateFlowsKnown for retry.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateFlowsKnown
	o.lastErr = err
}

// finish persists the session and wipes in-memory secrets.
func (o *Orchestrator) finish(ctx context.Context, result *matrix.LoginResult) (id.UserID, error) {
	err := o.deps.Store.SaveAccountInfo(ctx, store.AccountInfo{
		UserID:      result.UserID.String(),
		Name:        result.UserID.Localpart(),
		Homeserver:  result.Homeserver.URL(),
		DeviceID:    result.DeviceID,
		AccessToken: result.AccessToken,
	})
	if err != nil {
		err = fmt.Errorf("persist session: %w", err)
		o.fail(err)
		return id.UserID{}, err
	}

	result.AccessToken = secret.WipeString(result.AccessToken)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.password = secret.WipeString(o.password)
	o.fromVault = false
	o.loggedInAs = result.UserID
	o.state = StateAuthenticated
	o.deps.Log.Info(ctx, "login attempt finished", "user_id", result.UserID.String())
	return result.UserID, nil
}
