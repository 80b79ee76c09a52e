// Package cli is the interactive front end: it drives a login attempt
// through discovery, password or SSO credential exchange, and the
// save-to-vault prompt, reading input from the terminal.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/avolkov/mxauth/internal/config"
	"github.com/avolkov/mxauth/internal/discovery"
	"github.com/avolkov/mxauth/internal/id"
	"github.com/avolkov/mxauth/internal/logging"
	"github.com/avolkov/mxauth/internal/login"
	"github.com/avolkov/mxauth/internal/matrix"
	"github.com/avolkov/mxauth/internal/secret"
	"github.com/avolkov/mxauth/internal/sso"
	"github.com/avolkov/mxauth/internal/store"
	"github.com/avolkov/mxauth/internal/vault"
)

// App wires the orchestrator and its collaborators for terminal use.
type App struct {
	cfg    *config.Config
	log    logging.Logger
	orch   *login.Orchestrator
	store  *store.SQLiteStore
	reader *bufio.Reader
	out    io.Writer
}

// NewApp builds the full dependency graph from cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := logging.NewDefault(os.Stderr, level)

	app := &App{
		cfg:    cfg,
		log:    log,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}

	storePath, err := defaultPath(cfg.StorePath, "accounts.db")
	if err != nil {
		return nil, err
	}
	accountStore, err := store.Open(ctx, storePath)
	if err != nil {
		return nil, err
	}
	app.store = accountStore

	v, err := app.buildVault()
	if err != nil {
		_ = accountStore.Close()
		return nil, err
	}

	httpc := &http.Client{Timeout: cfg.HTTPTimeout}
	browser := sso.NewLoopbackBrowser(cfg.CallbackListenAddr, log)

	app.orch = login.New(login.Deps{
		Resolver:  discovery.NewResolver(httpc, cfg.DiscoveryCacheTTL, log),
		NewClient: func(hs matrix.Homeserver) matrix.Client { return matrix.NewClient(hs, httpc, log) },
		Store:     accountStore,
		Vault:     v,
		SSO:       sso.NewController(browser, browser.CallbackURL(), log),
		ConfirmSave: func(ctx context.Context, account string) bool {
			ok, err := GetYesNo(app.reader, fmt.Sprintf("Save password for %s to the vault?", account), app.out)
			return err == nil && ok
		},
		DeviceName: deviceName(),
		Log:        log,
	})
	return app, nil
}

func (a *App) buildVault() (vault.Vault, error) {
	switch a.cfg.VaultBackend {
	case "keyring":
		return vault.NewKeyringVault(a.log), nil
	case "file":
		path, err := defaultPath(a.cfg.VaultFilePath, "vault.bin")
		if err != nil {
			return nil, err
		}
		return vault.NewFileVault(path, func(ctx context.Context) ([]byte, error) {
			return GetPassword("Vault passphrase: ", a.out)
		}, a.log), nil
	default:
		return nil, fmt.Errorf("unknown vault backend %q", a.cfg.VaultBackend)
	}
}

// Close releases the account store.
func (a *App) Close() error {
	return a.store.Close()
}

// Run executes one interactive login attempt.
func (a *App) Run(ctx context.Context) error {
	a.listAccounts(ctx)

	if err := a.discover(ctx); err != nil {
		return err
	}

	// A vault pre-fill logs straight in, like the desktop client does when
	// the keychain already knows the password.
	if a.orch.PasswordPrefilled() {
		if uid, err := a.orch.Login(ctx); err == nil {
			fmt.Fprintf(a.out, "Logged in as %s (stored password)\n", uid)
			return nil
		}
		a.log.Warn(ctx, "stored password rejected, falling back to interactive login")
	}

	return a.authenticate(ctx)
}

func (a *App) listAccounts(ctx context.Context) {
	accounts, err := a.store.List(ctx)
	if err != nil {
		a.log.Error(ctx, "failed to list accounts", "err", err)
		return
	}
	if len(accounts) == 0 {
		return
	}
	fmt.Fprintln(a.out, "Existing accounts:")
	for _, acc := range accounts {
		fmt.Fprintf(a.out, "  %s on %s\n", acc.UserID, acc.Homeserver)
	}
}

func (a *App) discover(ctx context.Context) error {
	if a.cfg.HomeserverURL != "" {
		if err := a.orch.DiscoverServerURL(ctx, a.cfg.HomeserverURL); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Homeserver: %s\n", a.orch.Homeserver())
		return nil
	}

	for {
		username, err := GetSimpleText(a.reader, "Username (@user:domain)", a.out)
		if err != nil {
			return err
		}
		a.orch.SetUsername(username)
		if err := a.orch.DiscoverServer(ctx); err != nil {
			fmt.Fprintf(a.out, "Discovery failed: %v\n", err)
			continue
		}
		fmt.Fprintf(a.out, "Homeserver: %s\n", a.orch.Homeserver())
		return nil
	}
}

// authenticate presents the negotiated flows in server order and runs the
// chosen one.
func (a *App) authenticate(ctx context.Context) error {
	type choice struct {
		label    string
		password bool
		provider string
	}

	var choices []choice
	for _, flow := range a.orch.Flows() {
		switch flow.Type {
		case matrix.FlowPassword:
			choices = append(choices, choice{label: "Password", password: true})
		case matrix.FlowSSO:
			if len(flow.IdentityProviders) == 0 {
				choices = append(choices, choice{label: "Single sign-on"})
				continue
			}
			for _, idp := range flow.IdentityProviders {
				choices = append(choices, choice{label: "Single sign-on via " + idp.Name, provider: idp.ID})
			}
		}
	}
	if len(choices) == 0 {
		return fmt.Errorf("homeserver offers no supported login flow")
	}

	selected := choices[0]
	if len(choices) > 1 {
		for i, c := range choices {
			fmt.Fprintf(a.out, "  %d) %s\n", i+1, c.label)
		}
		answer, err := GetSimpleText(a.reader, "Login method", a.out)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(choices) {
			return fmt.Errorf("invalid choice %q", answer)
		}
		selected = choices[n-1]
	}

	var uid id.UserID
	var err error
	if selected.password {
		uid, err = a.passwordLogin(ctx)
	} else {
		fmt.Fprintln(a.out, "Continue in your browser...")
		uid, err = a.orch.LoginWithSSO(ctx, selected.provider)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Logged in as %s\n", uid)
	return nil
}

func (a *App) passwordLogin(ctx context.Context) (id.UserID, error) {
	pw, err := GetPassword("Password: ", a.out)
	if err != nil {
		return id.UserID{}, err
	}
	a.orch.SetPassword(string(pw))
	secret.WipeBytes(pw)

	return a.orch.Login(ctx)
}

// defaultPath returns explicit when set, otherwise a file under the user's
// mxauth config directory, creating the directory as needed.
func defaultPath(explicit, name string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	dir := filepath.Join(base, "mxauth")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func deviceName() string {
	host, err := os.Hostname()
	if err != nil {
		return "mxauth"
	}
	return "mxauth (" + host + ")"
}
