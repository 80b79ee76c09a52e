package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/avolkov/mxauth/internal/cryptox"
	"github.com/avolkov/mxauth/internal/logging"
)

// PassphraseFunc supplies the passphrase protecting a FileVault, usually an
// interactive terminal prompt. Called once per vault operation.
type PassphraseFunc func(ctx context.Context) ([]byte, error)

// FileVault is a fallback backend for hosts without a usable OS keyring:
// one file holding all credentials, sealed under a passphrase-derived key.
// User presence is enforced by construction, since every operation prompts.
type FileVault struct {
	mu         sync.Mutex
	path       string
	passphrase PassphraseFunc
	log        logging.Logger
}

type fileEntry struct {
	Secret string `json:"secret"`
	Policy Policy `json:"policy"`
}

type fileContents struct {
	Entries map[string]fileEntry `json:"entries"`
}

// NewFileVault returns a Vault persisting to path. The file is created on
// first Save. A nil log discards.
func NewFileVault(path string, passphrase PassphraseFunc, log logging.Logger) *FileVault {
	if log == nil {
		log = logging.Discard()
	}
	return &FileVault{path: path, passphrase: passphrase, log: log.With("component", "vault", "backend", "file")}
}

func entryKey(server, account string) string {
	return server + "\x00" + account
}

func (v *FileVault) Save(ctx context.Context, server, account, secret string, policy Policy) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	pw, err := v.passphrase(ctx)
	if err != nil {
		return &Error{Code: "passphrase", Err: err}
	}

	contents, err := v.read(pw)
	if err != nil {
		// A save must never clobber a vault it cannot read.
		return &Error{Code: "file-read", Err: err}
	}

	key := entryKey(server, account)
	if _, ok := contents.Entries[key]; ok {
		return ErrDuplicate
	}
	contents.Entries[key] = fileEntry{Secret: secret, Policy: policy}

	if err := v.write(contents, pw); err != nil {
		return &Error{Code: "file-write", Err: err}
	}

	v.log.Info(ctx, "credential saved", "server", server, "account", account)
	return nil
}

func (v *FileVault) Load(ctx context.Context, server, account string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := os.Stat(v.path); errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}

	pw, err := v.passphrase(ctx)
	if err != nil {
		return "", &Error{Code: "passphrase", Err: err}
	}

	contents, err := v.read(pw)
	if err != nil {
		// Wrong passphrase or corrupt file: best-effort read, absent for
		// control-flow purposes.
		v.log.Error(ctx, "vault file unreadable", "path", v.path, "err", err)
		return "", ErrNotFound
	}

	entry, ok := contents.Entries[entryKey(server, account)]
	if !ok {
		return "", ErrNotFound
	}
	return entry.Secret, nil
}

func (v *FileVault) Delete(ctx context.Context, server, account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	pw, err := v.passphrase(ctx)
	if err != nil {
		return &Error{Code: "passphrase", Err: err}
	}

	contents, err := v.read(pw)
	if err != nil {
		return &Error{Code: "file-read", Err: err}
	}

	delete(contents.Entries, entryKey(server, account))
	if err := v.write(contents, pw); err != nil {
		return &Error{Code: "file-write", Err: err}
	}
	return nil
}

func (v *FileVault) read(passphrase []byte) (*fileContents, error) {
	blob, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileContents{Entries: map[string]fileEntry{}}, nil
	}
	if err != nil {
		return nil, err
	}

	plain, err := cryptox.Open(blob, passphrase)
	if err != nil {
		return nil, err
	}

	var contents fileContents
	if err := json.Unmarshal(plain, &contents); err != nil {
		return nil, fmt.Errorf("decode vault file: %w", err)
	}
	if contents.Entries == nil {
		contents.Entries = map[string]fileEntry{}
	}
	return &contents, nil
}

func (v *FileVault) write(contents *fileContents, passphrase []byte) error {
	plain, err := json.Marshal(contents)
	if err != nil {
		return err
	}

	blob, err := cryptox.Seal(plain, passphrase)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn vault.
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, v.path)
}
