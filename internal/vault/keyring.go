package vault

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/avolkov/mxauth/internal/logging"
)

// servicePrefix namespaces our keyring items per homeserver so accounts on
// different servers never collide.
const servicePrefix = "mxauth:"

// KeyringVault stores credentials in the OS keyring (Keychain, Secret
// Service, Credential Manager). Per-item access policy cannot be expressed
// through the keyring API, so Policy is advisory here: read gating is
// whatever the OS store enforces for the whole collection.
type KeyringVault struct {
	log logging.Logger
}

// NewKeyringVault returns an OS-keyring backed Vault. A nil log discards.
func NewKeyringVault(log logging.Logger) *KeyringVault {
	if log == nil {
		log = logging.Discard()
	}
	return &KeyringVault{log: log.With("component", "vault", "backend", "keyring")}
}

func (v *KeyringVault) Save(ctx context.Context, server, account, secret string, policy Policy) error {
	service := servicePrefix + server

	// The keyring API upserts; the add-only contract needs an explicit
	// duplicate probe first.
	if _, err := keyring.Get(service, account); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return &Error{Code: "keyring-probe", Err: err}
	}

	if err := keyring.Set(service, account, secret); err != nil {
		return &Error{Code: "keyring-set", Err: err}
	}

	v.log.Info(ctx, "credential saved", "server", server, "account", account, "user_presence", policy.RequireUserPresence)
	return nil
}

func (v *KeyringVault) Load(ctx context.Context, server, account string) (string, error) {
	secret, err := keyring.Get(servicePrefix+server, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		// Unreadable item: report as absent for control flow, but leave a
		// trace for diagnosis.
		v.log.Error(ctx, "credential lookup failed", "server", server, "account", account, "err", err)
		return "", ErrNotFound
	}
	return secret, nil
}

func (v *KeyringVault) Delete(ctx context.Context, server, account string) error {
	err := keyring.Delete(servicePrefix+server, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return &Error{Code: "keyring-delete", Err: err}
	}
	return nil
}
