// Package vault stores login passwords in protected storage, keyed by
// (homeserver URL, account). Two backends exist: the OS keyring and an
// encrypted file. Secrets never appear in logs; only status and key
// metadata may be logged.
package vault

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no credential is stored under the key. A normal,
	// non-fatal outcome of Load.
	ErrNotFound = errors.New("credential not found")

	// ErrDuplicate means Save was called for a key that already holds a
	// credential. Saving is add-only, never a silent upsert; delete first.
	ErrDuplicate = errors.New("credential already exists")
)

// Error is a backend failure with a stable code for reporting.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Policy controls how a saved credential may be read back.
type Policy struct {
	// RequireUserPresence asks the backend to gate reads on user presence
	// (biometrics or an unlock). Backends that cannot express per-item
	// policy treat this as advisory.
	RequireUserPresence bool
}

// Vault is process-wide keyed credential storage. Entries outlive any login
// attempt; they are removed only by explicit deletion.
type Vault interface {
	// Save stores secret under (server, account). Fails with ErrDuplicate
	// if the key is already populated, or *Error on backend rejection.
	Save(ctx context.Context, server, account, secret string, policy Policy) error

	// Load fetches the secret for (server, account). Absence, and stored
	// data that can no longer be read, both surface as ErrNotFound; the
	// latter is additionally logged by the backend.
	Load(ctx context.Context, server, account string) (string, error)

	// Delete removes the credential for (server, account), if any.
	Delete(ctx context.Context, server, account string) error
}
