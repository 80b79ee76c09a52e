// Package store persists logged-in account sessions. The orchestrator only
// depends on the AccountStore interface; the sqlite implementation below is
// the default for the CLI, and tests substitute in-memory fakes.
package store

import (
	"context"
	"errors"
)

// ErrNotFound means no account is stored under the given user id.
var ErrNotFound = errors.New("account not found")

// AccountInfo is one persisted session. AccessToken is a secret and must
// never be logged.
type AccountInfo struct {
	UserID      string
	Name        string
	Homeserver  string
	DeviceID    string
	AccessToken string
}

// AccountStore is the session-store collaborator the login orchestrator
// talks to.
type AccountStore interface {
	// GetAccountInfo looks up a stored session by full user id
	// (@local:domain). Absence is ErrNotFound.
	GetAccountInfo(ctx context.Context, userID string) (*AccountInfo, error)

	// SaveAccountInfo persists a session. Saving an already-present user id
	// replaces the stored session (a fresh login supersedes the old device).
	SaveAccountInfo(ctx context.Context, info AccountInfo) error

	// List returns all stored sessions, ordered by user id.
	List(ctx context.Context) ([]AccountInfo, error)

	// Delete removes a stored session, if present.
	Delete(ctx context.Context, userID string) error
}
