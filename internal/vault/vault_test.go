package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringSaveLoadDelete(t *testing.T) {
	keyring.MockInit()
	v := NewKeyringVault(nil)
	ctx := context.Background()

	const (
		server  = "https://matrix.example.org"
		account = "@alice:example.org"
	)

	_, err := v.Load(ctx, server, account)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Save(ctx, server, account, "hunter2", Policy{RequireUserPresence: true}))

	secret, err := v.Load(ctx, server, account)
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)

	// Add-only: second save of the same key is an error, not an upsert.
	err = v.Save(ctx, server, account, "other", Policy{})
	require.ErrorIs(t, err, ErrDuplicate)

	// Same account on another server is a different key.
	require.NoError(t, v.Save(ctx, "https://other.example", account, "pw2", Policy{}))

	require.NoError(t, v.Delete(ctx, server, account))
	_, err = v.Load(ctx, server, account)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, v.Delete(ctx, server, account))
}

func newFileVault(t *testing.T, passphrase string) *FileVault {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.bin")
	return NewFileVault(path, func(context.Context) ([]byte, error) {
		return []byte(passphrase), nil
	}, nil)
}

func TestFileVaultSaveLoad(t *testing.T) {
	v := newFileVault(t, "pw")
	ctx := context.Background()

	_, err := v.Load(ctx, "https://s", "@a:s")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Save(ctx, "https://s", "@a:s", "secret", Policy{}))

	got, err := v.Load(ctx, "https://s", "@a:s")
	require.NoError(t, err)
	require.Equal(t, "secret", got)

	require.ErrorIs(t, v.Save(ctx, "https://s", "@a:s", "secret2", Policy{}), ErrDuplicate)

	require.NoError(t, v.Delete(ctx, "https://s", "@a:s"))
	_, err = v.Load(ctx, "https://s", "@a:s")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileVaultWrongPassphraseLoadIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")
	ctx := context.Background()

	good := NewFileVault(path, func(context.Context) ([]byte, error) { return []byte("right"), nil }, nil)
	require.NoError(t, good.Save(ctx, "https://s", "@a:s", "secret", Policy{}))

	bad := NewFileVault(path, func(context.Context) ([]byte, error) { return []byte("wrong"), nil }, nil)
	_, err := bad.Load(ctx, "https://s", "@a:s")
	require.ErrorIs(t, err, ErrNotFound)

	// But a save through an unreadable vault must fail loudly, never clobber.
	err = bad.Save(ctx, "https://s", "@b:s", "x", Policy{})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "file-read", verr.Code)

	// Original contents survived.
	secret, err := good.Load(ctx, "https://s", "@a:s")
	require.NoError(t, err)
	require.Equal(t, "secret", secret)
}

func TestFileVaultCorruptFileLoadIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	v := NewFileVault(path, func(context.Context) ([]byte, error) { return []byte("pw"), nil }, nil)
	_, err := v.Load(context.Background(), "https://s", "@a:s")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileVaultPassphraseErrorPropagates(t *testing.T) {
	v := NewFileVault(filepath.Join(t.TempDir(), "vault.bin"), func(context.Context) ([]byte, error) {
		return nil, errors.New("prompt aborted")
	}, nil)

	err := v.Save(context.Background(), "https://s", "@a:s", "x", Policy{})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "passphrase", verr.Code)
}
