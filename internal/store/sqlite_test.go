package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), "file:storetest?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, a := range mustList(t, s) {
			require.NoError(t, s.Delete(context.Background(), a.UserID))
		}
		_ = s.Close()
	})
	return s
}

func mustList(t *testing.T, s *SQLiteStore) []AccountInfo {
	t.Helper()
	out, err := s.List(context.Background())
	require.NoError(t, err)
	return out
}

func TestGetAbsentAccount(t *testing.T) {
	s := setupStore(t)
	_, err := s.GetAccountInfo(context.Background(), "@alice:example.org")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	info := AccountInfo{
		UserID:      "@alice:example.org",
		Name:        "alice",
		Homeserver:  "https://matrix.example.org",
		DeviceID:    "DEVICE1",
		AccessToken: "syt_secret",
	}
	require.NoError(t, s.SaveAccountInfo(ctx, info))

	got, err := s.GetAccountInfo(ctx, "@alice:example.org")
	require.NoError(t, err)
	require.Equal(t, info, *got)
}

func TestSaveReplacesExistingSession(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first := AccountInfo{UserID: "@alice:example.org", Name: "alice", Homeserver: "https://hs", DeviceID: "D1", AccessToken: "t1"}
	require.NoError(t, s.SaveAccountInfo(ctx, first))

	second := first
	second.DeviceID = "D2"
	second.AccessToken = "t2"
	require.NoError(t, s.SaveAccountInfo(ctx, second))

	got, err := s.GetAccountInfo(ctx, "@alice:example.org")
	require.NoError(t, err)
	require.Equal(t, "D2", got.DeviceID)
	require.Equal(t, "t2", got.AccessToken)

	require.Len(t, mustList(t, s), 1)
}

func TestListOrdersByUserID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, uid := range []string{"@carol:x", "@alice:x", "@bob:x"} {
		require.NoError(t, s.SaveAccountInfo(ctx, AccountInfo{UserID: uid, Name: "n", Homeserver: "h", DeviceID: "d", AccessToken: "t"}))
	}

	list := mustList(t, s)
	require.Len(t, list, 3)
	require.Equal(t, "@alice:x", list[0].UserID)
	require.Equal(t, "@bob:x", list[1].UserID)
	require.Equal(t, "@carol:x", list[2].UserID)
}

func TestDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccountInfo(ctx, AccountInfo{UserID: "@a:x", Name: "n", Homeserver: "h", DeviceID: "d", AccessToken: "t"}))
	require.NoError(t, s.Delete(ctx, "@a:x"))

	_, err := s.GetAccountInfo(ctx, "@a:x")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "@a:x"))
}
