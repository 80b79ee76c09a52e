package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHomeserver(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"https", "https://matrix.example.org", "https://matrix.example.org", false},
		{"http", "http://localhost:8008", "http://localhost:8008", false},
		{"trailing slash stripped", "https://matrix.example.org/", "https://matrix.example.org", false},
		{"path kept", "https://example.org/matrix/", "https://example.org/matrix", false},
		{"bad scheme", "ftp://example.org", "", true},
		{"no scheme", "matrix.example.org", "", true},
		{"no host", "https://", "", true},
		{"query", "https://example.org?x=1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs, err := NewHomeserver(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, hs.IsZero())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, hs.URL())
		})
	}
}

func TestHomeserverPath(t *testing.T) {
	hs, err := NewHomeserver("https://matrix.example.org/")
	require.NoError(t, err)
	require.Equal(t, "https://matrix.example.org/_matrix/client/v3/login", hs.Path("/_matrix/client/v3/login"))
	require.Equal(t, "https://matrix.example.org/_matrix/client/v3/login", hs.Path("_matrix/client/v3/login"))
}

func testServer(t *testing.T, handler http.HandlerFunc) Homeserver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	hs, err := NewHomeserver(srv.URL)
	require.NoError(t, err)
	return hs
}

func TestGetLoginFlowsPreservesOrder(t *testing.T) {
	hs := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/_matrix/client/v3/login", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"flows": []map[string]any{
				{"type": "m.login.sso", "identity_providers": []map[string]any{
					{"id": "oidc-github", "name": "GitHub", "brand": "github"},
					{"id": "oidc-google", "name": "Google", "brand": "google"},
				}},
				{"type": "m.login.password"},
				{"type": "m.login.future.thing"},
			},
		})
	})

	flows, err := NewClient(hs, nil, nil).GetLoginFlows(context.Background())
	require.NoError(t, err)
	require.Len(t, flows, 3)

	// Server order must survive: SSO before password here.
	require.Equal(t, FlowSSO, flows[0].Type)
	require.Equal(t, FlowPassword, flows[1].Type)

	// Unknown flow types are carried through, not dropped.
	require.Equal(t, FlowType("m.login.future.thing"), flows[2].Type)
	require.False(t, flows[2].Type.Known())

	require.Len(t, flows[0].IdentityProviders, 2)
	require.Equal(t, "oidc-github", flows[0].IdentityProviders[0].ID)
	require.Equal(t, BrandGitHub, flows[0].IdentityProviders[0].Brand)
}

func TestLoginPassword(t *testing.T) {
	hs := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "m.login.password", req["type"])
		require.Equal(t, "hunter2", req["password"])
		require.Equal(t, "mxauth test", req["initial_device_display_name"])
		ident := req["identifier"].(map[string]any)
		require.Equal(t, "m.id.user", ident["type"])
		require.Equal(t, "@alice:example.org", ident["user"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":      "@alice:example.org",
			"access_token": "syt_secret",
			"device_id":    "DEVICE1",
		})
	})

	res, err := NewClient(hs, nil, nil).LoginPassword(context.Background(), "@alice:example.org", "hunter2", "mxauth test")
	require.NoError(t, err)
	require.Equal(t, "@alice:example.org", res.UserID.String())
	require.Equal(t, "DEVICE1", res.DeviceID)
	require.Equal(t, "syt_secret", res.AccessToken)
	require.Equal(t, hs.URL(), res.Homeserver.URL())
}

func TestLoginPasswordForbidden(t *testing.T) {
	hs := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_FORBIDDEN", "error": "Invalid password"})
	})

	_, err := NewClient(hs, nil, nil).LoginPassword(context.Background(), "@alice:example.org", "wrong", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidCredentials))

	var ae *APIError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "M_FORBIDDEN", ae.Code)
	require.Equal(t, http.StatusForbidden, ae.StatusCode)
}

func TestLoginTokenUsesWellKnownOverride(t *testing.T) {
	hs := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "m.login.token", req["type"])
		require.Equal(t, "abc123", req["token"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":      "@alice:example.org",
			"access_token": "syt_secret",
			"device_id":    "DEVICE2",
			"well_known": map[string]any{
				"m.homeserver": map[string]any{"base_url": "https://matrix.example.org/"},
			},
		})
	})

	res, err := NewClient(hs, nil, nil).LoginToken(context.Background(), "abc123", "")
	require.NoError(t, err)
	require.Equal(t, "https://matrix.example.org", res.Homeserver.URL())
}

func TestLoginMissingFields(t *testing.T) {
	hs := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "@alice:example.org"})
	})

	_, err := NewClient(hs, nil, nil).LoginPassword(context.Background(), "@alice:example.org", "pw", "")
	require.ErrorIs(t, err, ErrMissingParam)
}

func TestLoginErrorBodyNotJSON(t *testing.T) {
	hs := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := NewClient(hs, nil, nil).LoginPassword(context.Background(), "@alice:example.org", "pw", "")
	var ae *APIError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "M_UNKNOWN", ae.Code)
	require.Equal(t, http.StatusBadGateway, ae.StatusCode)
}
