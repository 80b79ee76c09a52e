package id

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		localpart string
		domain    string
	}{
		{"simple", "@alice:example.org", "alice", "example.org"},
		{"subdomain", "@bob:matrix.example.org", "bob", "matrix.example.org"},
		{"with port", "@carol:localhost:8448", "carol", "localhost:8448"},
		{"dots and dashes", "@a.b-c:ex-ample.org", "a.b-c", "ex-ample.org"},
		{"historical localpart", "@UPPER_case=x:example.org", "UPPER_case=x", "example.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := Parse(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.localpart, uid.Localpart())
			require.Equal(t, tt.domain, uid.Domain())
			require.Equal(t, tt.raw, uid.String())
			require.False(t, uid.IsZero())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no at", "alice:example.org"},
		{"no colon", "@alice"},
		{"empty localpart", "@:example.org"},
		{"empty domain", "@alice:"},
		{"space in localpart", "@al ice:example.org"},
		{"bad domain chars", "@alice:exa mple.org"},
		{"domain leading dash", "@alice:-example.org"},
		{"just at", "@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := Parse(tt.raw)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidUserName))
			require.True(t, uid.IsZero())
		})
	}
}
