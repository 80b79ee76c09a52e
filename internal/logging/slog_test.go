package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLoggerWritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault(&buf, slog.LevelDebug)

	ctx := context.Background()
	log.Debug(ctx, "dbg", "k", "v")
	log.Info(ctx, "inf", "k", "v")
	log.Warn(ctx, "wrn")
	log.Error(ctx, "err")

	out := buf.String()
	require.Contains(t, out, "dbg")
	require.Contains(t, out, "inf")
	require.Contains(t, out, "wrn")
	require.Contains(t, out, "err")
	require.Contains(t, out, "k=v")
}

func TestWithAddsPersistentAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault(&buf, slog.LevelInfo).With("component", "resolver")

	log.Info(context.Background(), "hello")
	require.Contains(t, buf.String(), "component=resolver")
}

func TestDiscardIsSilent(t *testing.T) {
	// Must not panic and must not write anywhere observable.
	log := Discard()
	log.Info(context.Background(), "dropped", "k", "v")
}
