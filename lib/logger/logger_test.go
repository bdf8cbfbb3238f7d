package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundtrip(t *testing.T) {
	log := New("debug")
	ctx := AddToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestNodeLogHandlerTeesTaggedRecords(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	h := NewNodeLogHandler(slog.NewTextHandler(&buf, nil), dir)
	log := slog.New(h)

	log.Info("guest booted", "node_id", 3)
	log.Info("host only message")
	require.NoError(t, h.Close())

	data, err := os.ReadFile(filepath.Join(dir, "node-3.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "guest booted")
	assert.NotContains(t, string(data), "host only message")

	// Every record still reaches the wrapped handler.
	assert.Contains(t, buf.String(), "guest booted")
	assert.Contains(t, buf.String(), "host only message")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNodeLogHandlerFindsIDBoundViaWith(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	h := NewNodeLogHandler(slog.NewTextHandler(&buf, nil), dir)

	slog.New(h).With("node_id", 7).Info("console line")
	require.NoError(t, h.Close())

	data, err := os.ReadFile(filepath.Join(dir, "node-7.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "console line")
}
