package geowarp

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerDefaultSilent(t *testing.T) {
	SetLogger(nil)
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { SetLogger(nil) })

	Logger().Debug("geowarp: test", slog.Int("rows", 3))
	assert.Contains(t, buf.String(), "geowarp: test")
	assert.Contains(t, buf.String(), "rows=3")

	l := newNopLogger().With("k", "v").WithGroup("g")
	assert.False(t, l.Enabled(context.Background(), slog.LevelWarn))
}
