package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufLogger(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLoggerLevels(t *testing.T) {
	ctx := context.Background()

	log, buf := newBufLogger(slog.LevelDebug)
	log.Debug(ctx, "d")
	log.Info(ctx, "i")
	log.Warn(ctx, "w")
	log.Error(ctx, "e")

	out := buf.String()
	for _, msg := range []string{`"msg":"d"`, `"msg":"i"`, `"msg":"w"`, `"msg":"e"`} {
		assert.Contains(t, out, msg)
	}
}

func TestSlogLoggerWith(t *testing.T) {
	ctx := context.Background()

	log, buf := newBufLogger(slog.LevelInfo)
	child := log.With("device", "abc")
	child.Info(ctx, "hello")

	require.Contains(t, buf.String(), `"device":"abc"`)
}

func TestSetLevelAdjustsHandler(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	log := NewJSONLogger(&buf)

	log.Debug(ctx, "quiet")
	require.NotContains(t, buf.String(), `"msg":"quiet"`)

	log.SetLevel(slog.LevelDebug)
	log.Debug(ctx, "loud")
	require.Contains(t, buf.String(), `"msg":"loud"`)

	// Child loggers share the level control.
	child := log.With("device", "abc")
	require.Implements(t, (*LevelSetter)(nil), child)
	child.Debug(ctx, "child")
	assert.Contains(t, buf.String(), `"msg":"child"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
