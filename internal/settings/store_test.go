package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/device"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/syncer"
)

type fakeOutbound struct {
	records []*syncer.ChangeRecord
	flushes int
}

func (f *fakeOutbound) Enqueue(rec *syncer.ChangeRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeOutbound) Flush(ctx context.Context) error {
	f.flushes++
	return nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func newStore(t *testing.T) (*Store, *fakeOutbound) {
	t.Helper()
	out := &fakeOutbound{}
	s, err := Load(t.TempDir(), device.PlatformLinux, "aaaa000000000000", out, testLogger())
	require.NoError(t, err)
	return s, out
}

func TestGetDefaults(t *testing.T) {
	s, _ := newStore(t)

	v, err := s.Get("app_theme")
	require.NoError(t, err)
	assert.Equal(t, "auto", v)

	v, err = s.Get("sync_frequency")
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = s.Get("no_such_key")
	assert.ErrorIs(t, err, common.ErrUnknownKey)
}

func TestSetEmitsRecordAndNotifies(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	var events [][2]any
	s.Subscribe(func(key string, old, new any) {
		events = append(events, [2]any{old, new})
	})

	require.NoError(t, s.Set(ctx, "app_theme", "dark", false))

	v, err := s.Get("app_theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	require.Len(t, out.records, 1)
	rec := out.records[0]
	assert.Equal(t, syncer.ScopeSetting, rec.Scope)
	assert.Equal(t, "app_theme", rec.Key)
	assert.True(t, rec.Verify())

	require.Len(t, events, 1)
	assert.Equal(t, "auto", events[0][0])
	assert.Equal(t, "dark", events[0][1])
}

func TestSetSyncNowFlushes(t *testing.T) {
	s, out := newStore(t)

	require.NoError(t, s.Set(context.Background(), "app_theme", "dark", true))
	assert.Equal(t, 1, out.flushes)
}

func TestSetRejectsInvalidValues(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	tests := []struct {
		key   string
		value any
	}{
		{"sync_frequency", 0},            // below min
		{"sync_frequency", 61},           // above max
		{"sync_frequency", 2.5},          // not integral
		{"app_theme", "neon"},            // not a choice
		{"enable_ocr", "yes"},            // wrong type
		{"screen_reader_voice_speed", 9}, // out of range
	}
	for _, tt := range tests {
		err := s.Set(ctx, tt.key, tt.value, false)
		assert.ErrorIs(t, err, common.ErrValidation, "%s=%v", tt.key, tt.value)
	}

	// Nothing emitted, nothing changed.
	assert.Empty(t, out.records)
	v, err := s.Get("sync_frequency")
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestPlatformScopedKeysDoNotReplicate(t *testing.T) {
	s, out := newStore(t)

	require.NoError(t, s.Set(context.Background(), "integrate_with_orca", true, false))

	assert.Empty(t, out.records)
	v, err := s.Get("integrate_with_orca")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEverySettingSatisfiesItsDefinition(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Set(context.Background(), "tts_speed", 1.5, false))

	for _, key := range Keys() {
		def, err := Lookup(key)
		require.NoError(t, err)

		v, err := s.Get(key)
		require.NoError(t, err)

		_, err = def.Normalize(v)
		assert.NoError(t, err, "key %s value %v violates its definition", key, v)
	}
}

func TestPersistenceAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	out := &fakeOutbound{}

	s, err := Load(dir, device.PlatformLinux, "aaaa000000000000", out, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "sync_frequency", 10, false))
	require.NoError(t, s.Set(context.Background(), "integrate_with_orca", true, false))

	s2, err := Load(dir, device.PlatformLinux, "aaaa000000000000", out, testLogger())
	require.NoError(t, err)

	v, err := s2.Get("sync_frequency")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = s2.Get("integrate_with_orca")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestApplyRemoteLastWriterWins(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "app_theme", "dark", false))
	localTS := out.records[0].Timestamp

	older := &syncer.ChangeRecord{
		ChangeID:     "r-old",
		Scope:        syncer.ScopeSetting,
		Key:          "app_theme",
		Value:        json.RawMessage(`"light"`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    localTS.Add(-time.Minute),
	}
	applied, err := s.ApplyRemote(older)
	require.NoError(t, err)
	assert.False(t, applied)

	newer := &syncer.ChangeRecord{
		ChangeID:     "r-new",
		Scope:        syncer.ScopeSetting,
		Key:          "app_theme",
		Value:        json.RawMessage(`"light"`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    localTS.Add(time.Minute),
	}
	applied, err = s.ApplyRemote(newer)
	require.NoError(t, err)
	assert.True(t, applied)

	v, err := s.Get("app_theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)

	// Remote apply must not re-emit.
	assert.Len(t, out.records, 1)
}

func TestApplyRemoteEqualTimestampTiebreak(t *testing.T) {
	// Both devices write at the same instant; the lexicographically smaller
	// device id must win on every replica.
	ts := time.Now().UTC()
	ctx := context.Background()

	out := &fakeOutbound{}
	s, err := Load(t.TempDir(), device.PlatformLinux, "dddd000000000000", out, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "app_theme", "light", false))
	// Pin local metadata to the conflict instant.
	s.meta["app_theme"] = keyMeta{Timestamp: ts, Device: "dddd000000000000"}

	rec := &syncer.ChangeRecord{
		ChangeID:     "r1",
		Scope:        syncer.ScopeSetting,
		Key:          "app_theme",
		Value:        json.RawMessage(`"dark"`),
		SourceDevice: "aaaa000000000000",
		Timestamp:    ts,
	}
	applied, err := s.ApplyRemote(rec)
	require.NoError(t, err)
	assert.True(t, applied, "smaller source device must win the tie")

	// The mirror case: a record from a larger device id loses.
	s.meta["app_theme"] = keyMeta{Timestamp: ts, Device: "dddd000000000000"}
	rec2 := &syncer.ChangeRecord{
		ChangeID:     "r2",
		Scope:        syncer.ScopeSetting,
		Key:          "app_theme",
		Value:        json.RawMessage(`"high_contrast"`),
		SourceDevice: "ffff000000000000",
		Timestamp:    ts,
	}
	applied, err = s.ApplyRemote(rec2)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApplyRemoteRejectsInvalid(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.ApplyRemote(&syncer.ChangeRecord{
		Scope:        syncer.ScopeSetting,
		Key:          "sync_frequency",
		Value:        json.RawMessage(`0`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    time.Now().UTC(),
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = s.ApplyRemote(&syncer.ChangeRecord{
		Scope:        syncer.ScopeSetting,
		Key:          "integrate_with_orca",
		Value:        json.RawMessage(`true`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    time.Now().UTC(),
	})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestExportImportRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "app_theme", "dark", false))
	require.NoError(t, s.Set(ctx, "sync_frequency", 30, false))

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, s.Export(path))

	s2, out2 := newStore(t)
	require.NoError(t, s2.Import(ctx, path, true))

	for _, key := range []string{"app_theme", "sync_frequency"} {
		want, err := s.Get(key)
		require.NoError(t, err)
		got, err := s2.Get(key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	// One record per changed key.
	assert.Len(t, out2.records, 2)
}

func TestImportReplaceResetsMissingKeys(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "app_theme", "dark", false))
	require.NoError(t, s.Set(ctx, "tts_voice", "samantha", false))

	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"app_theme":"light"}`), 0o600))

	require.NoError(t, s.Import(ctx, path, false))

	v, err := s.Get("app_theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)

	v, err = s.Get("tts_voice")
	require.NoError(t, err)
	assert.Equal(t, "default", v, "keys missing from a replace import reset to defaults")
}

func TestImportValidatesBeforeApplying(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"app_theme":"dark","sync_frequency":0}`), 0o600))

	err := s.Import(ctx, path, true)
	assert.ErrorIs(t, err, common.ErrValidation)

	// Nothing applied.
	v, err := s.Get("app_theme")
	require.NoError(t, err)
	assert.Equal(t, "auto", v)
	assert.Empty(t, out.records)
}

func TestListenersReceiveCopies(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var captured any
	s.Subscribe(func(key string, old, new any) { captured = new })

	require.NoError(t, s.Set(ctx, "high_contrast_mode", true, false))
	require.NotNil(t, captured)

	// Get returns a fresh copy each call for composite values.
	a, err := s.Get("app_language")
	require.NoError(t, err)
	b, err := s.Get("app_language")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
