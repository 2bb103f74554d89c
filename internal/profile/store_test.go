package profile

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/syncer"
)

type fakeOutbound struct {
	records []*syncer.ChangeRecord
}

func (f *fakeOutbound) Enqueue(rec *syncer.ChangeRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeOutbound) Flush(ctx context.Context) error { return nil }

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func newStore(t *testing.T) (*Store, *fakeOutbound) {
	t.Helper()
	out := &fakeOutbound{}
	s, err := LoadOrCreate(t.TempDir(), "alice", "aaaa000000000000", "linux", out, testLogger())
	require.NoError(t, err)
	return s, out
}

func TestLoadOrCreateFreshProfile(t *testing.T) {
	s, _ := newStore(t)

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, UserIDFor("alice"), p.UserID)
	assert.Equal(t, "aaaa000000000000", p.DeviceID)
	assert.NotNil(t, p.AutoFeatures)
	assert.Empty(t, p.UserData.Notes)
}

func TestLoadOrCreateReloadsExisting(t *testing.T) {
	dir := t.TempDir()
	out := &fakeOutbound{}

	s, err := LoadOrCreate(dir, "alice", "aaaa000000000000", "linux", out, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), BucketNotes, "shopping"))

	s2, err := LoadOrCreate(dir, "alice", "aaaa000000000000", "linux", out, testLogger())
	require.NoError(t, err)
	p, err := s2.Profile()
	require.NoError(t, err)
	assert.Equal(t, []any{"shopping"}, p.UserData.Notes)
}

func TestAppendEmitsFullBucket(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, BucketNotes, "one"))
	require.NoError(t, s.Append(ctx, BucketNotes, "two"))

	require.Len(t, out.records, 2)
	last := out.records[1]
	assert.Equal(t, syncer.ScopeProfile, last.Scope)
	assert.Equal(t, "user_data.notes", last.Key)

	var list []any
	require.NoError(t, json.Unmarshal(last.Value, &list))
	assert.Equal(t, []any{"one", "two"}, list)
	assert.True(t, last.Verify())
}

func TestRemove(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, BucketBookmarks, "a"))
	require.NoError(t, s.Append(ctx, BucketBookmarks, "b"))
	require.NoError(t, s.Remove(ctx, BucketBookmarks, 0))

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, p.UserData.Bookmarks)

	err = s.Remove(ctx, BucketBookmarks, 5)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestClipboardBoundedAndGated(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	for i := 0; i < maxClipboardItems+10; i++ {
		require.NoError(t, s.AppendClipboard(ctx, i, true))
	}
	p, err := s.Profile()
	require.NoError(t, err)
	assert.Len(t, p.CustomContent.ClipboardHistory, maxClipboardItems)

	emitted := len(out.records)
	require.NoError(t, s.AppendClipboard(ctx, "local-only", false))
	assert.Len(t, out.records, emitted, "non-replicated clipboard append must not emit")

	// Clipboard records use their own scope.
	assert.Equal(t, syncer.ScopeClipboard, out.records[0].Scope)
}

func TestSetPreferenceAndFeature(t *testing.T) {
	s, out := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPreference(ctx, "verbosity", "high"))
	require.NoError(t, s.SetFeatureEnabled(ctx, "screen_reader", true))

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, "high", p.Preferences["verbosity"])
	assert.True(t, p.AutoFeatures["screen_reader"])

	require.Len(t, out.records, 2)
	assert.Equal(t, "preferences", out.records[0].Key)
	assert.Equal(t, "auto_features", out.records[1].Key)
}

func TestApplyRemoteNotePropagation(t *testing.T) {
	s, out := newStore(t)

	var events []notification
	s.Subscribe(func(bucket string, old, new any) {
		events = append(events, notification{bucket: bucket, old: old, new: new})
	})

	rec := &syncer.ChangeRecord{
		ChangeID:     "c1",
		Scope:        syncer.ScopeProfile,
		Key:          "user_data.notes",
		Value:        json.RawMessage(`["shopping"]`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    time.Now().UTC().Add(time.Minute),
	}
	applied, err := s.ApplyRemote(rec)
	require.NoError(t, err)
	assert.True(t, applied)

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, []any{"shopping"}, p.UserData.Notes)

	require.Len(t, events, 1)
	assert.Equal(t, "user_data.notes", events[0].bucket)
	assert.Equal(t, []any{}, events[0].old)
	assert.Equal(t, []any{"shopping"}, events[0].new)

	// Remote application must not feed the outbound queue.
	assert.Empty(t, out.records)
}

func TestApplyRemoteOlderLoses(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, BucketNotes, "local"))

	rec := &syncer.ChangeRecord{
		ChangeID:     "c2",
		Scope:        syncer.ScopeProfile,
		Key:          "user_data.notes",
		Value:        json.RawMessage(`["remote"]`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    time.Now().UTC().Add(-time.Hour),
	}
	applied, err := s.ApplyRemote(rec)
	require.NoError(t, err)
	assert.False(t, applied)

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, []any{"local"}, p.UserData.Notes)
}

func TestApplyRemoteRejectsUnknownBucket(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.ApplyRemote(&syncer.ChangeRecord{
		Key:          "user_data.bogus",
		Value:        json.RawMessage(`[]`),
		SourceDevice: "bbbb000000000000",
		Timestamp:    time.Now().UTC(),
	})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSetLastSync(t *testing.T) {
	s, _ := newStore(t)

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SetLastSync(ts))

	p, err := s.Profile()
	require.NoError(t, err)
	assert.Equal(t, ts, p.LastSync)
}
