package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/filex"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/syncer"
)

// Bucket names a replicated part of the profile document. The bucket path is
// the ChangeRecord key; the record value is always the full bucket contents.
type Bucket string

const (
	BucketDocuments   Bucket = "user_data.documents"
	BucketNotes       Bucket = "user_data.notes"
	BucketReminders   Bucket = "user_data.reminders"
	BucketBookmarks   Bucket = "user_data.bookmarks"
	BucketHistory     Bucket = "user_data.history"
	BucketClipboard   Bucket = "custom_content.clipboard_history"
	BucketSyncedFiles Bucket = "custom_content.synced_files"

	bucketPreferences     Bucket = "preferences"
	bucketAutoFeatures    Bucket = "auto_features"
	bucketFeatureSettings Bucket = "feature_settings"
)

// maxClipboardItems bounds the cross-device clipboard history.
const maxClipboardItems = 50

// Outbound mirrors settings.Outbound: the sync hooks the store needs.
type Outbound interface {
	Enqueue(rec *syncer.ChangeRecord) error
	Flush(ctx context.Context) error
}

// Listener observes bucket-level mutations. Old and new are copies of the
// full bucket contents.
type Listener func(bucket string, oldValue, newValue any)

type keyMeta struct {
	Timestamp time.Time `json:"ts"`
	Device    string    `json:"device"`
}

type profileFile struct {
	Profile *Profile           `json:"profile"`
	Meta    map[string]keyMeta `json:"sync_meta,omitempty"`
}

// Store owns the live profile of the current session. The UniversalManager
// holds the only instance; the sync engine reaches it through ApplyRemote.
type Store struct {
	mu        sync.Mutex
	dir       string
	deviceID  string
	p         *Profile
	meta      map[string]keyMeta
	listeners []Listener
	out       Outbound
	log       logging.Logger
}

// LoadOrCreate reads profile_<username>.json, creating a fresh profile on
// first login. out may be nil when sync is unavailable.
func LoadOrCreate(dir, username, deviceID, platform string, out Outbound, log logging.Logger) (*Store, error) {
	s := &Store{
		dir:      dir,
		deviceID: deviceID,
		meta:     map[string]keyMeta{},
		out:      out,
		log:      log.With("component", "profile"),
	}

	path := s.path(username)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.p = newProfile(username, deviceID, platform)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read profile: %w", err)
	default:
		var pf profileFile
		if err := json.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("parse profile: %w", err)
		}
		if pf.Profile == nil {
			return nil, fmt.Errorf("parse profile: empty document")
		}
		s.p = pf.Profile
		if pf.Meta != nil {
			s.meta = pf.Meta
		}
		normalize(s.p)
	}

	return s, nil
}

func normalize(p *Profile) {
	if p.AutoFeatures == nil {
		p.AutoFeatures = map[string]bool{}
	}
	if p.FeatureSettings == nil {
		p.FeatureSettings = map[string]any{}
	}
	if p.Preferences == nil {
		p.Preferences = map[string]any{}
	}
}

// Profile returns a deep copy of the current document.
func (s *Store) Profile() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() (*Profile, error) {
	data, err := json.Marshal(s.p)
	if err != nil {
		return nil, err
	}
	var out Profile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	normalize(&out)
	return &out, nil
}

// Username returns the profile owner.
func (s *Store) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Username
}

// UserID returns the stable user id of the profile owner.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.UserID
}

// Append adds an item to a list bucket, persists, and replicates the full
// bucket.
func (s *Store) Append(ctx context.Context, bucket Bucket, item any) error {
	return s.mutateList(ctx, bucket, func(list []any) ([]any, error) {
		return append(list, item), nil
	})
}

// Remove deletes the item at index from a list bucket.
func (s *Store) Remove(ctx context.Context, bucket Bucket, index int) error {
	return s.mutateList(ctx, bucket, func(list []any) ([]any, error) {
		if index < 0 || index >= len(list) {
			return nil, fmt.Errorf("%w: index %d out of range for %s", common.ErrValidation, index, bucket)
		}
		return append(list[:index], list[index+1:]...), nil
	})
}

// AppendClipboard records a clipboard item, trimming history to its bound.
// With replicate false the change stays local (cross_device_clipboard off).
func (s *Store) AppendClipboard(ctx context.Context, item any, replicate bool) error {
	mutate := func(list []any) ([]any, error) {
		list = append(list, item)
		if len(list) > maxClipboardItems {
			list = list[len(list)-maxClipboardItems:]
		}
		return list, nil
	}
	if replicate {
		return s.mutateList(ctx, BucketClipboard, mutate)
	}
	return s.mutateListLocal(BucketClipboard, mutate)
}

// SetPreference stores one preference and replicates the preferences map.
func (s *Store) SetPreference(ctx context.Context, name string, value any) error {
	return s.mutateMap(ctx, bucketPreferences, func(m map[string]any) {
		m[name] = value
	})
}

// SetFeatureEnabled flips one auto-activation flag and replicates the map.
func (s *Store) SetFeatureEnabled(ctx context.Context, name string, enabled bool) error {
	rec, notes, err := s.mutate(bucketAutoFeatures, func() (any, any) {
		old := cloneValue(boolMapToAny(s.p.AutoFeatures))
		s.p.AutoFeatures[name] = enabled
		return old, cloneValue(boolMapToAny(s.p.AutoFeatures))
	})
	if err != nil {
		return err
	}
	return s.finish(rec, notes)
}

// SetFeatureSetting stores one feature-specific setting value.
func (s *Store) SetFeatureSetting(ctx context.Context, name string, value any) error {
	return s.mutateMap(ctx, bucketFeatureSettings, func(m map[string]any) {
		m[name] = value
	})
}

// SetLastSync stamps the profile with the completion time of a sync cycle.
// Only the sync engine calls this.
func (s *Store) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.LastSync = t
	return s.persistLocked()
}

// Subscribe registers a bucket mutation listener.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Delete removes the profile document from disk. Used only for explicit
// account deletion.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(s.p.Username)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// notification pairs a listener call with its payload.
type notification struct {
	bucket   string
	old, new any
}

// mutate runs fn under the lock, persists, and builds the outbound record
// from the new bucket contents fn returns.
func (s *Store) mutate(bucket Bucket, fn func() (oldVal, newVal any)) (*syncer.ChangeRecord, []notification, error) {
	s.mu.Lock()
	old, newVal := fn()

	var rec *syncer.ChangeRecord
	if s.out != nil {
		r, err := syncer.NewChangeRecord(scopeFor(bucket), string(bucket), newVal, s.deviceID)
		if err != nil {
			s.mu.Unlock()
			return nil, nil, err
		}
		rec = r
		s.meta[string(bucket)] = keyMeta{Timestamp: r.Timestamp, Device: r.SourceDevice}
	} else {
		s.meta[string(bucket)] = keyMeta{Timestamp: time.Now().UTC(), Device: s.deviceID}
	}

	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		return nil, nil, err
	}

	return rec, []notification{{bucket: string(bucket), old: old, new: newVal}}, nil
}

func (s *Store) finish(rec *syncer.ChangeRecord, notes []notification) error {
	if rec != nil && s.out != nil {
		if err := s.out.Enqueue(rec); err != nil {
			return err
		}
	}

	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, n := range notes {
		for _, fn := range listeners {
			fn(n.bucket, n.old, n.new)
		}
	}
	return nil
}

func (s *Store) mutateList(ctx context.Context, bucket Bucket, fn func([]any) ([]any, error)) error {
	rec, notes, err := s.mutateListInner(bucket, fn, true)
	if err != nil {
		return err
	}
	return s.finish(rec, notes)
}

func (s *Store) mutateListLocal(bucket Bucket, fn func([]any) ([]any, error)) error {
	_, notes, err := s.mutateListInner(bucket, fn, false)
	if err != nil {
		return err
	}
	return s.finish(nil, notes)
}

func (s *Store) mutateListInner(bucket Bucket, fn func([]any) ([]any, error), replicate bool) (*syncer.ChangeRecord, []notification, error) {
	s.mu.Lock()

	ref := s.listRef(bucket)
	if ref == nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: unknown bucket %s", common.ErrValidation, bucket)
	}

	old := cloneList(*ref)
	updated, err := fn(cloneList(*ref))
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	*ref = updated

	var rec *syncer.ChangeRecord
	if replicate && s.out != nil {
		r, err := syncer.NewChangeRecord(scopeFor(bucket), string(bucket), updated, s.deviceID)
		if err != nil {
			s.mu.Unlock()
			return nil, nil, err
		}
		rec = r
		s.meta[string(bucket)] = keyMeta{Timestamp: r.Timestamp, Device: r.SourceDevice}
	} else {
		s.meta[string(bucket)] = keyMeta{Timestamp: time.Now().UTC(), Device: s.deviceID}
	}

	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	return rec, []notification{{bucket: string(bucket), old: old, new: cloneList(updated)}}, nil
}

func (s *Store) mutateMap(ctx context.Context, bucket Bucket, fn func(map[string]any)) error {
	rec, notes, err := s.mutate(bucket, func() (any, any) {
		m := s.mapRef(bucket)
		old := cloneValue(*m)
		fn(*m)
		return old, cloneValue(*m)
	})
	if err != nil {
		return err
	}
	return s.finish(rec, notes)
}

// ApplyRemote merges one inbound profile record: whole-bucket replacement
// under last-writer-wins. Implements syncer.Applier.
func (s *Store) ApplyRemote(rec *syncer.ChangeRecord) (bool, error) {
	s.mu.Lock()

	if meta, ok := s.meta[rec.Key]; ok && !rec.Supersedes(meta.Timestamp, meta.Device) {
		s.mu.Unlock()
		return false, nil
	}

	bucket := Bucket(rec.Key)
	var old, newVal any

	if ref := s.listRef(bucket); ref != nil {
		var list []any
		if err := json.Unmarshal(rec.Value, &list); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("%w: %s expects a list: %v", common.ErrValidation, rec.Key, err)
		}
		if list == nil {
			list = []any{}
		}
		old = cloneList(*ref)
		*ref = list
		newVal = cloneList(list)
	} else if bucket == bucketAutoFeatures {
		var m map[string]bool
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("%w: %s expects a bool map: %v", common.ErrValidation, rec.Key, err)
		}
		if m == nil {
			m = map[string]bool{}
		}
		old = cloneValue(boolMapToAny(s.p.AutoFeatures))
		s.p.AutoFeatures = m
		newVal = cloneValue(boolMapToAny(m))
	} else if mref := s.mapRef(bucket); mref != nil {
		var m map[string]any
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("%w: %s expects a map: %v", common.ErrValidation, rec.Key, err)
		}
		if m == nil {
			m = map[string]any{}
		}
		old = cloneValue(*mref)
		*mref = m
		newVal = cloneValue(m)
	} else {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: unknown bucket %s", common.ErrValidation, rec.Key)
	}

	s.meta[rec.Key] = keyMeta{Timestamp: rec.Timestamp, Device: rec.SourceDevice}
	err := s.persistLocked()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return false, err
	}

	for _, fn := range listeners {
		fn(rec.Key, old, newVal)
	}
	return true, nil
}

// listRef maps a bucket path to its slice inside the document. Returns nil
// for non-list buckets.
func (s *Store) listRef(bucket Bucket) *[]any {
	switch bucket {
	case BucketDocuments:
		return &s.p.UserData.Documents
	case BucketNotes:
		return &s.p.UserData.Notes
	case BucketReminders:
		return &s.p.UserData.Reminders
	case BucketBookmarks:
		return &s.p.UserData.Bookmarks
	case BucketHistory:
		return &s.p.UserData.History
	case BucketClipboard:
		return &s.p.CustomContent.ClipboardHistory
	case BucketSyncedFiles:
		return &s.p.CustomContent.SyncedFiles
	default:
		return nil
	}
}

func (s *Store) mapRef(bucket Bucket) *map[string]any {
	switch bucket {
	case bucketPreferences:
		return &s.p.Preferences
	case bucketFeatureSettings:
		return &s.p.FeatureSettings
	default:
		return nil
	}
}

// scopeFor picks the ChangeRecord scope for a bucket. The clipboard has its
// own scope; everything else replicates under the profile scope.
func scopeFor(bucket Bucket) syncer.Scope {
	if bucket == BucketClipboard {
		return syncer.ScopeClipboard
	}
	return syncer.ScopeProfile
}

// Scopes lists every scope this store applies, for engine registration.
func Scopes() []syncer.Scope {
	return []syncer.Scope{
		syncer.ScopeProfile,
		syncer.ScopeClipboard,
		syncer.ScopeDocument,
		syncer.ScopeNote,
		syncer.ScopeReminder,
		syncer.ScopeBookmark,
		syncer.ScopeHistory,
	}
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(profileFile{Profile: s.p, Meta: s.meta}, "", "  ")
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(s.path(s.p.Username), data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (s *Store) path(username string) string {
	return filepath.Join(s.dir, "profile_"+username+".json")
}

func cloneList(in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		return cloneList(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func boolMapToAny(in map[string]bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
