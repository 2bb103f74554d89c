package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/device"
	"github.com/accessmate/accessmate/internal/filex"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/syncer"
)

const userFileName = "user_settings.json"

// Outbound is the slice of the sync engine the store needs: queueing a
// change record and forcing an immediate flush.
type Outbound interface {
	Enqueue(rec *syncer.ChangeRecord) error
	Flush(ctx context.Context) error
}

// Listener observes successful mutations. Values are copies; mutating them
// does not affect the store.
type Listener func(key string, oldValue, newValue any)

// keyMeta tracks when and where a user-scoped key was last written, for
// last-writer-wins comparison against inbound records.
type keyMeta struct {
	Timestamp time.Time `json:"ts"`
	Device    string    `json:"device"`
}

type storeFile struct {
	Values map[string]any     `json:"values"`
	Meta   map[string]keyMeta `json:"meta,omitempty"`
}

// Store is the authoritative settings source for the running process.
// Capability modules read through Get, never from the files directly.
type Store struct {
	mu        sync.Mutex
	dir       string
	platform  device.Platform
	deviceID  string
	user      map[string]any
	plat      map[string]any
	meta      map[string]keyMeta
	listeners []Listener
	out       Outbound
	log       logging.Logger
}

// Load reads both settings files from dir, tolerating absence (first run).
// out may be nil when sync is unavailable; mutations then skip the journal.
func Load(dir string, platform device.Platform, deviceID string, out Outbound, log logging.Logger) (*Store, error) {
	s := &Store{
		dir:      dir,
		platform: platform,
		deviceID: deviceID,
		user:     map[string]any{},
		plat:     map[string]any{},
		meta:     map[string]keyMeta{},
		out:      out,
		log:      log.With("component", "settings"),
	}

	uf, err := readStoreFile(s.userPath())
	if err != nil {
		return nil, err
	}
	if uf != nil {
		s.user = uf.Values
		if uf.Meta != nil {
			s.meta = uf.Meta
		}
	}

	pf, err := readStoreFile(s.platformPath())
	if err != nil {
		return nil, err
	}
	if pf != nil {
		s.plat = pf.Values
	}

	// Drop values that no longer satisfy the schema so a live store never
	// violates a validation predicate.
	for key, v := range s.user {
		if !s.stillValid(key, v, false) {
			delete(s.user, key)
			delete(s.meta, key)
		}
	}
	for key, v := range s.plat {
		if !s.stillValid(key, v, true) {
			delete(s.plat, key)
		}
	}

	return s, nil
}

func (s *Store) stillValid(key string, v any, wantPlatform bool) bool {
	def, err := Lookup(key)
	if err != nil || def.PlatformSpecific != wantPlatform {
		return false
	}
	norm, err := def.Normalize(v)
	if err != nil {
		return false
	}
	if wantPlatform {
		s.plat[key] = norm
	} else {
		s.user[key] = norm
	}
	return true
}

// Get returns the current value of key, or its schema default when unset.
// Unknown keys are a programmer error and fail with ErrUnknownKey.
func (s *Store) Get(key string) (any, error) {
	def, err := Lookup(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if def.PlatformSpecific {
		if v, ok := s.plat[key]; ok {
			return cloneValue(v), nil
		}
	} else if v, ok := s.user[key]; ok {
		return cloneValue(v), nil
	}
	return cloneValue(def.Default), nil
}

// Set validates and writes a new value. User-scoped keys additionally emit a
// ChangeRecord into the outbound journal; with syncNow the journal is
// flushed before returning. Listeners run with the store lock released.
func (s *Store) Set(ctx context.Context, key string, value any, syncNow bool) error {
	def, err := Lookup(key)
	if err != nil {
		return err
	}
	norm, err := def.Normalize(value)
	if err != nil {
		return err
	}

	var rec *syncer.ChangeRecord
	if !def.PlatformSpecific && s.out != nil {
		rec, err = syncer.NewChangeRecord(syncer.ScopeSetting, key, norm, s.deviceID)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	var old any
	if def.PlatformSpecific {
		old = s.currentLocked(def, s.plat, key)
		s.plat[key] = norm
	} else {
		old = s.currentLocked(def, s.user, key)
		s.user[key] = norm
		ts := time.Now().UTC()
		dev := s.deviceID
		if rec != nil {
			ts, dev = rec.Timestamp, rec.SourceDevice
		}
		s.meta[key] = keyMeta{Timestamp: ts, Device: dev}
	}
	err = s.persistLocked(def.PlatformSpecific)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if rec != nil {
		if err := s.out.Enqueue(rec); err != nil {
			return err
		}
	}

	for _, fn := range listeners {
		fn(key, cloneValue(old), cloneValue(norm))
	}

	if syncNow && rec != nil {
		return s.out.Flush(ctx)
	}
	return nil
}

func (s *Store) currentLocked(def Definition, m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	return def.Default
}

// Reset restores the given keys (or every key when none are given) to their
// schema defaults through Set, so records and listeners fire normally.
func (s *Store) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		keys = Keys()
	}
	for _, key := range keys {
		def, err := Lookup(key)
		if err != nil {
			return err
		}
		if err := s.Set(ctx, key, def.Default, false); err != nil {
			return err
		}
	}
	return nil
}

// RequiresRestart reports whether changes to key take effect only after the
// application restarts.
func (s *Store) RequiresRestart(key string) bool {
	def, err := Lookup(key)
	return err == nil && def.RequiresRestart
}

// Subscribe registers a listener invoked after every successful mutation,
// local or remote.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ApplyRemote merges one inbound setting record: schema validation, then a
// last-writer-wins comparison against the key's local metadata. Applying
// never re-emits an outbound record. Implements syncer.Applier.
func (s *Store) ApplyRemote(rec *syncer.ChangeRecord) (bool, error) {
	def, err := Lookup(rec.Key)
	if err != nil {
		return false, err
	}
	if def.PlatformSpecific {
		return false, fmt.Errorf("%w: %s is platform-scoped and never replicates", common.ErrValidation, rec.Key)
	}

	var raw any
	if err := json.Unmarshal(rec.Value, &raw); err != nil {
		return false, fmt.Errorf("%w: %s: %v", common.ErrValidation, rec.Key, err)
	}
	norm, err := def.Normalize(raw)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if meta, ok := s.meta[rec.Key]; ok && !rec.Supersedes(meta.Timestamp, meta.Device) {
		s.mu.Unlock()
		return false, nil
	}
	old := s.currentLocked(def, s.user, rec.Key)
	s.user[rec.Key] = norm
	s.meta[rec.Key] = keyMeta{Timestamp: rec.Timestamp, Device: rec.SourceDevice}
	err = s.persistLocked(false)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return false, err
	}

	for _, fn := range listeners {
		fn(rec.Key, cloneValue(old), cloneValue(norm))
	}
	return true, nil
}

// Export writes the user-scope settings map to path as JSON.
func (s *Store) Export(path string) error {
	s.mu.Lock()
	out := make(map[string]any, len(s.user))
	for k, v := range s.user {
		out[k] = cloneValue(v)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(path, data, 0o600)
}

// Import reads a settings map from path and applies it through Set, one
// ChangeRecord per changed key. With merge false, user-scoped keys absent
// from the file are reset to their defaults. The whole file is validated
// before anything is applied.
func (s *Store) Import(ctx context.Context, path string, merge bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	var in map[string]any
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: parse import file: %v", common.ErrValidation, err)
	}

	normalized := make(map[string]any, len(in))
	for key, v := range in {
		def, err := Lookup(key)
		if err != nil {
			return err
		}
		if def.PlatformSpecific {
			return fmt.Errorf("%w: %s is platform-scoped and cannot be imported", common.ErrValidation, key)
		}
		norm, err := def.Normalize(v)
		if err != nil {
			return err
		}
		normalized[key] = norm
	}

	for key, v := range normalized {
		current, err := s.Get(key)
		if err != nil {
			return err
		}
		if deepEqual(current, v) {
			continue
		}
		if err := s.Set(ctx, key, v, false); err != nil {
			return err
		}
	}

	if merge {
		return nil
	}
	for _, key := range Keys() {
		def, _ := Lookup(key)
		if def.PlatformSpecific {
			continue
		}
		if _, ok := normalized[key]; ok {
			continue
		}
		current, err := s.Get(key)
		if err != nil {
			return err
		}
		if deepEqual(current, def.Default) {
			continue
		}
		if err := s.Set(ctx, key, def.Default, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persistLocked(platformScope bool) error {
	if platformScope {
		return writeStoreFile(s.platformPath(), storeFile{Values: s.plat})
	}
	return writeStoreFile(s.userPath(), storeFile{Values: s.user, Meta: s.meta})
}

func (s *Store) userPath() string {
	return filepath.Join(s.dir, userFileName)
}

func (s *Store) platformPath() string {
	return filepath.Join(s.dir, string(s.platform)+"_settings.json")
}

func readStoreFile(path string) (*storeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sf.Values == nil {
		sf.Values = map[string]any{}
	}
	return &sf, nil
}

func writeStoreFile(path string, sf storeFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// cloneValue deep-copies list and dict values so callers never hold
// references into store state.
func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
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

func deepEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
