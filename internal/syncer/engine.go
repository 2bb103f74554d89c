package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/filex"
	"github.com/accessmate/accessmate/internal/logging"
)

const (
	minInterval = 1 * time.Second
	maxInterval = 3600 * time.Second

	defaultCallTimeout  = 30 * time.Second
	defaultDrainTimeout = 5 * time.Second
	defaultRetryInitial = 2 * time.Second
	defaultRetryCap     = 5 * time.Minute
	defaultMaxRetries   = 5

	// appliedCacheSize bounds the LRU of recently applied change ids.
	appliedCacheSize = 512

	// failureDiagnosticThreshold is how many consecutive failed cycles are
	// tolerated silently before a diagnostic is logged.
	failureDiagnosticThreshold = 3
)

// Applier consumes inbound records for one or more scopes. Implementations
// validate the value, compare (timestamp, source_device) against local state,
// and apply without re-emitting an outbound record. The returned bool
// reports whether local state changed.
type Applier interface {
	ApplyRemote(rec *ChangeRecord) (bool, error)
}

// Status is a point-in-time snapshot of the engine, safe to read from any
// goroutine.
type Status struct {
	Running  bool
	Disabled bool
	Pending  int
	Cursor   string
	LastSync time.Time
	LastErr  string
	Failures int
}

// EngineConfig wires an Engine. Transport, DeviceID, UserID, JournalPath,
// CursorPath, and Logger are required; durations fall back to defaults when
// zero.
type EngineConfig struct {
	DeviceID    string
	UserID      string
	Transport   Transport
	JournalPath string
	CursorPath  string
	Logger      logging.Logger

	Interval     time.Duration
	CallTimeout  time.Duration
	DrainTimeout time.Duration
	RetryInitial time.Duration
	RetryCap     time.Duration
	MaxRetries   uint64

	// OnSynced, if set, is invoked after every successful pull with the
	// completion time. The manager uses it to stamp profile.last_sync.
	OnSynced func(time.Time)
}

// Engine owns the replication loop of one installation: it drains the
// outbound journal into the transport and merges inbound records into the
// registered appliers. At most one worker runs per engine.
type Engine struct {
	cfg EngineConfig
	log logging.Logger

	mu       sync.Mutex
	appliers map[Scope]Applier
	queue    []*ChangeRecord
	journal  *Journal
	cursor   string
	running  bool
	disabled bool
	lastSync time.Time
	lastErr  string
	failures int

	applied *lru.Cache[string, struct{}]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEngine opens the journal and cursor files and restores any pending
// outbound records from a previous run.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, errors.New("syncer: transport is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("syncer: logger is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = defaultRetryInitial
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = defaultRetryCap
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}
	if cfg.Interval > maxInterval {
		cfg.Interval = maxInterval
	}

	journal, pending, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		return nil, err
	}

	applied, err := lru.New[string, struct{}](appliedCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "syncer"),
		appliers: make(map[Scope]Applier),
		queue:    pending,
		journal:  journal,
		applied:  applied,
	}
	e.cursor = e.loadCursor()
	return e, nil
}

// RegisterApplier routes inbound records with the given scope to a. Must be
// called before Start.
func (e *Engine) RegisterApplier(scope Scope, a Applier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appliers[scope] = a
}

// Enqueue appends a record to the outbound queue and the persistent journal.
// Safe to call whether or not the worker is running; records survive a crash
// and are pushed on the next successful flush. The journal append and the
// queue insertion happen under one lock so a concurrent flush compaction
// cannot rewrite the journal without the new record.
func (e *Engine) Enqueue(rec *ChangeRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.journal.Append(rec); err != nil {
		return err
	}
	e.queue = append(e.queue, rec)
	return nil
}

// Start performs one immediate pull, then launches the periodic worker.
// Calling Start on a running engine is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("syncer: already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	if err := e.pull(ctx); err != nil {
		e.noteFailure(ctx, err)
	}

	go e.run()
	return nil
}

// Stop signals the worker, waits for it to exit, then drains any pending
// outbound records under the configured deadline. Records not flushed in
// time stay in the journal for the next start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancel()
	if err := e.Flush(ctx); err != nil && !errors.Is(err, common.ErrSyncDisabled) {
		e.log.Warn(ctx, "drain incomplete, records stay journaled", "error", err)
	}
}

func (e *Engine) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			if err := e.SyncOnce(ctx); err != nil {
				e.noteFailure(ctx, err)
			}
		}
	}
}

// SyncOnce runs one full cycle: flush the outbound queue, then pull and
// merge inbound records.
func (e *Engine) SyncOnce(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// Flush pushes the outbound queue. Acknowledged records are removed from
// queue and journal; on transient exhaustion they remain for the next tick.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.disabled {
		e.mu.Unlock()
		return common.ErrSyncDisabled
	}
	batch := make([]*ChangeRecord, len(e.queue))
	copy(batch, e.queue)
	cursor := e.cursor
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var newCursor string
	err := e.withRetry(ctx, func(callCtx context.Context) error {
		c, err := e.cfg.Transport.Push(callCtx, batch, cursor)
		if err != nil {
			return err
		}
		newCursor = c
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrSyncPermanent) {
			e.disable(ctx, err)
		}
		return err
	}

	acked := make(map[string]struct{}, len(batch))
	for _, rec := range batch {
		acked[rec.ChangeID] = struct{}{}
	}

	// Compact while holding the lock: the rewritten journal must match the
	// queue exactly, including records enqueued after the batch snapshot.
	e.mu.Lock()
	remaining := e.queue[:0]
	for _, rec := range e.queue {
		if _, ok := acked[rec.ChangeID]; !ok {
			remaining = append(remaining, rec)
		}
	}
	e.queue = remaining
	e.cursor = newCursor
	rwErr := e.journal.Rewrite(remaining)
	e.mu.Unlock()

	if rwErr != nil {
		return rwErr
	}
	return e.saveCursor(newCursor)
}

func (e *Engine) pull(ctx context.Context) error {
	e.mu.Lock()
	if e.disabled {
		e.mu.Unlock()
		return common.ErrSyncDisabled
	}
	cursor := e.cursor
	e.mu.Unlock()

	var (
		records   []*ChangeRecord
		newCursor string
	)
	err := e.withRetry(ctx, func(callCtx context.Context) error {
		recs, c, err := e.cfg.Transport.Pull(callCtx, e.cfg.UserID, cursor)
		if err != nil {
			return err
		}
		records, newCursor = recs, c
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrSyncPermanent) {
			e.disable(ctx, err)
		}
		return err
	}

	for _, rec := range records {
		e.applyRecord(ctx, rec)
	}

	e.mu.Lock()
	e.cursor = newCursor
	e.lastSync = time.Now().UTC()
	e.lastErr = ""
	e.failures = 0
	e.mu.Unlock()

	if err := e.saveCursor(newCursor); err != nil {
		return err
	}
	if e.cfg.OnSynced != nil {
		e.cfg.OnSynced(time.Now().UTC())
	}
	return nil
}

// applyRecord merges one inbound record: echo suppression, idempotence via
// the applied-id cache, copy-to-device unwrapping, then hand-off to the
// scope's applier.
func (e *Engine) applyRecord(ctx context.Context, rec *ChangeRecord) {
	if rec.SourceDevice == e.cfg.DeviceID {
		return
	}
	if _, seen := e.applied.Get(rec.ChangeID); seen {
		return
	}
	e.applied.Add(rec.ChangeID, struct{}{})

	if rec.Scope == ScopeCustom && strings.HasPrefix(rec.Key, CopyKeyPrefix) {
		e.applyCopyRecord(ctx, rec)
		return
	}

	if !rec.Verify() {
		e.log.Warn(ctx, "dropping record with bad checksum", "change_id", rec.ChangeID, "key", rec.Key)
		return
	}

	e.dispatch(ctx, rec)
}

func (e *Engine) dispatch(ctx context.Context, rec *ChangeRecord) {
	e.mu.Lock()
	applier := e.appliers[rec.Scope]
	e.mu.Unlock()

	if applier == nil {
		e.log.Warn(ctx, "no applier for scope", "scope", rec.Scope, "key", rec.Key)
		return
	}

	applied, err := applier.ApplyRemote(rec)
	if err != nil {
		e.log.Warn(ctx, "dropping invalid remote record",
			"change_id", rec.ChangeID, "key", rec.Key, "error", err)
		return
	}
	if applied {
		e.log.Debug(ctx, "applied remote record", "scope", rec.Scope, "key", rec.Key,
			"source", rec.SourceDevice)
	}
}

// applyCopyRecord handles a record addressed to a single peer. Non-matching
// peers ignore it; the matching peer applies the payload under its original
// scope and pushes an acknowledgment so the relay can drop the record.
func (e *Engine) applyCopyRecord(ctx context.Context, rec *ChangeRecord) {
	target := strings.TrimPrefix(rec.Key, CopyKeyPrefix)
	if target != e.cfg.DeviceID {
		return
	}

	var payload CopyPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		e.log.Warn(ctx, "dropping malformed copy record", "change_id", rec.ChangeID, "error", err)
		return
	}

	sum, err := Checksum(payload.Value)
	if err != nil {
		e.log.Warn(ctx, "dropping malformed copy payload", "change_id", rec.ChangeID, "error", err)
		return
	}
	inner := &ChangeRecord{
		ChangeID:     rec.ChangeID,
		Scope:        payload.OriginalScope,
		Key:          payload.Key,
		Value:        payload.Value,
		SourceDevice: rec.SourceDevice,
		Timestamp:    rec.Timestamp,
		Checksum:     sum,
	}
	e.dispatch(ctx, inner)

	ack, err := NewChangeRecord(ScopeCustom, CopyAckPrefix+rec.ChangeID, struct{}{}, e.cfg.DeviceID)
	if err != nil {
		e.log.Error(ctx, "building copy ack", "error", err)
		return
	}
	if err := e.Enqueue(ack); err != nil {
		e.log.Error(ctx, "enqueueing copy ack", "error", err)
	}
}

// withRetry runs op under the per-call timeout with exponential backoff on
// transient failures. Permanent failures abort immediately.
func (e *Engine) withRetry(ctx context.Context, op func(context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()

		err := op(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrSyncPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitial
	bo.MaxInterval = e.cfg.RetryCap

	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.MaxRetries), ctx))
}

func (e *Engine) disable(ctx context.Context, err error) {
	e.mu.Lock()
	already := e.disabled
	e.disabled = true
	e.lastErr = err.Error()
	e.mu.Unlock()

	if !already {
		e.log.Error(ctx, "cloud sync disabled for this session", "error", err)
	}
}

func (e *Engine) noteFailure(ctx context.Context, err error) {
	e.mu.Lock()
	e.failures++
	e.lastErr = err.Error()
	n := e.failures
	e.mu.Unlock()

	if n == failureDiagnosticThreshold {
		e.log.Warn(ctx, "sync failing repeatedly", "consecutive_failures", n, "error", err)
	} else {
		e.log.Debug(ctx, "sync cycle failed", "error", err)
	}
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:  e.running,
		Disabled: e.disabled,
		Pending:  len(e.queue),
		Cursor:   e.cursor,
		LastSync: e.lastSync,
		LastErr:  e.lastErr,
		Failures: e.failures,
	}
}

func (e *Engine) loadCursor() string {
	data, err := os.ReadFile(e.cfg.CursorPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (e *Engine) saveCursor(cursor string) error {
	if err := filex.WriteFileAtomic(e.cfg.CursorPath, []byte(cursor), 0o600); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	return nil
}
