// Package syncer implements cross-device replication of user state: the
// change-record model, the persistent outbound journal, the cloud transport
// contract with its HTTP relay implementation, and the sync engine that runs
// the periodic push/pull loop with last-writer-wins conflict resolution.
package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope is the top-level bucket a ChangeRecord targets; it determines which
// store applies the record.
type Scope string

const (
	ScopeSetting   Scope = "setting"
	ScopeProfile   Scope = "profile"
	ScopeClipboard Scope = "clipboard"
	ScopeDocument  Scope = "document"
	ScopeNote      Scope = "note"
	ScopeReminder  Scope = "reminder"
	ScopeBookmark  Scope = "bookmark"
	ScopeHistory   Scope = "history"
	ScopeCustom    Scope = "custom"
)

// ChangeRecord is the unit of replication. Checksum is the stable hash of
// the canonical JSON form of Value and is used for idempotent de-duplication
// alongside ChangeID.
type ChangeRecord struct {
	ChangeID     string          `json:"change_id"`
	Scope        Scope           `json:"scope"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	SourceDevice string          `json:"source_device"`
	Timestamp    time.Time       `json:"timestamp"`
	Checksum     string          `json:"checksum"`
}

// NewChangeRecord builds a record for the given value, stamping it with a
// fresh uuid, the current UTC time, and the canonical checksum.
func NewChangeRecord(scope Scope, key string, value any, sourceDevice string) (*ChangeRecord, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal change value: %w", err)
	}

	sum, err := Checksum(raw)
	if err != nil {
		return nil, err
	}

	return &ChangeRecord{
		ChangeID:     uuid.NewString(),
		Scope:        scope,
		Key:          key,
		Value:        raw,
		SourceDevice: sourceDevice,
		Timestamp:    time.Now().UTC(),
		Checksum:     sum,
	}, nil
}

// Checksum returns the hex sha256 of the canonical JSON form of raw.
// Canonicalization round-trips through an untyped decode so object keys are
// emitted in sorted order regardless of the producer.
func Checksum(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("canonicalize value: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize value: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum and reports whether it matches the record.
func (r *ChangeRecord) Verify() bool {
	sum, err := Checksum(r.Value)
	return err == nil && sum == r.Checksum
}

// Supersedes reports whether this record wins over local state last modified
// at localTime by localDevice. Later timestamps win; at equal timestamps the
// lexicographically smaller source device wins, so all replicas converge on
// the same value regardless of arrival order.
func (r *ChangeRecord) Supersedes(localTime time.Time, localDevice string) bool {
	if r.Timestamp.After(localTime) {
		return true
	}
	if r.Timestamp.Equal(localTime) {
		return r.SourceDevice < localDevice
	}
	return false
}

// CopyPayload is the body of a copy-to-device record: a value destined for a
// single peer, applied under its original scope on arrival.
type CopyPayload struct {
	OriginalScope Scope           `json:"original_scope"`
	Key           string          `json:"key"`
	Value         json.RawMessage `json:"value"`
}

const (
	// CopyKeyPrefix marks records addressed to one peer; the suffix is the
	// target device id.
	CopyKeyPrefix = "copy_to:"

	// CopyAckPrefix marks the acknowledgment pushed after a copy record is
	// applied; the suffix is the copy record's change id.
	CopyAckPrefix = "copy_ack:"
)

// NewCopyRecord builds the distinguished record carrying a payload for one
// target device.
func NewCopyRecord(targetDevice string, payload CopyPayload, sourceDevice string) (*ChangeRecord, error) {
	return NewChangeRecord(ScopeCustom, CopyKeyPrefix+targetDevice, payload, sourceDevice)
}
