package syncer

import (
	"context"
	"fmt"

	"github.com/accessmate/accessmate/internal/common"
)

// Transport is the cloud relay contract. The cursor is opaque to the core;
// implementations must return records in non-decreasing timestamp order with
// ties broken by source device, and must honor the deadline on ctx.
//
// Failures are classified by wrapping common.ErrSyncTransient or
// common.ErrSyncPermanent: transient errors are retried with exponential
// backoff, permanent errors disable cloud sync for the session.
type Transport interface {
	// Push uploads outbound records and returns the advanced cursor.
	Push(ctx context.Context, records []*ChangeRecord, cursor string) (string, error)

	// Pull fetches records for the user after the given cursor.
	Pull(ctx context.Context, userID string, since string) ([]*ChangeRecord, string, error)
}

// Transient wraps err so the engine retries the operation.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", common.ErrSyncTransient, err)
}

// Permanent wraps err so the engine gives up on cloud sync for the session.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", common.ErrSyncPermanent, err)
}
