// Package store defines the persistence contract for session records.
// Implementations live under internal/store/<driver>/ (redisstore, memstore).
package store

import (
	"context"
	"time"

	"github.com/faultmaven/session-service/internal/model"
)

// Store exposes the operations required by the lifecycle layer.
//
// Every write applies the supplied deadline atomically with the value: a
// record is never left with fresh content and a stale expiration. A zero
// deadline means the record must not expire (archived sessions).
type Store interface {
	// Create stores a new session. Fails with model.ErrConflict if a record
	// already exists under the same key.
	Create(ctx context.Context, s *model.Session, deadline time.Time) error

	// Get loads a session scoped to userID. A record that never existed and
	// a record owned by another user both fail with model.ErrNotFound. A
	// record that exists but cannot be decoded fails with model.ErrDecode.
	Get(ctx context.Context, userID, sessionID string) (*model.Session, error)

	// Update replaces the record if and only if the persisted version still
	// equals expectedVersion; the stored copy carries expectedVersion+1.
	// A losing writer fails with model.ErrConflict.
	Update(ctx context.Context, s *model.Session, expectedVersion int64, deadline time.Time) error

	// Delete removes the record and its index membership. Deleting an
	// absent record is not an error.
	Delete(ctx context.Context, userID, sessionID string) error

	// ListIDs returns a snapshot of the user's secondary index. Members may
	// reference records the backing store has already expired; callers
	// reconcile via PruneIndex.
	ListIDs(ctx context.Context, userID string) ([]string, error)

	// PruneIndex drops a stale member from the user's secondary index.
	PruneIndex(ctx context.Context, userID, sessionID string) error

	// Ping verifies backing-store connectivity.
	Ping(ctx context.Context) error
}
