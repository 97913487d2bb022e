// Package sessions persists durable editing-session records. The durable
// store is authoritative; ephemeral state mirrors it and may lag.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

var (
	// ErrNotFound reports a missing session record.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict reports a lost optimistic-concurrency race. The
	// caller re-reads and retries or fails per its own discipline.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store is the durable session store contract.
type Store interface {
	// Upsert creates the session or refreshes the existing row for the
	// same (user, target), bumping the version.
	Upsert(ctx context.Context, session *models.EditingSession) error

	Get(ctx context.Context, sessionID string) (*models.EditingSession, error)

	// End marks the session inactive and drops its lock. Missing rows are
	// not an error.
	End(ctx context.Context, sessionID string) error

	// Touch refreshes last_activity_at.
	Touch(ctx context.Context, sessionID string) error

	// FindLockConflict returns an active session holding a live lock on
	// the target, excluding the given user. Nil when the target is free.
	FindLockConflict(ctx context.Context, editingTarget, excludeUserID string, now time.Time) (*models.EditingSession, error)

	// AcquireLock marks the session as holding the lock until expiry.
	AcquireLock(ctx context.Context, sessionID string, expiry time.Time) (*models.EditingSession, error)

	// ReleaseLock clears the lock flag. Missing rows are not an error.
	ReleaseLock(ctx context.Context, sessionID string) error

	// ListByCanvas returns sessions on a canvas, optionally only active.
	ListByCanvas(ctx context.Context, canvasID string, activeOnly bool) ([]*models.EditingSession, error)

	// ActiveCanvases lists canvases with at least one active session.
	ActiveCanvases(ctx context.Context) ([]string, error)

	// DeactivateStale deactivates sessions idle past cutoff or holding an
	// expired lock. Returns the number of rows changed.
	DeactivateStale(ctx context.Context, cutoff, now time.Time) (int64, error)

	// ClearExpiredLocks drops lock flags whose expiry has passed on
	// otherwise-active sessions. Returns the number of rows changed.
	ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	// DeleteExpired removes rows whose last activity predates cutoff,
	// mirroring the TTL index of the document store.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
