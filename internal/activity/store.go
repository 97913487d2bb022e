// Package activity records the canvas activity feed: durable activity rows,
// coalescing of high-frequency activity into batches, and summaries.
package activity

import (
	"context"
	"errors"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// ErrInvalidType reports an activity type outside the closed enum.
var ErrInvalidType = errors.New("invalid activity type")

// Filter selects activities from the feed. Zero values mean "any".
type Filter struct {
	CanvasID       string
	ConversationID string
	UserID         string
	Types          []models.ActivityType
	Since          time.Time
	Until          time.Time
	Limit          int
	Offset         int
}

// Store is the durable activity feed contract.
type Store interface {
	Insert(ctx context.Context, activity *models.Activity) error

	// List returns activities newest-first.
	List(ctx context.Context, filter Filter) ([]*models.Activity, error)

	// Summary aggregates activity on a canvas since the given instant.
	Summary(ctx context.Context, canvasID string, since time.Time) (*models.ActivitySummary, error)

	// DeleteOlderThan reaps rows past retention. Returns rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
