package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/observability"
	"github.com/arborhq/arbor/pkg/models"
)

// Broadcaster fans activity records out to connected clients. The gateway
// implements it; tests substitute a recorder.
type Broadcaster interface {
	// BroadcastActivity delivers an activity_update to a canvas room.
	BroadcastActivity(canvasID string, activity *models.Activity)

	// BroadcastNotification delivers an activity_notification toast for
	// high-priority activity.
	BroadcastNotification(canvasID string, activity *models.Activity)
}

// Service records activities, coalescing the high-frequency types into
// batched records before persisting.
type Service struct {
	store       Store
	broadcaster Broadcaster
	batcher     *Batcher
	logger      *slog.Logger
	metrics     *observability.Metrics

	flushTimeout time.Duration
	nowFunc      func() time.Time
}

// NewService wires the activity service. broadcaster and metrics may be nil.
func NewService(store Store, broadcaster Broadcaster, cfg config.ActivityConfig, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:        store,
		broadcaster:  broadcaster,
		logger:       logger,
		metrics:      metrics,
		flushTimeout: 5 * time.Second,
		nowFunc:      time.Now,
	}
	s.batcher = NewBatcher(s.flushBatch,
		WithWindow(cfg.BatchWindow),
		WithMaxSize(cfg.BatchMax),
	)
	return s
}

// RecordParams describes one domain event for the feed.
type RecordParams struct {
	CanvasID       string
	ConversationID string
	NodeID         string
	UserID         string
	UserName       string
	Type           models.ActivityType
	Description    string
	Metadata       map[string]any
}

// Record accepts an activity. Batchable types are buffered and persisted as
// coalesced records; everything else is written and broadcast immediately.
// The returned activity reflects the record as accepted, which for batchable
// types may later be folded into a batch.
func (s *Service) Record(ctx context.Context, p RecordParams) (*models.Activity, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if p.CanvasID == "" || p.UserID == "" {
		return nil, fmt.Errorf("canvasId and userId are required")
	}

	activity := &models.Activity{
		ID:             uuid.NewString(),
		CanvasID:       p.CanvasID,
		ConversationID: p.ConversationID,
		NodeID:         p.NodeID,
		UserID:         p.UserID,
		UserName:       p.UserName,
		Type:           p.Type,
		Description:    p.Description,
		Priority:       p.Type.Priority(),
		Metadata:       p.Metadata,
		Timestamp:      s.nowFunc(),
	}
	if activity.Description == "" {
		activity.Description = describe(activity, 1)
	}

	if p.Type.Batchable() {
		s.batcher.Add(activity)
		return activity, nil
	}

	if err := s.store.Insert(ctx, activity); err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}
	s.broadcast(activity)
	return activity, nil
}

// flushBatch persists a coalesced group as one record and broadcasts a
// single activity_update for it.
func (s *Service) flushBatch(items []*models.Activity) {
	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()

	record := items[0]
	if len(items) > 1 {
		first := items[0]
		entries := make([]map[string]any, 0, len(items))
		for _, item := range items {
			entries = append(entries, map[string]any{
				"id":             item.ID,
				"conversationId": item.ConversationID,
				"nodeId":         item.NodeID,
				"timestamp":      item.Timestamp,
			})
		}
		record = &models.Activity{
			ID:             uuid.NewString(),
			BatchID:        uuid.NewString(),
			CanvasID:       first.CanvasID,
			ConversationID: first.ConversationID,
			NodeID:         first.NodeID,
			UserID:         first.UserID,
			UserName:       first.UserName,
			Type:           first.Type,
			Priority:       first.Priority,
			Description:    describe(first, len(items)),
			Timestamp:      items[len(items)-1].Timestamp,
			Metadata: map[string]any{
				"batchCount": len(items),
				"activities": entries,
			},
		}
	}

	if err := s.store.Insert(ctx, record); err != nil {
		s.logger.Error("persist activity batch failed",
			"canvasId", record.CanvasID, "type", record.Type,
			"count", len(items), "error", err)
		return
	}
	s.metrics.RecordActivityBatch(len(items))
	s.broadcast(record)
}

func (s *Service) broadcast(activity *models.Activity) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastActivity(activity.CanvasID, activity)
	if activity.Type.Notifies() {
		s.broadcaster.BroadcastNotification(activity.CanvasID, activity)
	}
}

// describe builds the human-readable feed line.
func describe(a *models.Activity, count int) string {
	name := a.UserName
	if name == "" {
		name = a.UserID
	}
	if count > 1 {
		switch a.Type {
		case models.ActivityNodeEdited:
			return fmt.Sprintf("%s made %d edits", name, count)
		case models.ActivityConversationMoved:
			return fmt.Sprintf("%s moved %d conversations", name, count)
		case models.ActivityNodeLocked:
			return fmt.Sprintf("%s locked %d nodes", name, count)
		case models.ActivityNodeUnlocked:
			return fmt.Sprintf("%s unlocked %d nodes", name, count)
		default:
			return fmt.Sprintf("%s performed %d actions", name, count)
		}
	}
	switch a.Type {
	case models.ActivityConversationCreated:
		return name + " created a conversation"
	case models.ActivityConversationDeleted:
		return name + " deleted a conversation"
	case models.ActivityConversationMoved:
		return name + " moved a conversation"
	case models.ActivityConversationRenamed:
		return name + " renamed a conversation"
	case models.ActivityNodeCreated:
		return name + " added a node"
	case models.ActivityNodeEdited:
		return name + " edited a node"
	case models.ActivityNodeDeleted:
		return name + " deleted a node"
	case models.ActivityBranchCreated:
		return name + " created a branch"
	case models.ActivityFileUploaded:
		return name + " uploaded a file"
	case models.ActivityUserJoinedCanvas:
		return name + " joined the canvas"
	case models.ActivityUserLeftCanvas:
		return name + " left the canvas"
	case models.ActivityNodeLocked:
		return name + " locked a node"
	case models.ActivityNodeUnlocked:
		return name + " unlocked a node"
	case models.ActivityBulkDelete:
		return name + " deleted multiple items"
	case models.ActivityBulkMove:
		return name + " moved multiple items"
	case models.ActivityCanvasReorganized:
		return name + " reorganized the canvas"
	case models.ActivityConflictDetected:
		return "conflict detected on " + name + "'s change"
	case models.ActivityErrorOccurred:
		return "an error occurred during " + name + "'s action"
	default:
		return name + " did something"
	}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// List returns feed entries, newest first. An unset limit defaults to 50;
// oversized limits are capped.
func (s *Service) List(ctx context.Context, filter Filter) ([]*models.Activity, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return s.store.List(ctx, filter)
}

// Summarize aggregates a canvas's activity over the trailing window.
func (s *Service) Summarize(ctx context.Context, canvasID string, windowHours int) (*models.ActivitySummary, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := s.nowFunc().Add(-time.Duration(windowHours) * time.Hour)
	summary, err := s.store.Summary(ctx, canvasID, since)
	if err != nil {
		return nil, err
	}
	summary.WindowHours = windowHours
	return summary, nil
}

// CleanupOld reaps activities past retention.
func (s *Service) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.nowFunc().AddDate(0, 0, -retentionDays)
	return s.store.DeleteOlderThan(ctx, cutoff)
}

// Flush forces out all pending batches, as on shutdown.
func (s *Service) Flush() {
	s.batcher.FlushAll()
}

// Close flushes pending batches and stops the batcher.
func (s *Service) Close() {
	s.batcher.Stop()
}
