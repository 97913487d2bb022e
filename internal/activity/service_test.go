package activity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/pkg/models"
)

type broadcastRecorder struct {
	mu            sync.Mutex
	updates       []*models.Activity
	notifications []*models.Activity
}

func (r *broadcastRecorder) BroadcastActivity(canvasID string, activity *models.Activity) {
	r.mu.Lock()
	r.updates = append(r.updates, activity)
	r.mu.Unlock()
}

func (r *broadcastRecorder) BroadcastNotification(canvasID string, activity *models.Activity) {
	r.mu.Lock()
	r.notifications = append(r.notifications, activity)
	r.mu.Unlock()
}

func newTestActivityService(t *testing.T, cfg config.ActivityConfig) (*Service, *MemoryStore, *broadcastRecorder) {
	t.Helper()
	store := NewMemoryStore()
	rec := &broadcastRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, rec, cfg, logger, nil)
	t.Cleanup(svc.Close)
	return svc, store, rec
}

func TestRecord_ImmediateTypePersistsAndBroadcasts(t *testing.T) {
	svc, store, rec := newTestActivityService(t, config.Default().Activity)
	ctx := context.Background()

	activity, err := svc.Record(ctx, RecordParams{
		CanvasID: "c1",
		UserID:   "u1",
		UserName: "Ada",
		Type:     models.ActivityBranchCreated,
	})
	if err != nil {
		t.Fatal(err)
	}
	if activity.Priority != models.PriorityHigh {
		t.Errorf("priority = %q, want high", activity.Priority)
	}
	if activity.Description != "Ada created a branch" {
		t.Errorf("description = %q", activity.Description)
	}

	listed, err := store.List(ctx, Filter{CanvasID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("stored = %d, want 1", len(listed))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.updates) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(rec.updates))
	}
	// branch_created is a notifying type.
	if len(rec.notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(rec.notifications))
	}
}

func TestRecord_InvalidType(t *testing.T) {
	svc, _, _ := newTestActivityService(t, config.Default().Activity)
	_, err := svc.Record(context.Background(), RecordParams{
		CanvasID: "c1", UserID: "u1", Type: "interpretive_dance",
	})
	if err == nil {
		t.Fatal("invalid type should be rejected")
	}
}

func TestRecord_BatchableCoalescesIntoOneRecord(t *testing.T) {
	cfg := config.Default().Activity
	cfg.BatchWindow = 30 * time.Millisecond
	svc, store, rec := newTestActivityService(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Record(ctx, RecordParams{
			CanvasID: "c1", UserID: "u1", UserName: "Ada",
			NodeID: "n1", Type: models.ActivityNodeEdited,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// Nothing persists until the window closes.
	if listed, _ := store.List(ctx, Filter{CanvasID: "c1"}); len(listed) != 0 {
		t.Errorf("persisted before window closed: %d", len(listed))
	}

	var listed []*models.Activity
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		listed, _ = store.List(ctx, Filter{CanvasID: "c1"})
		if len(listed) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(listed) != 1 {
		t.Fatalf("persisted records = %d, want 1 coalesced record", len(listed))
	}

	batch := listed[0]
	if batch.Description != "Ada made 3 edits" {
		t.Errorf("description = %q, want \"Ada made 3 edits\"", batch.Description)
	}
	if batch.BatchID == "" {
		t.Error("batched record should carry a batchId")
	}
	if got := batch.Metadata["batchCount"]; got != 3 {
		t.Errorf("metadata.batchCount = %v, want 3", got)
	}
	entries, ok := batch.Metadata["activities"].([]map[string]any)
	if !ok || len(entries) != 3 {
		t.Errorf("metadata.activities = %#v, want 3 entries", batch.Metadata["activities"])
	}

	rec.mu.Lock()
	updates := len(rec.updates)
	rec.mu.Unlock()
	if updates != 1 {
		t.Errorf("broadcasts = %d, want a single activity_update for the batch", updates)
	}
}

func TestRecord_BatchFlushesAtSizeCap(t *testing.T) {
	cfg := config.Default().Activity
	cfg.BatchWindow = time.Hour
	cfg.BatchMax = 10
	svc, store, _ := newTestActivityService(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := svc.Record(ctx, RecordParams{
			CanvasID: "c1", UserID: "u1", UserName: "Ada",
			Type: models.ActivityNodeEdited,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	listed, err := store.List(ctx, Filter{CanvasID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("persisted = %d, want 1 batch at the cap", len(listed))
	}
	if got := listed[0].Metadata["batchCount"]; got != 10 {
		t.Errorf("batchCount = %v, want 10", got)
	}
}

func TestSummarize(t *testing.T) {
	svc, _, _ := newTestActivityService(t, config.Default().Activity)
	ctx := context.Background()

	for i, userID := range []string{"u1", "u1", "u2"} {
		typ := models.ActivityNodeCreated
		if i == 2 {
			typ = models.ActivityBranchCreated
		}
		if _, err := svc.Record(ctx, RecordParams{
			CanvasID: "c1", UserID: userID, UserName: "user " + userID, Type: typ,
		}); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := svc.Summarize(ctx, "c1", 24)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalCount != 3 {
		t.Errorf("total = %d, want 3", summary.TotalCount)
	}
	if summary.WindowHours != 24 {
		t.Errorf("windowHours = %d, want 24", summary.WindowHours)
	}
	created := summary.ByType[models.ActivityNodeCreated]
	if created.Count != 2 || created.UserCount != 2 {
		t.Errorf("node_created breakdown = %+v, want count=2 users=2", created)
	}
	if len(summary.TopUsers) != 2 || summary.TopUsers[0].UserID != "u1" {
		t.Errorf("top users = %+v, want u1 first", summary.TopUsers)
	}
}

func TestList_DefaultsAndCapsLimit(t *testing.T) {
	svc, store, _ := newTestActivityService(t, config.Default().Activity)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		a := testActivity("c1", "u1", models.ActivityNodeCreated)
		a.ID = fmt.Sprintf("a%d", i)
		if err := store.Insert(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := svc.List(ctx, Filter{CanvasID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 50 {
		t.Errorf("query without limit returned %d rows, want the default 50", len(listed))
	}

	limited, err := svc.List(ctx, Filter{CanvasID: "c1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 10 {
		t.Errorf("limit 10 returned %d rows", len(limited))
	}

	capped, err := svc.List(ctx, Filter{CanvasID: "c1", Limit: 10000})
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 60 {
		t.Errorf("capped query returned %d rows, want all 60", len(capped))
	}
}

func TestCleanupOld(t *testing.T) {
	svc, store, _ := newTestActivityService(t, config.Default().Activity)
	ctx := context.Background()

	old := testActivity("c1", "u1", models.ActivityNodeCreated)
	old.ID = "old"
	old.Timestamp = time.Now().AddDate(0, 0, -40)
	if err := store.Insert(ctx, old); err != nil {
		t.Fatal(err)
	}
	fresh := testActivity("c1", "u1", models.ActivityNodeCreated)
	fresh.ID = "fresh"
	if err := store.Insert(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	removed, err := svc.CleanupOld(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	listed, _ := store.List(ctx, Filter{CanvasID: "c1"})
	if len(listed) != 1 || listed[0].ID != "fresh" {
		t.Errorf("survivors = %+v, want [fresh]", listed)
	}
}
