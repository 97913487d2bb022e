package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arborhq/arbor/internal/activity"
	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/sessions"
	"github.com/arborhq/arbor/pkg/models"
)

type testFixture struct {
	runner        *Runner
	collab        *collab.Service
	activity      *activity.Service
	activityStore *activity.MemoryStore
	durable       *sessions.MemoryStore
	ess           *ephemeral.MemoryStore
}

func newTestFixture(t *testing.T, mutate func(*config.Config)) *testFixture {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	ess := ephemeral.NewMemoryStore()
	durable := sessions.NewMemoryStore()
	activityStore := activity.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	collabSvc := collab.NewService(ess, durable, cfg.Collaboration, logger, nil)
	activitySvc := activity.NewService(activityStore, nil, cfg.Activity, logger, nil)
	t.Cleanup(activitySvc.Close)

	return &testFixture{
		runner:        NewRunner(collabSvc, activitySvc, durable, cfg, logger),
		collab:        collabSvc,
		activity:      activitySvc,
		activityStore: activityStore,
		durable:       durable,
		ess:           ess,
	}
}

func testUser(id string) models.User {
	return models.User{ID: id, Name: "user " + id}
}

func TestSweepExpiredLocks(t *testing.T) {
	f := newTestFixture(t, nil)
	ctx := context.Background()

	session, err := f.collab.StartSession(ctx, collab.StartSessionParams{
		User: testUser("u1"), CanvasID: "c1", ConversationID: "v1",
		NodeID: "n1", EditingType: models.EditingTypeNode,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.collab.AcquireHybridLock(ctx, session.SessionID, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// Before expiry the sweep leaves the lock alone.
	f.runner.SweepExpiredLocks(ctx)
	held, err := f.durable.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !held.HasLock {
		t.Fatal("sweep released a live lock")
	}

	time.Sleep(40 * time.Millisecond)
	f.runner.SweepExpiredLocks(ctx)
	released, err := f.durable.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if released.HasLock || released.LockExpiry != nil {
		t.Errorf("session = %+v, want lock cleared", released)
	}
}

func TestSweepStaleSessions_DeactivatesIdle(t *testing.T) {
	f := newTestFixture(t, func(cfg *config.Config) {
		cfg.Collaboration.SessionTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	session, err := f.collab.StartSession(ctx, collab.StartSessionParams{
		User: testUser("u1"), CanvasID: "c1", EditingType: models.EditingTypeCanvas,
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(40 * time.Millisecond)
	f.runner.SweepStaleSessions(ctx)

	got, err := f.durable.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Error("idle session should be deactivated")
	}
}

func TestSweepStaleSessions_CleansStalePresence(t *testing.T) {
	f := newTestFixture(t, func(cfg *config.Config) {
		cfg.Collaboration.HeartbeatTTL = 10 * time.Millisecond
	})
	ctx := context.Background()

	session, err := f.collab.StartSession(ctx, collab.StartSessionParams{
		User: testUser("u1"), CanvasID: "c1", EditingType: models.EditingTypeCanvas,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Past 2x the heartbeat TTL the user counts as stale; keep the durable
	// session fresh so the canvas stays on the active list.
	time.Sleep(40 * time.Millisecond)
	if err := f.durable.Touch(ctx, session.SessionID); err != nil {
		t.Fatal(err)
	}
	f.runner.SweepStaleSessions(ctx)

	snapshot, err := f.collab.GetCanvasPresence(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Users) != 0 {
		t.Errorf("users = %+v, want stale presence removed", snapshot.Users)
	}
}

func TestSweepRetention(t *testing.T) {
	f := newTestFixture(t, nil)
	ctx := context.Background()

	old := &models.Activity{
		ID: "old", CanvasID: "c1", UserID: "u1",
		Type:      models.ActivityNodeCreated,
		Priority:  models.PriorityMedium,
		Timestamp: time.Now().AddDate(0, 0, -40),
	}
	fresh := &models.Activity{
		ID: "fresh", CanvasID: "c1", UserID: "u1",
		Type:      models.ActivityNodeCreated,
		Priority:  models.PriorityMedium,
		Timestamp: time.Now(),
	}
	for _, a := range []*models.Activity{old, fresh} {
		if err := f.activityStore.Insert(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	dead := &models.EditingSession{
		SessionID: "s-dead", UserID: "u9", User: testUser("u9"),
		CanvasID: "c1", EditingType: models.EditingTypeCanvas,
		EditingTarget:  "c1",
		StartedAt:      time.Now().Add(-48 * time.Hour),
		LastActivityAt: time.Now().Add(-48 * time.Hour),
	}
	if err := f.durable.Upsert(ctx, dead); err != nil {
		t.Fatal(err)
	}

	f.runner.SweepRetention(ctx)

	listed, err := f.activityStore.List(ctx, activity.Filter{CanvasID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != "fresh" {
		t.Errorf("activities = %+v, want [fresh]", listed)
	}
	if _, err := f.durable.Get(ctx, "s-dead"); err != sessions.ErrNotFound {
		t.Errorf("expired session row should be reaped, got err=%v", err)
	}
}

func TestRunnerStartStop(t *testing.T) {
	f := newTestFixture(t, nil)
	if err := f.runner.Start(); err != nil {
		t.Fatal(err)
	}
	f.runner.Stop()
}
