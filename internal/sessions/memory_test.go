package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

func newSession(id, userID, canvasID, target string) *models.EditingSession {
	now := time.Now()
	return &models.EditingSession{
		SessionID:      id,
		UserID:         userID,
		User:           models.User{ID: userID, Name: "user " + userID},
		CanvasID:       canvasID,
		NodeID:         target,
		EditingType:    models.EditingTypeNode,
		EditingTarget:  target,
		StartedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}
}

func TestMemoryStore_UpsertReplacesSameTarget(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newSession("s1", "u1", "c1", "n1")
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := newSession("s2", "u1", "c1", "n1")
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, "s1"); err != ErrNotFound {
		t.Errorf("old session id should be replaced, got err=%v", err)
	}
	got, err := store.Get(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2 after upsert", got.Version)
	}
}

func TestMemoryStore_LockConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	holder := newSession("s1", "u1", "c1", "n1")
	if err := store.Upsert(ctx, holder); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AcquireLock(ctx, "s1", now.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}

	conflict, err := store.FindLockConflict(ctx, "n1", "u2", now)
	if err != nil {
		t.Fatal(err)
	}
	if conflict == nil || conflict.UserID != "u1" {
		t.Fatalf("expected conflict with u1, got %+v", conflict)
	}

	// Self never conflicts.
	if c, _ := store.FindLockConflict(ctx, "n1", "u1", now); c != nil {
		t.Errorf("self lock reported as conflict: %+v", c)
	}

	// Expired locks never conflict.
	if c, _ := store.FindLockConflict(ctx, "n1", "u2", now.Add(time.Minute)); c != nil {
		t.Errorf("expired lock reported as conflict: %+v", c)
	}
}

func TestMemoryStore_DeactivateStale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	idle := newSession("s1", "u1", "c1", "n1")
	idle.LastActivityAt = now.Add(-10 * time.Minute)
	_ = store.Upsert(ctx, idle)

	expiredLock := newSession("s2", "u2", "c1", "n2")
	_ = store.Upsert(ctx, expiredLock)
	_, _ = store.AcquireLock(ctx, "s2", now.Add(-time.Second))

	fresh := newSession("s3", "u3", "c2", "n3")
	_ = store.Upsert(ctx, fresh)

	n, err := store.DeactivateStale(ctx, now.Add(-5*time.Minute), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deactivated = %d, want 2", n)
	}

	canvases, _ := store.ActiveCanvases(ctx)
	if len(canvases) != 1 || canvases[0] != "c2" {
		t.Errorf("active canvases = %v, want [c2]", canvases)
	}
}

func TestMemoryStore_ClearExpiredLocks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s1 := newSession("s1", "u1", "c1", "n1")
	_ = store.Upsert(ctx, s1)
	_, _ = store.AcquireLock(ctx, "s1", now.Add(-time.Second))

	s2 := newSession("s2", "u2", "c1", "n2")
	_ = store.Upsert(ctx, s2)
	_, _ = store.AcquireLock(ctx, "s2", now.Add(time.Minute))

	n, err := store.ClearExpiredLocks(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}

	got, _ := store.Get(ctx, "s1")
	if got.HasLock {
		t.Error("s1 should have lost its lock")
	}
	got, _ = store.Get(ctx, "s2")
	if !got.HasLock {
		t.Error("s2 should keep its live lock")
	}
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	old := newSession("s1", "u1", "c1", "n1")
	old.LastActivityAt = now.Add(-25 * time.Hour)
	_ = store.Upsert(ctx, old)

	fresh := newSession("s2", "u2", "c1", "n2")
	_ = store.Upsert(ctx, fresh)

	n, err := store.DeleteExpired(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := store.Get(ctx, "s1"); err != ErrNotFound {
		t.Error("old session should be gone")
	}
}
