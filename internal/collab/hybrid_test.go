package collab

import (
	"context"
	"testing"
	"time"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

func startNodeSession(t *testing.T, env *testEnv, sessionID, userID, nodeID string) *models.EditingSession {
	t.Helper()
	session, err := env.svc.StartSession(context.Background(), StartSessionParams{
		SessionID:      sessionID,
		User:           testUser(userID),
		CanvasID:       "c1",
		ConversationID: "v1",
		NodeID:         nodeID,
		EditingType:    models.EditingTypeNode,
	})
	if err != nil {
		t.Fatal(err)
	}
	return session
}

func TestStartSession_MirrorsPresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := startNodeSession(t, env, "", "u1", "n1")
	if session.SessionID == "" {
		t.Fatal("session id should be generated")
	}
	if session.EditingTarget != "n1" {
		t.Errorf("editing target = %q, want n1", session.EditingTarget)
	}

	stored, err := env.durable.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.IsActive {
		t.Error("durable session should be active")
	}

	snapshot, err := env.svc.GetCanvasPresence(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0].UserID != "u1" {
		t.Errorf("presence mirror missing: %+v", snapshot.Users)
	}
}

func TestStartSession_InvalidEditingType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.StartSession(context.Background(), StartSessionParams{
		User:        testUser("u1"),
		CanvasID:    "c1",
		EditingType: "sculpture",
	})
	if !IsCode(err, CodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestAcquireHybridLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	holder := startNodeSession(t, env, "s1", "u1", "n1")
	locked, err := env.svc.AcquireHybridLock(ctx, holder.SessionID, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !locked.HasLock || locked.LockExpiry == nil {
		t.Fatalf("session should hold the lock: %+v", locked)
	}

	// The lock is mirrored into the ephemeral store.
	lock, err := env.svc.GetNodeLock(ctx, "c1", "v1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if lock == nil || lock.UserID != "u1" {
		t.Errorf("ephemeral mirror = %+v, want u1's lock", lock)
	}

	// A second user on the same target is refused with the holder named.
	rival := startNodeSession(t, env, "s2", "u2", "n1")
	_, err = env.svc.AcquireHybridLock(ctx, rival.SessionID, 30*time.Second)
	if !IsCode(err, CodeLockAlreadyHeld) {
		t.Fatalf("err = %v, want LOCK_ALREADY_HELD", err)
	}

	if err := env.svc.ReleaseHybridLock(ctx, holder.SessionID); err != nil {
		t.Fatal(err)
	}
	released, _ := env.durable.Get(ctx, holder.SessionID)
	if released.HasLock {
		t.Error("durable lock should be released")
	}
	if lock, _ := env.svc.GetNodeLock(ctx, "c1", "v1", "n1"); lock != nil {
		t.Errorf("ephemeral lock survived release: %+v", lock)
	}

	// Released target is free for the rival.
	if _, err := env.svc.AcquireHybridLock(ctx, rival.SessionID, 30*time.Second); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestAcquireHybridLock_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.AcquireHybridLock(context.Background(), "missing", time.Second)
	if !IsCode(err, CodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestEndSession_ReleasesHeldLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := startNodeSession(t, env, "s1", "u1", "n1")
	if _, err := env.svc.AcquireHybridLock(ctx, session.SessionID, 30*time.Second); err != nil {
		t.Fatal(err)
	}

	if err := env.svc.EndSession(ctx, session.SessionID); err != nil {
		t.Fatal(err)
	}
	ended, _ := env.durable.Get(ctx, session.SessionID)
	if ended.IsActive || ended.HasLock {
		t.Errorf("session should be inactive and unlocked: %+v", ended)
	}
	if lock, _ := env.svc.GetNodeLock(ctx, "c1", "v1", "n1"); lock != nil {
		t.Errorf("ephemeral lock survived session end: %+v", lock)
	}

	if err := env.svc.EndSession(ctx, "missing"); err != nil {
		t.Errorf("ending an unknown session should be a no-op, got %v", err)
	}
}

// failingReadStore simulates an unreachable ephemeral store for reads.
type failingReadStore struct {
	ephemeral.Store
}

func (f failingReadStore) GetString(ctx context.Context, key string) (string, bool, error) {
	return "", false, ephemeral.ErrUnavailable
}

func TestRealtimeLockStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, err := env.svc.RealtimeLockStatus(ctx, "c1", "v1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if status.HasLock || status.Source != "redis" {
		t.Errorf("free node: %+v", status)
	}

	if _, err := env.svc.LockNode(ctx, "c1", "v1", "n1", testUser("u1"), "", 0); err != nil {
		t.Fatal(err)
	}
	status, err = env.svc.RealtimeLockStatus(ctx, "c1", "v1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasLock || status.Lock.UserID != "u1" || status.Source != "redis" {
		t.Errorf("locked node: %+v", status)
	}
}

func TestRealtimeLockStatus_FallsBackToDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := startNodeSession(t, env, "s1", "u1", "n1")
	if _, err := env.svc.AcquireHybridLock(ctx, session.SessionID, 30*time.Second); err != nil {
		t.Fatal(err)
	}

	env.svc.ess = failingReadStore{Store: env.svc.ess}
	status, err := env.svc.RealtimeLockStatus(ctx, "c1", "v1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasLock || status.Source != "database" {
		t.Errorf("fallback status = %+v, want database-sourced lock", status)
	}
	if status.Lock == nil || status.Lock.UserID != "u1" {
		t.Errorf("fallback lock = %+v, want u1", status.Lock)
	}
}

func TestDegradedEphemeralStore_DurableFallback(t *testing.T) {
	env := newTestEnv(t)
	env.svc.ess = ephemeral.NewUnavailableStore()
	ctx := context.Background()

	// Strictly-ephemeral operations fail with a connection error instead of
	// succeeding against state no other instance can see.
	if _, err := env.svc.JoinCanvas(ctx, "c1", testUser("u1")); !IsCode(err, CodeConnection) {
		t.Fatalf("join err = %v, want ESS_CONNECTION_ERROR", err)
	}
	if _, err := env.svc.LockNode(ctx, "c1", "v1", "n1", testUser("u1"), "", 0); !IsCode(err, CodeConnection) {
		t.Fatalf("lock err = %v, want ESS_CONNECTION_ERROR", err)
	}

	// Durable sessions and locks keep working, and lock status answers from
	// the database.
	session, err := env.svc.StartSession(ctx, StartSessionParams{
		SessionID:      "s1",
		User:           testUser("u1"),
		CanvasID:       "c1",
		ConversationID: "v1",
		NodeID:         "n1",
		EditingType:    models.EditingTypeNode,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.AcquireHybridLock(ctx, session.SessionID, 30*time.Second); err != nil {
		t.Fatal(err)
	}

	status, err := env.svc.RealtimeLockStatus(ctx, "c1", "v1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasLock || status.Source != "database" {
		t.Errorf("status = %+v, want database-sourced lock", status)
	}
	if status.Lock == nil || status.Lock.UserID != "u1" {
		t.Errorf("lock = %+v, want u1", status.Lock)
	}
}

func TestGetHybridState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	startNodeSession(t, env, "s1", "u1", "n1")
	state, err := env.svc.GetHybridState(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Degraded {
		t.Error("state should not be degraded with a healthy store")
	}
	if state.Presence == nil || len(state.Presence.Users) != 1 {
		t.Errorf("presence = %+v", state.Presence)
	}
	if len(state.Sessions) != 1 || state.Sessions[0].SessionID != "s1" {
		t.Errorf("sessions = %+v", state.Sessions)
	}
}
