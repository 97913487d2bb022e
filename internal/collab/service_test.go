package collab

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/sessions"
	"github.com/arborhq/arbor/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc     *Service
	ess     *ephemeral.MemoryStore
	durable *sessions.MemoryStore
	clock   *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	ess := ephemeral.NewMemoryStore()
	ess.SetNowFunc(clock.Now)
	durable := sessions.NewMemoryStore()
	durable.SetNowFunc(clock.Now)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(ess, durable, config.Default().Collaboration, logger, nil)
	svc.nowFunc = clock.Now
	return &testEnv{svc: svc, ess: ess, durable: durable, clock: clock}
}

func testUser(id string) models.User {
	return models.User{ID: id, Name: "user " + id}
}

// eventRecorder captures events published on the canvas channels.
type eventRecorder struct {
	mu     sync.Mutex
	events []models.CollabEvent
}

func recordEvents(t *testing.T, ess *ephemeral.MemoryStore) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{}
	sub, err := ess.PatternSubscribe(context.Background(), ephemeral.EventsChannelPattern,
		func(channel string, payload []byte) {
			var event models.CollabEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				t.Errorf("malformed event payload: %v", err)
				return
			}
			rec.mu.Lock()
			rec.events = append(rec.events, event)
			rec.mu.Unlock()
		})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return rec
}

func (r *eventRecorder) count(typ models.CollabEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type == typ {
			n++
		}
	}
	return n
}

// waitFor polls until at least one event of the given type arrived. Delivery
// crosses a goroutine even in the in-process store.
func (r *eventRecorder) waitFor(t *testing.T, typ models.CollabEventType) models.CollabEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, event := range r.events {
			if event.Type == typ {
				r.mu.Unlock()
				return event
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event arrived", typ)
	return models.CollabEvent{}
}
