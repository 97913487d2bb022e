package gateway

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/pkg/models"
)

type wsTestFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *testServer) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &wsClient{t: t, conn: conn}
	if hello := c.expect("connected"); len(hello.Data) == 0 {
		t.Fatal("connected hello carried no data")
	}
	return c
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatal(err)
	}
	frame, err := json.Marshal(wsFrame{Event: event, Data: raw})
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.t.Fatal(err)
	}
}

// expect reads frames until one matches the event name, skipping unrelated
// traffic such as forwarded presence events.
func (c *wsClient) expect(event string) wsTestFrame {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %q: %v", event, err)
		}
		var frame wsTestFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.t.Fatalf("malformed frame: %v", err)
		}
		if frame.Event == event {
			return frame
		}
		if strings.HasSuffix(frame.Event, "_error") {
			c.t.Fatalf("waiting for %q, got %s: %s", event, frame.Event, frame.Data)
		}
	}
	c.t.Fatalf("no %q frame arrived", event)
	return wsTestFrame{}
}

// expectError reads frames until an error reply for the event arrives.
func (c *wsClient) expectError(event string) wsErrorPayload {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s_error: %v", event, err)
		}
		var frame wsTestFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.t.Fatalf("malformed frame: %v", err)
		}
		if frame.Event == event+"_error" {
			var payload wsErrorPayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				c.t.Fatalf("malformed error payload: %v", err)
			}
			return payload
		}
	}
	c.t.Fatalf("no %s_error frame arrived", event)
	return wsErrorPayload{}
}

func (c *wsClient) join(canvasID, userID string) {
	c.t.Helper()
	c.send("join_canvas", map[string]any{
		"canvasId": canvasID,
		"user":     models.User{ID: userID, Name: "user " + userID},
	})
	c.expect("join_canvas_success")
}

func TestWSJoinCanvas(t *testing.T) {
	ts := newTestServer(t)
	client := dialWS(t, ts)

	client.send("join_canvas", map[string]any{
		"canvasId": "c1",
		"user":     models.User{ID: "u1", Name: "Ada"},
	})
	frame := client.expect("join_canvas_success")

	var reply struct {
		Presence models.UserPresence    `json:"presence"`
		Snapshot *models.CanvasPresence `json:"snapshot"`
	}
	if err := json.Unmarshal(frame.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Presence.UserID != "u1" || !reply.Presence.IsActive {
		t.Errorf("presence = %+v, want active u1", reply.Presence)
	}
	if reply.Snapshot == nil || len(reply.Snapshot.Users) != 1 {
		t.Errorf("snapshot = %+v, want one user", reply.Snapshot)
	}
}

func TestWSRequiresIdentityBeforeCollabEvents(t *testing.T) {
	ts := newTestServer(t)
	client := dialWS(t, ts)

	client.send("lock_node", map[string]any{
		"canvasId": "c1", "conversationId": "v1", "nodeId": "n1",
	})
	payload := client.expectError("lock_node")
	if payload.Code != string(collab.CodeUserNotPresent) {
		t.Errorf("code = %q, want USER_NOT_PRESENT", payload.Code)
	}
}

func TestWSLockConflict(t *testing.T) {
	ts := newTestServer(t)
	alice := dialWS(t, ts)
	bob := dialWS(t, ts)
	alice.join("c1", "u1")
	bob.join("c1", "u2")

	lockData := map[string]any{"canvasId": "c1", "conversationId": "v1", "nodeId": "n1"}
	alice.send("lock_node", lockData)
	frame := alice.expect("lock_node_success")
	var lock models.NodeLock
	if err := json.Unmarshal(frame.Data, &lock); err != nil {
		t.Fatal(err)
	}
	if lock.UserID != "u1" {
		t.Errorf("lock holder = %q, want u1", lock.UserID)
	}

	bob.send("lock_node", lockData)
	payload := bob.expectError("lock_node")
	if payload.Code != string(collab.CodeLockAlreadyHeld) {
		t.Errorf("code = %q, want LOCK_ALREADY_HELD", payload.Code)
	}
}

func TestWSLockCustomDuration(t *testing.T) {
	ts := newTestServer(t)
	client := dialWS(t, ts)
	client.join("c1", "u1")

	client.send("lock_node", map[string]any{
		"canvasId": "c1", "conversationId": "v1", "nodeId": "n1",
		"lockDurationSeconds": 2,
	})
	frame := client.expect("lock_node_success")
	var lock models.NodeLock
	if err := json.Unmarshal(frame.Data, &lock); err != nil {
		t.Fatal(err)
	}
	if got := lock.ExpiresAt.Sub(lock.LockedAt); got != 2*time.Second {
		t.Errorf("lease = %v, want 2s", got)
	}
	// The connection's generated session id backs the lock when the client
	// sends none.
	if lock.SessionID == "" {
		t.Error("lock should carry the connection session id")
	}
}

func TestWSEventFanout(t *testing.T) {
	ts := newTestServer(t)
	alice := dialWS(t, ts)
	bob := dialWS(t, ts)
	alice.join("c1", "u1")
	bob.join("c1", "u2")

	alice.send("lock_node", map[string]any{
		"canvasId": "c1", "conversationId": "v1", "nodeId": "n1",
	})
	alice.expect("lock_node_success")

	// The bridge forwards the published NODE_LOCKED to every room member
	// under its published name.
	frame := bob.expect(string(models.EventNodeLocked))
	var lock models.NodeLock
	if err := json.Unmarshal(frame.Data, &lock); err != nil {
		t.Fatal(err)
	}
	if lock.UserID != "u1" || lock.NodeID != "n1" {
		t.Errorf("forwarded lock = %+v, want u1 on n1", lock)
	}
}

func TestWSActivityBroadcast(t *testing.T) {
	ts := newTestServer(t)
	client := dialWS(t, ts)
	client.join("c1", "u1")

	ts.server.BroadcastActivity("c1", &models.Activity{
		ID: "a1", CanvasID: "c1", UserID: "u2",
		Type: models.ActivityBranchCreated, Description: "Bea created a branch",
	})
	frame := client.expect("activity_update")
	var activity models.Activity
	if err := json.Unmarshal(frame.Data, &activity); err != nil {
		t.Fatal(err)
	}
	if activity.ID != "a1" {
		t.Errorf("activity = %+v, want a1", activity)
	}
}

func TestWSUnknownEvent(t *testing.T) {
	ts := newTestServer(t)
	client := dialWS(t, ts)
	client.send("levitate", nil)
	payload := client.expectError("levitate")
	if payload.Code != string(collab.CodeInvalidInput) {
		t.Errorf("code = %q, want INVALID_INPUT", payload.Code)
	}
}

func TestWSDisconnectEvictsPresence(t *testing.T) {
	ts := newTestServer(t)
	alice := dialWS(t, ts)
	bob := dialWS(t, ts)
	alice.join("c1", "u1")
	bob.join("c1", "u2")

	_ = bob.conn.Close()

	// The disconnect cleanup publishes USER_LEFT, which reaches alice.
	frame := alice.expect(string(models.EventUserLeft))
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.UserID != "u2" {
		t.Errorf("left user = %q, want u2", payload.UserID)
	}
}
