package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
	wsSendBuffer      = 64
)

// wsFrame is the inbound client frame: an event name and its payload.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsOutbound is the server frame. Replies use "<event>_success" or
// "<event>_error"; forwarded collaboration events carry the published type
// name unchanged.
type wsOutbound struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type wsErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type wsHandler struct {
	server   *Server
	upgrader websocket.Upgrader
}

func newWSHandler(s *Server) *wsHandler {
	return &wsHandler{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// wsConn is one client connection. A connection may join several canvas
// rooms; its identity is set from the handshake query or the first
// join_canvas and is immutable afterwards.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id string

	mu     sync.Mutex
	user   *models.User
	closed bool
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		server: h.server,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
	}
	if userID := r.URL.Query().Get("userId"); userID != "" {
		c.user = &models.User{
			ID:    userID,
			Name:  r.URL.Query().Get("userName"),
			Email: r.URL.Query().Get("userEmail"),
		}
	}

	h.server.metrics.AddActiveConnections(1)
	h.server.logger.Debug("websocket connected", "connId", c.id)
	go c.writeLoop()
	c.sendFrame("connected", map[string]any{
		"sessionId": c.id,
		"protocol":  "arbor-collab/1",
	})
	c.readLoop()
	c.close()
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	user := c.user
	c.mu.Unlock()

	c.cancel()
	_ = c.conn.Close()
	c.server.metrics.AddActiveConnections(-1)

	// Evict the user from every room this connection had joined so peers
	// see USER_LEFT promptly instead of waiting for TTL expiry.
	left := c.server.rooms.leaveAll(c)
	if user != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, canvasID := range left {
			if err := c.server.collab.LeaveCanvas(ctx, canvasID, user.ID); err != nil {
				c.server.logger.Warn("disconnect cleanup failed",
					"canvasId", canvasID, "userId", user.ID, "error", err)
			}
		}
	}
	c.server.logger.Debug("websocket disconnected", "connId", c.id)
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("message", collab.NewError(collab.CodeInvalidInput, "malformed frame"))
			continue
		}
		if frame.Event == "" {
			c.sendError("message", collab.NewError(collab.CodeInvalidInput, "event is required"))
			continue
		}
		c.handle(&frame)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

func (c *wsConn) identity() (models.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return models.User{}, collab.NewError(collab.CodeUserNotPresent, "join a canvas before sending collaboration events")
	}
	return *c.user, nil
}

// enqueue queues a frame without blocking; a full buffer drops the frame.
func (c *wsConn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.server.logger.Warn("dropping frame for slow websocket client", "connId", c.id)
	}
}

func (c *wsConn) sendFrame(event string, data any) {
	payload, err := json.Marshal(wsOutbound{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.server.logger.Error("marshal outbound frame", "event", event, "error", err)
		return
	}
	c.enqueue(payload)
}

func (c *wsConn) sendSuccess(event string, data any) {
	c.sendFrame(event+"_success", data)
}

func (c *wsConn) sendError(event string, err error) {
	payload := wsErrorPayload{Code: "INTERNAL_ERROR", Message: "internal error"}
	if structured := collab.AsError(err); structured != nil {
		payload.Code = string(structured.Code)
		payload.Message = structured.Message
		payload.Details = structured.Details
	}
	// Throttle refusals are routine backpressure, not faults.
	if collab.IsCode(err, collab.CodeThrottled) {
		c.server.logger.Debug("event refused", "event", event, "code", payload.Code)
	} else {
		c.server.logger.Warn("event failed", "event", event, "code", payload.Code, "error", err)
	}
	c.sendFrame(event+"_error", payload)
}

// Inbound payloads.

type joinCanvasData struct {
	CanvasID string      `json:"canvasId"`
	User     models.User `json:"user"`
}

type canvasData struct {
	CanvasID string `json:"canvasId"`
}

type focusConversationData struct {
	CanvasID       string `json:"canvasId"`
	ConversationID string `json:"conversationId"`
}

type nodeLockData struct {
	CanvasID            string `json:"canvasId"`
	ConversationID      string `json:"conversationId"`
	NodeID              string `json:"nodeId"`
	SessionID           string `json:"sessionId,omitempty"`
	LockDurationSeconds int    `json:"lockDurationSeconds,omitempty"`
}

type cursorUpdateData struct {
	CanvasID string  `json:"canvasId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type typingData struct {
	CanvasID string `json:"canvasId"`
	NodeID   string `json:"nodeId"`
}

func (c *wsConn) handle(frame *wsFrame) {
	switch frame.Event {
	case "join_canvas":
		c.handleJoinCanvas(frame)
	case "leave_canvas":
		c.handleLeaveCanvas(frame)
	case "focus_conversation":
		c.handleFocusConversation(frame)
	case "lock_node":
		c.handleLockNode(frame)
	case "unlock_node":
		c.handleUnlockNode(frame)
	case "extend_lock":
		c.handleExtendLock(frame)
	case "update_cursor":
		c.handleUpdateCursor(frame)
	case "start_typing":
		c.handleTyping(frame, true)
	case "stop_typing":
		c.handleTyping(frame, false)
	case "heartbeat":
		c.handleHeartbeat(frame)
	case "get_canvas_presence":
		c.handleGetPresence(frame)
	default:
		c.sendError(frame.Event, collab.NewError(collab.CodeInvalidInput,
			fmt.Sprintf("unknown event %q", frame.Event)))
	}
}

func (c *wsConn) decode(frame *wsFrame, into any) bool {
	if err := json.Unmarshal(frame.Data, into); err != nil {
		c.sendError(frame.Event, collab.NewError(collab.CodeInvalidInput, "malformed payload").WithCause(err))
		return false
	}
	return true
}

func (c *wsConn) handleJoinCanvas(frame *wsFrame) {
	var data joinCanvasData
	if !c.decode(frame, &data) {
		return
	}

	c.mu.Lock()
	if c.user == nil && data.User.ID != "" {
		user := data.User
		c.user = &user
	}
	if c.user != nil && data.User.ID == "" {
		data.User = *c.user
	}
	c.mu.Unlock()

	presence, err := c.server.collab.JoinCanvas(c.ctx, data.CanvasID, data.User)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.server.rooms.join(data.CanvasID, c)

	// The joining client gets the full snapshot so it can render peers
	// without waiting for events.
	snapshot, err := c.server.collab.GetCanvasPresence(c.ctx, data.CanvasID)
	if err != nil {
		c.server.logger.Warn("presence snapshot on join failed",
			"canvasId", data.CanvasID, "error", err)
	}
	c.sendSuccess(frame.Event, map[string]any{
		"presence": presence,
		"snapshot": snapshot,
	})
}

func (c *wsConn) handleLeaveCanvas(frame *wsFrame) {
	var data canvasData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	if err := c.server.collab.LeaveCanvas(c.ctx, data.CanvasID, user.ID); err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.server.rooms.leave(data.CanvasID, c)
	c.sendSuccess(frame.Event, map[string]any{"canvasId": data.CanvasID})
}

func (c *wsConn) handleFocusConversation(frame *wsFrame) {
	var data focusConversationData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	focus, err := c.server.collab.FocusConversation(c.ctx, data.CanvasID, data.ConversationID, user)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, focus)
}

func (c *wsConn) handleLockNode(frame *wsFrame) {
	var data nodeLockData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	sessionID := data.SessionID
	if sessionID == "" {
		sessionID = c.id
	}
	lock, err := c.server.collab.LockNode(c.ctx, data.CanvasID, data.ConversationID, data.NodeID, user,
		sessionID, time.Duration(data.LockDurationSeconds)*time.Second)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, lock)
}

func (c *wsConn) handleUnlockNode(frame *wsFrame) {
	var data nodeLockData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	removed, err := c.server.collab.UnlockNode(c.ctx, data.CanvasID, data.ConversationID, data.NodeID, user.ID)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, map[string]any{"removed": removed})
}

func (c *wsConn) handleExtendLock(frame *wsFrame) {
	var data nodeLockData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	lock, err := c.server.collab.ExtendNodeLock(c.ctx, data.CanvasID, data.ConversationID, data.NodeID, user.ID)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, lock)
}

func (c *wsConn) handleUpdateCursor(frame *wsFrame) {
	var data cursorUpdateData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	cursor, err := c.server.collab.UpdateCursor(c.ctx, data.CanvasID, user, data.X, data.Y)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, cursor)
}

func (c *wsConn) handleTyping(frame *wsFrame, isTyping bool) {
	var data typingData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	indicator, err := c.server.collab.UpdateTyping(c.ctx, data.CanvasID, data.NodeID, user, isTyping)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	if isTyping {
		c.sendSuccess(frame.Event, indicator)
	} else {
		c.sendSuccess(frame.Event, map[string]any{"nodeId": data.NodeID})
	}
}

func (c *wsConn) handleHeartbeat(frame *wsFrame) {
	var data canvasData
	if !c.decode(frame, &data) {
		return
	}
	user, err := c.identity()
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	if err := c.server.collab.Heartbeat(c.ctx, data.CanvasID, user.ID); err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, map[string]any{"timestamp": time.Now().UnixMilli()})
}

func (c *wsConn) handleGetPresence(frame *wsFrame) {
	var data canvasData
	if !c.decode(frame, &data) {
		return
	}
	snapshot, err := c.server.collab.GetCanvasPresence(c.ctx, data.CanvasID)
	if err != nil {
		c.sendError(frame.Event, err)
		return
	}
	c.sendSuccess(frame.Event, snapshot)
}
