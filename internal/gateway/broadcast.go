package gateway

import (
	"encoding/json"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// The gateway is the activity service's Broadcaster: persisted activity goes
// out to canvas rooms over the same frame protocol as collaboration events.

func (s *Server) broadcastFrame(canvasID, event string, data any) {
	payload, err := json.Marshal(wsOutbound{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("marshal broadcast frame", "event", event, "error", err)
		return
	}
	s.rooms.broadcast(canvasID, payload)
}

// BroadcastActivity delivers an activity_update to the canvas room.
func (s *Server) BroadcastActivity(canvasID string, activity *models.Activity) {
	s.broadcastFrame(canvasID, "activity_update", activity)
}

// BroadcastNotification delivers an activity_notification toast for
// high-priority activity.
func (s *Server) BroadcastNotification(canvasID string, activity *models.Activity) {
	s.broadcastFrame(canvasID, "activity_notification", activity)
}

// BroadcastBulkActivity delivers several activities in one frame, as after a
// bulk import or replay.
func (s *Server) BroadcastBulkActivity(canvasID string, activities []*models.Activity) {
	if len(activities) == 0 {
		return
	}
	s.broadcastFrame(canvasID, "bulk_activity_update", map[string]any{
		"canvasId":   canvasID,
		"activities": activities,
	})
}

// BroadcastToUser delivers a frame to one user's connections in a room.
func (s *Server) BroadcastToUser(canvasID, userID, event string, data any) {
	payload, err := json.Marshal(wsOutbound{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("marshal user frame", "event", event, "error", err)
		return
	}
	s.rooms.broadcastToUser(canvasID, userID, payload)
}

// CanvasChange describes a structural edit to a canvas pushed to clients as a
// canvas_change frame.
type CanvasChange struct {
	ChangeType     string `json:"changeType"`
	CanvasID       string `json:"canvasId"`
	ConversationID string `json:"conversationId,omitempty"`
	NodeID         string `json:"nodeId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

// BroadcastCanvasChange pushes a structural change (tree_created,
// tree_updated, tree_deleted, node_created, node_updated, node_deleted) to
// the canvas room.
func (s *Server) BroadcastCanvasChange(change CanvasChange) {
	s.broadcastFrame(change.CanvasID, "canvas_change", change)
}
