package collab

import "github.com/arborhq/arbor/pkg/models"

// Event payloads for state changes that have no standalone entity. The user
// object is best-effort on USER_LEFT: a presence record that already expired
// leaves only the id.

type userLeftPayload struct {
	CanvasID string       `json:"canvasId"`
	UserID   string       `json:"userId"`
	User     *models.User `json:"user,omitempty"`
}

type typingStoppedPayload struct {
	CanvasID string      `json:"canvasId"`
	NodeID   string      `json:"nodeId"`
	UserID   string      `json:"userId"`
	User     models.User `json:"user"`
}
