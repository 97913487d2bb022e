package gateway

import (
	"sync"

	"github.com/arborhq/arbor/internal/observability"
)

// roomRegistry tracks which connections have joined which canvas rooms.
// Fan-out to a room never blocks: slow connections drop frames.
type roomRegistry struct {
	mu      sync.RWMutex
	rooms   map[string]map[*wsConn]struct{}
	metrics *observability.Metrics
}

func newRoomRegistry(metrics *observability.Metrics) *roomRegistry {
	return &roomRegistry{
		rooms:   make(map[string]map[*wsConn]struct{}),
		metrics: metrics,
	}
}

func (r *roomRegistry) join(canvasID string, conn *wsConn) {
	r.mu.Lock()
	room, ok := r.rooms[canvasID]
	if !ok {
		room = make(map[*wsConn]struct{})
		r.rooms[canvasID] = room
	}
	room[conn] = struct{}{}
	size := len(room)
	r.mu.Unlock()
	r.metrics.SetRoomOccupancy(canvasID, size)
}

func (r *roomRegistry) leave(canvasID string, conn *wsConn) {
	r.mu.Lock()
	size := 0
	if room, ok := r.rooms[canvasID]; ok {
		delete(room, conn)
		size = len(room)
		if size == 0 {
			delete(r.rooms, canvasID)
		}
	}
	r.mu.Unlock()
	r.metrics.SetRoomOccupancy(canvasID, size)
}

// leaveAll removes the connection from every room and returns the canvases
// it had joined.
func (r *roomRegistry) leaveAll(conn *wsConn) []string {
	r.mu.Lock()
	var left []string
	for canvasID, room := range r.rooms {
		if _, ok := room[conn]; !ok {
			continue
		}
		delete(room, conn)
		left = append(left, canvasID)
		if len(room) == 0 {
			delete(r.rooms, canvasID)
		}
	}
	r.mu.Unlock()
	for _, canvasID := range left {
		r.metrics.SetRoomOccupancy(canvasID, r.occupancy(canvasID))
	}
	return left
}

func (r *roomRegistry) occupancy(canvasID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[canvasID])
}

// broadcast enqueues a frame to every member of the room.
func (r *roomRegistry) broadcast(canvasID string, data []byte) {
	r.mu.RLock()
	conns := make([]*wsConn, 0, len(r.rooms[canvasID]))
	for conn := range r.rooms[canvasID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	for _, conn := range conns {
		conn.enqueue(data)
	}
}

// broadcastToUser enqueues a frame to the user's connections in the room.
func (r *roomRegistry) broadcastToUser(canvasID, userID string, data []byte) {
	r.mu.RLock()
	var conns []*wsConn
	for conn := range r.rooms[canvasID] {
		if conn.userID() == userID {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()
	for _, conn := range conns {
		conn.enqueue(data)
	}
}
