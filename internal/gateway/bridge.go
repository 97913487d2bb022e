package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/observability"
	"github.com/arborhq/arbor/pkg/models"
)

// bridge holds the single pattern subscription that carries every canvas's
// collaboration events and fans each one out to the matching room. One
// subscription per process regardless of canvas count.
type bridge struct {
	sub     ephemeral.Subscription
	rooms   *roomRegistry
	logger  *slog.Logger
	metrics *observability.Metrics
}

func startBridge(ess ephemeral.Store, rooms *roomRegistry, logger *slog.Logger, metrics *observability.Metrics) (*bridge, error) {
	b := &bridge{
		rooms:   rooms,
		logger:  logger,
		metrics: metrics,
	}
	sub, err := ess.PatternSubscribe(context.Background(), ephemeral.EventsChannelPattern, b.handleMessage)
	if err != nil {
		return nil, err
	}
	b.sub = sub
	return b, nil
}

func (b *bridge) handleMessage(channel string, payload []byte) {
	canvasID := strings.TrimSuffix(strings.TrimPrefix(channel, "canvas:"), ":events")
	if canvasID == "" || canvasID == channel {
		return
	}

	var event models.CollabEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn("discarding malformed collaboration event",
			"channel", channel, "error", err)
		return
	}

	// The published type name is the wire event name, forwarded 1:1.
	frame, err := json.Marshal(wsOutbound{
		Event:     string(event.Type),
		Data:      event.Data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("marshal forwarded event", "type", event.Type, "error", err)
		return
	}

	b.rooms.broadcast(canvasID, frame)
	b.metrics.RecordEventForwarded(string(event.Type))
}

func (b *bridge) Close() {
	if err := b.sub.Close(); err != nil {
		b.logger.Warn("close event bridge subscription", "error", err)
	}
}
