package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/observability"
	"github.com/arborhq/arbor/internal/sessions"
	"github.com/arborhq/arbor/pkg/models"
)

// Service coordinates ephemeral collaboration state with the durable session
// store. Ephemeral failures surface as ESS_CONNECTION_ERROR structured
// errors; the durable store is authoritative for hybrid sessions and locks.
type Service struct {
	ess     ephemeral.Store
	durable sessions.Store
	cfg     config.CollaborationConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	nowFunc func() time.Time
}

// NewService wires the collaboration service. metrics may be nil in tests.
func NewService(ess ephemeral.Store, durable sessions.Store, cfg config.CollaborationConfig, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ess:     ess,
		durable: durable,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		nowFunc: time.Now,
	}
}

func (s *Service) connErr(op string, err error) error {
	return NewError(CodeConnection, "ephemeral store operation failed: "+op).WithCause(err)
}

// finish records the operation outcome and passes the error through.
func (s *Service) finish(op string, err error) error {
	s.metrics.RecordOperation(op, err)
	return err
}

// publish fans an event out on the per-canvas channel. Publish failures are
// logged and swallowed: connected clients resynchronize from the presence
// snapshot they fetch on join, so a lost event is self-healing.
func (s *Service) publish(ctx context.Context, canvasID string, typ models.CollabEventType, data any) {
	event, err := models.NewCollabEvent(typ, data)
	if err != nil {
		s.logger.Error("marshal collaboration event",
			"type", typ, "canvasId", canvasID, "error", err)
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal collaboration event envelope",
			"type", typ, "canvasId", canvasID, "error", err)
		return
	}
	if err := s.ess.Publish(ctx, ephemeral.EventsChannel(canvasID), payload); err != nil {
		s.logger.Warn("publish collaboration event",
			"type", typ, "canvasId", canvasID, "error", err)
	}
}
