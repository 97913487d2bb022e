// Package jobs runs the periodic maintenance sweeps: expired durable locks,
// stale sessions and presence, and activity retention.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arborhq/arbor/internal/activity"
	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/sessions"
)

const (
	lockSweepSchedule      = "@every 1m"
	sessionSweepSchedule   = "@every 5m"
	retentionSweepSchedule = "0 3 * * *"

	sweepTimeout = 30 * time.Second

	// Durable session rows are reaped a day after their last activity,
	// mirroring the TTL index of the document store this schema replaces.
	sessionRowTTL = 24 * time.Hour
)

// Runner schedules the maintenance sweeps on a cron.
type Runner struct {
	cron     *cron.Cron
	collab   *collab.Service
	activity *activity.Service
	durable  sessions.Store
	cfg      config.CollaborationConfig
	logger   *slog.Logger

	retentionDays int
	nowFunc       func() time.Time
}

// NewRunner wires the sweeps. Start registers and starts the schedule.
func NewRunner(collabSvc *collab.Service, activitySvc *activity.Service, durable sessions.Store, cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cron:          cron.New(),
		collab:        collabSvc,
		activity:      activitySvc,
		durable:       durable,
		cfg:           cfg.Collaboration,
		logger:        logger.With("component", "jobs"),
		retentionDays: cfg.Activity.RetentionDays,
		nowFunc:       time.Now,
	}
}

// Start registers the sweep schedule and starts the cron.
func (r *Runner) Start() error {
	jobs := []struct {
		schedule string
		name     string
		run      func(context.Context)
	}{
		{lockSweepSchedule, "expired_locks", r.SweepExpiredLocks},
		{sessionSweepSchedule, "stale_sessions", r.SweepStaleSessions},
		{retentionSweepSchedule, "retention", r.SweepRetention},
	}
	for _, job := range jobs {
		job := job
		if _, err := r.cron.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()
			job.run(ctx)
		}); err != nil {
			return err
		}
		r.logger.Debug("sweep registered", "job", job.name, "schedule", job.schedule)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for running sweeps to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// SweepExpiredLocks releases durable locks whose expiry has passed.
func (r *Runner) SweepExpiredLocks(ctx context.Context) {
	released, err := r.durable.ClearExpiredLocks(ctx, r.nowFunc())
	if err != nil {
		r.logger.Error("expired lock sweep failed", "error", err)
		return
	}
	if released > 0 {
		r.logger.Info("released expired durable locks", "count", released)
	}
}

// SweepStaleSessions deactivates idle durable sessions, then runs the hybrid
// presence and lock cleanup on every canvas that still has activity. A failure
// on one canvas does not stop the sweep.
func (r *Runner) SweepStaleSessions(ctx context.Context) {
	now := r.nowFunc()
	deactivated, err := r.durable.DeactivateStale(ctx, now.Add(-r.cfg.SessionTimeout), now)
	if err != nil {
		r.logger.Error("session deactivation sweep failed", "error", err)
	} else if deactivated > 0 {
		r.logger.Info("deactivated stale sessions", "count", deactivated)
	}

	canvases, err := r.durable.ActiveCanvases(ctx)
	if err != nil {
		r.logger.Error("listing active canvases failed", "error", err)
		return
	}
	for _, canvasID := range canvases {
		if removed, err := r.collab.CleanupStalePresence(ctx, canvasID); err != nil {
			r.logger.Warn("presence cleanup failed", "canvasId", canvasID, "error", err)
		} else if removed > 0 {
			r.logger.Info("removed stale presence", "canvasId", canvasID, "count", removed)
		}
		if released, err := r.collab.CleanupStaleLocks(ctx, canvasID); err != nil {
			r.logger.Warn("lock cleanup failed", "canvasId", canvasID, "error", err)
		} else if released > 0 {
			r.logger.Info("released stale locks", "canvasId", canvasID, "count", released)
		}
	}
}

// SweepRetention reaps old activity rows and long-dead session rows.
func (r *Runner) SweepRetention(ctx context.Context) {
	removed, err := r.activity.CleanupOld(ctx, r.retentionDays)
	if err != nil {
		r.logger.Error("activity retention sweep failed", "error", err)
	} else if removed > 0 {
		r.logger.Info("reaped old activities", "count", removed)
	}

	reaped, err := r.durable.DeleteExpired(ctx, r.nowFunc().Add(-sessionRowTTL))
	if err != nil {
		r.logger.Error("session row reap failed", "error", err)
	} else if reaped > 0 {
		r.logger.Info("reaped expired session rows", "count", reaped)
	}
}
