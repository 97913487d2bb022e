// Package gateway is the client-facing edge: the websocket control plane,
// the REST API, canvas rooms, and the pub/sub bridge that fans collaboration
// events out to connected clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arborhq/arbor/internal/activity"
	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/observability"
	"github.com/arborhq/arbor/internal/sessions"
)

// Server hosts the websocket and REST surfaces.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	collab   *collab.Service
	activity *activity.Service
	ess      ephemeral.Store
	durable  sessions.Store

	rooms     *roomRegistry
	bridge    *bridge
	http      *http.Server
	startTime time.Time
	degraded  atomic.Bool
}

// Options wires the server's dependencies.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Collab   *collab.Service
	Activity *activity.Service
	ESS      ephemeral.Store
	Sessions sessions.Store

	// Degraded marks a server that started without its ephemeral store and
	// serves durable state only.
	Degraded bool
}

// NewServer builds the gateway. It does not listen until Run.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		collab:    opts.Collab,
		activity:  opts.Activity,
		ess:       opts.ESS,
		durable:   opts.Sessions,
		rooms:     newRoomRegistry(opts.Metrics),
		startTime: time.Now(),
	}
	s.degraded.Store(opts.Degraded)
	return s
}

// SetActivity attaches the activity service. The service needs the server as
// its broadcaster, so it is built after the server and attached here before
// Run.
func (s *Server) SetActivity(svc *activity.Service) {
	s.activity = svc
}

// Degraded reports whether the server is running without its ephemeral store.
func (s *Server) Degraded() bool {
	return s.degraded.Load()
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", newWSHandler(s))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.registerAPIRoutes(mux)
	return mux
}

// Run starts the event bridge and serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !s.degraded.Load() {
		b, err := startBridge(s.ess, s.rooms, s.logger, s.metrics)
		if err != nil {
			return fmt.Errorf("start event bridge: %w", err)
		}
		s.bridge = b
		defer s.bridge.Close()
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.http = &http.Server{
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr, "degraded", s.degraded.Load())
	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
