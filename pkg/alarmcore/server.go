package alarmcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/alarmcore/internal/clock"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/internal/server"
)

// Server wraps the dispatcher for a single server process (§1 Non-goals:
// "multiple concurrent servers" — one Server per process).
type Server struct {
	dispatcher      *server.Dispatcher
	listenAddr      string
	housekeepPeriod time.Duration
}

// NewServer validates cfg and builds a Server ready to Run.
func NewServer(cfg config.ServerConfig, log *slog.Logger, sink logging.EventSink, dispatch handlers.Dispatch) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := server.New(cfg, clock.New(), log, sink, dispatch)
	return &Server{
		dispatcher:      d,
		listenAddr:      fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort),
		housekeepPeriod: time.Second,
	}, nil
}

// Dispatcher exposes the underlying reconciler, for metrics/admin surfaces.
func (s *Server) Dispatcher() *server.Dispatcher {
	return s.dispatcher
}

// Run binds the UDP listener and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dispatcher.Run(ctx, s.listenAddr, s.housekeepPeriod)
	})
	return g.Wait()
}
