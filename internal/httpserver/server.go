package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"hasura_meta_reconciler/internal/config"
)

// Server hosts the event-trigger webhook the engine calls after each
// logs.diffs insert, plus a health probe.
type Server struct {
	cfg    config.Config
	logger serverLogger
	db     *pgxpool.Pool
	events EventHandler
}

type serverLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(cfg config.Config, logger serverLogger, db *pgxpool.Pool, events EventHandler) *Server {
	return &Server{cfg: cfg, logger: logger, db: db, events: events}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("event webhook server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("event webhook server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Method(http.MethodGet, "/health", HealthHandler{DB: s.db})

	r.Group(func(events chi.Router) {
		events.Use(RequireEventSecret(s.cfg.EventSecret))
		events.Method(http.MethodPost, "/events/diffs", s.events)
	})

	return r
}
