// Package api exposes preferences, scheduling and manual posting over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopost_bot/internal/model"
	"autopost_bot/internal/prefs"
	"autopost_bot/internal/scheduler"
)

// Scheduler controls auto-posting timers.
type Scheduler interface {
	Start(destID int64) error
	Stop(destID int64) bool
	ListScheduled(destID int64) []scheduler.JobInfo
	Scheduled() []scheduler.JobInfo
}

// Dispatcher posts items on demand.
type Dispatcher interface {
	PostLatest(ctx context.Context, destID int64, filters *model.FilterSet) (model.Item, error)
	PostSpecific(ctx context.Context, destID, itemID int64) (model.Item, error)
}

// Server is the HTTP API.
type Server struct {
	router   chi.Router
	prefs    *prefs.Store
	sched    Scheduler
	dispatch Dispatcher
	log      *slog.Logger
}

// NewServer builds the router. Metrics are served from gatherer.
func NewServer(store *prefs.Store, sched Scheduler, dispatch Dispatcher, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	s := &Server{prefs: store, sched: sched, dispatch: dispatch, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/destinations", s.listDestinations)
	r.Route("/destinations/{id}", func(r chi.Router) {
		r.Get("/preferences", s.getPreferences)
		r.Patch("/preferences", s.patchPreferences)
		r.Delete("/preferences", s.resetPreferences)
		r.Put("/autopost", s.startAutopost)
		r.Delete("/autopost", s.stopAutopost)
		r.Get("/schedule", s.getSchedule)
		r.Post("/posts/latest", s.postLatest)
		r.Post("/posts/{itemID}", s.postSpecific)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
