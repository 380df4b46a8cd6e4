// Package httpapi provides the HTTP API for taskd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/notes"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// Config holds HTTP server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Server exposes the task-alert, event-alert, and ingestion endpoints.
type Server struct {
	echo      *echo.Echo
	store     *notes.Store
	svc       *task.Service
	templates Templates
	logger    *zap.Logger
	config    *Config
}

// Templates holds the note IDs of the template notes that classify tasks,
// reminders, daily reminders, and events.
type Templates struct {
	Task          string
	Reminder      string
	DailyReminder string
	Event         string
}

// LocateTemplates resolves the template notes by their marker labels.
func LocateTemplates(ctx context.Context, store *notes.Store) (Templates, error) {
	var t Templates
	for _, l := range []struct {
		label string
		dst   *string
	}{
		{notes.LabelTaskTemplate, &t.Task},
		{notes.LabelReminderTemplate, &t.Reminder},
		{notes.LabelDailyReminderTemplate, &t.DailyReminder},
		{notes.LabelEventTemplate, &t.Event},
	} {
		note, err := store.NoteWithLabel(ctx, l.label)
		if err != nil {
			return Templates{}, fmt.Errorf("httpapi: locate templates: %w", err)
		}
		*l.dst = note.NoteID
	}
	return t, nil
}

// NewServer creates the HTTP server.
func NewServer(store *notes.Store, svc *task.Service, templates Templates, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("reconciliation service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Port:            8284,
			ShutdownTimeout: 10 * time.Second,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		store:     store,
		svc:       svc,
		templates: templates,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/task-alerts", s.handleTaskAlerts)
	v1.GET("/event-alerts", s.handleEventAlerts)
	v1.POST("/events", s.handleNewEvent)
	v1.POST("/events/:id/duplicate", s.handleDuplicateEvent)
	v1.POST("/reminders", s.handleNewReminder)
	v1.POST("/tasks", s.handleNewTask)
	v1.POST("/tasks/:id/sync", s.handleSyncTask)
	v1.PUT("/tasks/:id/attributes", s.handleUpdateTaskAttributes)
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "taskd"})
}

// Echo returns the underlying Echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// performs graceful shutdown with the configured timeout. Returns
// http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}
