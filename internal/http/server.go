// Package http exposes the orchestrator over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

// Executor runs and cancels tasks. *orchestrator.Orchestrator implements it.
type Executor interface {
	ExecuteTask(ctx context.Context, prompt string, files []workbook.File) *orchestrator.TaskResult
	Cancel(taskID string) bool
	Running() []string
	Logs() []orchestrator.LogEntry
}

// Catalog lists the tools offered to the model.
type Catalog interface {
	Definitions() []tools.Definition
}

// Server provides HTTP endpoints for excelmind.
type Server struct {
	echo    *echo.Echo
	exec    Executor
	catalog Catalog
	logger  *zap.Logger
	config  *Config
	metrics *apiMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxBodyBytes limits task uploads, e.g. "32M". Empty means no limit.
	MaxBodyBytes string
}

// NewServer creates a new HTTP server.
func NewServer(exec Executor, catalog Catalog, logger *zap.Logger, cfg *Config) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("tool catalog cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.MaxBodyBytes != "" {
		e.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	metrics := newAPIMetrics(nil, logger)
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:    e,
		exec:    exec,
		catalog: catalog,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.DELETE("/tasks/:id", s.handleCancelTask)
	v1.GET("/tools", s.handleListTools)
	v1.GET("/logs", s.handleLogs)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleCreateTask runs a task to completion. The task is cancelled if the
// client goes away.
func (s *Server) handleCreateTask(c echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid task request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	ctx := c.Request().Context()
	s.metrics.recordUpload(ctx, req.Files)
	res := s.exec.ExecuteTask(ctx, req.Prompt, req.Files)
	s.metrics.recordResult(ctx, res)

	s.logger.Debug("task finished",
		zap.String("task_id", res.Metadata.TaskID),
		zap.String("status", string(res.Status)),
		zap.Int("steps", len(res.Steps)),
	)
	return c.JSON(statusFor(res), res)
}

// statusFor maps a task outcome to a response code. A task that ran and
// failed is still a successful request.
func statusFor(res *orchestrator.TaskResult) int {
	switch res.ErrorKind {
	case orchestrator.KindValidation:
		return http.StatusBadRequest
	case orchestrator.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func (s *Server) handleListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, TasksResponse{Running: s.exec.Running()})
}

func (s *Server) handleCancelTask(c echo.Context) error {
	id := c.Param("id")
	if !s.exec.Cancel(id) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("task %s is not running", id))
	}
	return c.JSON(http.StatusAccepted, CancelResponse{TaskID: id, Cancelled: true})
}

func (s *Server) handleListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, ToolsResponse{Tools: s.catalog.Definitions()})
}

func (s *Server) handleLogs(c echo.Context) error {
	entries := s.exec.Logs()
	if id := c.QueryParam("task_id"); id != "" {
		filtered := make([]orchestrator.LogEntry, 0, len(entries))
		for _, e := range entries {
			if e.TaskID == id {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	return c.JSON(http.StatusOK, LogsResponse{Entries: entries})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
