// Package http exposes the workflow engine, its projections and reports over a gin router.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/reimburse-flow/internal/application/definition"
	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

const (
	tracerName      = "github.com/garyjia/reimburse-flow/internal/interfaces/http"
	requestIDHeader = "X-Request-ID"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// WorkflowService runs the engine operations; implemented by engine.Registry
type WorkflowService interface {
	FlowKeys() []string
	StartProcess(ctx context.Context, flowKey string, req engine.StartRequest) (*entity.WorkflowInstance, error)
	CompleteTask(ctx context.Context, req engine.TaskAction) error
	RejectTask(ctx context.Context, req engine.TaskAction) error
	CancelProcess(ctx context.Context, req engine.CancelRequest) (*entity.WorkflowInstance, error)
	EditProcess(ctx context.Context, req engine.EditRequest) (*entity.WorkflowInstance, error)
	Resume(ctx context.Context, instanceID int64) (bool, error)
}

// QueryService serves read-only projections; implemented by engine.Query
type QueryService interface {
	GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetTask(ctx context.Context, id int64) (*entity.WorkflowTask, error)
	ListInstances(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error)
	ListTasks(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error)
	ListPendingTasks(ctx context.Context, actorUserID int64, limit, offset int) ([]*entity.WorkflowTask, error)
	ProcessLog(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error)
}

// DefinitionService manages workflow definitions; implemented by definition.Service
type DefinitionService interface {
	Register(ctx context.Context, req definition.RegisterRequest) (*entity.WorkflowDefinition, error)
	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)
	Latest(ctx context.Context, flowKey string) (*entity.WorkflowDefinition, error)
	Seed(ctx context.Context, r io.Reader, createBy string) (*definition.SeedResult, error)
}

// ReportService builds spreadsheet reports; implemented by service.ReportService
type ReportService interface {
	Export(ctx context.Context, w io.Writer, filter port.InstanceFilter) error
	Archive(ctx context.Context, filter port.InstanceFilter) (string, error)
	Archives(ctx context.Context) ([]string, error)
	ReadArchive(ctx context.Context, name string) ([]byte, error)
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Services are the application services the server routes to. Definitions, Reports and Metrics are
// optional; their routes are only registered when set.
type Services struct {
	Workflows   WorkflowService
	Queries     QueryService
	Definitions DefinitionService
	Reports     ReportService
	Metrics     http.Handler
	Checks      map[string]HealthCheck
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Version:      "dev",
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	tracer     trace.Tracer
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.tracingMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware propagates or assigns X-Request-ID
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// tracingMiddleware opens a server span per request
func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.request_id", c.GetString(requestIDHeader)),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDHeader),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.config.Version, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.services.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.services.Metrics))
	}

	api := s.router.Group("/api")
	{
		api.GET("/workflows", h.ListWorkflows)
		api.POST("/workflows/:flowKey/instances", h.StartProcess)

		api.GET("/instances", h.ListInstances)
		api.GET("/instances/:id", h.GetInstance)
		api.GET("/instances/:id/tasks", h.ListInstanceTasks)
		api.GET("/instances/:id/logs", h.ProcessLog)
		api.POST("/instances/:id/cancel", h.CancelProcess)
		api.PUT("/instances/:id/params", h.EditProcess)
		api.POST("/instances/:id/resume", h.ResumeProcess)

		api.POST("/tasks/:id/complete", h.CompleteTask)
		api.POST("/tasks/:id/reject", h.RejectTask)
		api.GET("/users/:userId/tasks", h.ListPendingTasks)

		if s.services.Definitions != nil {
			api.GET("/definitions", h.ListDefinitions)
			api.GET("/definitions/:flowKey", h.GetDefinition)
			api.POST("/definitions", h.RegisterDefinition)
			api.POST("/definitions/seed", h.SeedDefinitions)
		}

		if s.services.Reports != nil {
			api.GET("/reports/instances.xlsx", h.ExportInstances)
			api.POST("/reports", h.ArchiveReport)
			api.GET("/reports", h.ListReports)
			api.GET("/reports/:name", h.DownloadReport)
		}
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
