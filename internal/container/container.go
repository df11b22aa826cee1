// Package container wires configuration into running components: storage, engine, services and workers.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-flow/internal/application/definition"
	"github.com/garyjia/reimburse-flow/internal/application/dispatcher"
	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/application/service"
	"github.com/garyjia/reimburse-flow/internal/config"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/worker"
	httpapi "github.com/garyjia/reimburse-flow/internal/interfaces/http"
	"github.com/garyjia/reimburse-flow/internal/metrics"
	"github.com/garyjia/reimburse-flow/pkg/database"
	"github.com/garyjia/reimburse-flow/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config  *config.Config
	logger  *zap.Logger
	version string

	// Telemetry
	tracingShutdown tracing.Shutdown
	metrics         *metrics.Metrics

	// Data
	db           *database.DB
	tx           *sqlite.DB
	repositories *RepositoryBundle

	external *ExternalBundle
	storage  port.FileStorage

	// Application
	dispatcher dispatcher.Dispatcher
	registry   *engine.Registry
	query      *engine.Query
	services   *ServiceBundle

	workers *worker.Manager

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Definitions port.DefinitionRepository
	Instances   port.InstanceRepository
	Tasks       port.TaskRepository
	Logs        port.ProcessLogRepository
}

// ServiceBundle groups the application services. Notifications is nil when Lark is disabled.
type ServiceBundle struct {
	Definitions   *definition.Service
	Reports       *service.ReportService
	Notifications *service.NotificationService
}

// NewContainer creates a new container from configuration.
// It does not initialize components; call Start.
func NewContainer(cfg *config.Config, logger *zap.Logger, version string) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config:  cfg,
		logger:  logger,
		version: version,
	}, nil
}

// Start initializes all components and begins background processing:
// 1. Telemetry
// 2. Database and repositories
// 3. External clients (Lark, OpenAI, Redis)
// 4. Storage
// 5. Dispatcher and workflow engine
// 6. Application services
// 7. Workers
// A failed step releases what the earlier steps acquired.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"telemetry", c.initTelemetry},
		{"database", c.initDatabase},
		{"external clients", c.initExternalClients},
		{"storage", c.initStorage},
		{"workflow engine", c.initEngine},
		{"services", c.initServices},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			_ = c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully", zap.Strings("flows", c.registry.FlowKeys()))
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.logger.Info("Closing container")

	err := c.teardown()
	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
	} else {
		c.logger.Info("Container closed successfully")
	}
	return err
}

func (c *Container) teardown() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Waits for in-flight notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.external != nil && c.external.Redis != nil {
		if err := c.external.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	if c.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.tracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
		cancel()
	}

	c.closed.Store(true)
	c.ready.Store(false)
	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

func (c *Container) initTelemetry() error {
	shutdown, err := tracing.Init(tracing.Config{
		Enabled:        c.config.Tracing.Enabled,
		ServiceName:    c.config.Tracing.ServiceName,
		ServiceVersion: c.version,
		Output:         c.config.Tracing.Output,
		PrettyPrint:    c.config.Tracing.PrettyPrint,
	})
	if err != nil {
		return err
	}
	c.tracingShutdown = shutdown

	if c.config.Metrics.Enabled {
		c.metrics = metrics.New()
	}
	return nil
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = bundle.DB
	c.tx = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initExternalClients() error {
	bundle, err := ProvideExternalClients(c.ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	c.external = bundle
	return nil
}

func (c *Container) initStorage() error {
	s, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.storage = s
	return nil
}

func (c *Container) initEngine() error {
	d, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = d
	c.registry, c.query = ProvideEngine(c.repositories, c.tx, d, c.metrics, c.logger)
	return nil
}

func (c *Container) initServices() error {
	services, err := ProvideServices(c.ctx, &ServiceDeps{
		Config:     c.config,
		Repos:      c.repositories,
		External:   c.external,
		Storage:    c.storage,
		Dispatcher: c.dispatcher,
		Registry:   c.registry,
		Query:      c.query,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	c.workers = ProvideWorkers(&c.config.Workflow.Resume, c.repositories, c.registry, c.external.Locker, c.logger)
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// HTTPServices returns what the HTTP layer serves, including health checks of the database, Redis and
// the background workers.
func (c *Container) HTTPServices() httpapi.Services {
	checks := map[string]httpapi.HealthCheck{
		"database": func(ctx context.Context) error {
			return c.db.PingContext(ctx)
		},
	}
	if c.external.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.external.Redis.Ping(ctx).Err()
		}
	}
	if c.config.Workflow.Resume.Enabled {
		checks["workers"] = func(context.Context) error {
			if !c.workers.IsRunning() {
				return fmt.Errorf("workers are not running")
			}
			return nil
		}
	}

	services := httpapi.Services{
		Workflows:   c.registry,
		Queries:     c.query,
		Definitions: c.services.Definitions,
		Reports:     c.services.Reports,
		Checks:      checks,
	}
	if c.metrics != nil {
		services.Metrics = c.metrics.Handler()
	}
	return services
}

// Registry returns the per-type workflow engines.
func (c *Container) Registry() *engine.Registry {
	return c.registry
}

// Query returns the read side of the engine.
func (c *Container) Query() *engine.Query {
	return c.query
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
