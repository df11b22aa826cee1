package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-flow/internal/application/definition"
	"github.com/garyjia/reimburse-flow/internal/application/dispatcher"
	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/application/service"
	"github.com/garyjia/reimburse-flow/internal/config"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/external/lark"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/external/openai"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/lease"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/report"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/storage"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/worker"
	"github.com/garyjia/reimburse-flow/internal/metrics"
	"github.com/garyjia/reimburse-flow/migrations"
	"github.com/garyjia/reimburse-flow/pkg/database"
	"github.com/garyjia/reimburse-flow/pkg/utils"
)

// seedOperator is recorded as create_by of definitions loaded at startup
const seedOperator = "seed"

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the optional outbound clients. Nil fields are disabled.
type ExternalBundle struct {
	Notifier   port.Notifier
	Summarizer port.Summarizer
	Redis      *redis.Client
	Locker     port.Locker
}

// ProvideDatabase opens the database and applies pending migrations, from MigrationsDir when set and
// from the embedded schema otherwise.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrationsDir(cfg.MigrationsDir)
	} else {
		err = migrator.RunMigrations(migrations.FS)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Definitions: repository.NewDefinitionRepository(db.DB, logger),
		Instances:   repository.NewInstanceRepository(db.DB, logger),
		Tasks:       repository.NewTaskRepository(db.DB, logger),
		Logs:        repository.NewProcessLogRepository(db.DB, logger),
	}, nil
}

// ProvideExternalClients builds Lark, OpenAI and Redis clients for the sections that are enabled.
// Redis is pinged so a bad address fails startup instead of the first lease.
func ProvideExternalClients(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ExternalBundle, error) {
	bundle := &ExternalBundle{}

	if cfg.Lark.Enabled {
		larkCfg := lark.Config{
			AppID:         cfg.Lark.AppID,
			AppSecret:     cfg.Lark.AppSecret,
			BaseURL:       cfg.Lark.BaseURL,
			ReceiveIDType: cfg.Lark.ReceiveIDType,
			Users:         cfg.Lark.Users,
		}
		bundle.Notifier = lark.NewNotifier(lark.NewSDKClient(larkCfg, logger), larkCfg, logger)
	}

	if cfg.OpenAI.Enabled {
		prompts := openai.DefaultPrompts()
		if cfg.OpenAI.PromptsPath != "" {
			loaded, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
			if err != nil {
				return nil, err
			}
			prompts = loaded
		}
		bundle.Summarizer = openai.NewSummarizer(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		}, prompts, logger)
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		bundle.Redis = client
		bundle.Locker = lease.NewRedisLocker(client, cfg.Redis.KeyPrefix, logger)
	} else {
		bundle.Locker = lease.NewLocalLocker()
	}

	return bundle, nil
}

// ProvideStorage creates the file storage reports are archived to
func ProvideStorage(cfg *config.StorageConfig, logger *zap.Logger) (port.FileStorage, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("storage.base_dir is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return storage.NewLocalFileStorage(cfg.BaseDir, logger), nil
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(dispatcher.NewZapLogger(logger))), nil
}

// ProvideEngine builds one engine per shipped workflow type, publishing lifecycle events to d
func ProvideEngine(repos *RepositoryBundle, tx port.TransactionManager, d dispatcher.Dispatcher, m *metrics.Metrics, logger *zap.Logger) (*engine.Registry, *engine.Query) {
	deps := engine.Deps{
		Definitions: repos.Definitions,
		Instances:   repos.Instances,
		Tasks:       repos.Tasks,
		Logs:        repos.Logs,
		Tx:          tx,
	}

	opts := []engine.EngineOption{engine.WithLogger(logger)}
	if m != nil {
		opts = append(opts, engine.WithRecorder(m))
	}
	types := engine.DefaultFlowTypes(engine.DefaultRoutingRule(), engine.NewEventLifecycle(d))

	return engine.NewRegistry(deps, types, opts...), engine.NewQuery(deps)
}

// ServiceDeps holds what the application services are built from
type ServiceDeps struct {
	Config     *config.Config
	Repos      *RepositoryBundle
	External   *ExternalBundle
	Storage    port.FileStorage
	Dispatcher dispatcher.Dispatcher
	Registry   *engine.Registry
	Query      *engine.Query
	Logger     *zap.Logger
}

// ProvideServices builds the application services, seeds definitions and subscribes notifications
func ProvideServices(ctx context.Context, deps *ServiceDeps) (*ServiceBundle, error) {
	logger := deps.Logger
	kv := utils.NewKVLogger(logger)

	defs := definition.NewService(deps.Repos.Definitions, logger)
	if wf := deps.Config.Workflow; wf.SeedOnStart && wf.SeedFile != "" {
		if _, err := defs.SeedFromFile(ctx, wf.SeedFile, seedOperator); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to seed workflow definitions: %w", err)
			}
			logger.Warn("Workflow seed file not found, skipping", zap.String("path", wf.SeedFile))
		}
	}

	bundle := &ServiceBundle{
		Definitions: defs,
		Reports: service.NewReportService(deps.Query,
			report.NewExcelExporter(deps.Repos.Tasks, nil, logger),
			deps.Storage, kv),
	}

	if deps.External.Notifier != nil {
		bundle.Notifications = service.NewNotificationService(
			deps.External.Notifier,
			deps.External.Summarizer,
			deps.Repos.Instances,
			deps.Repos.Definitions,
			kv,
		)
		flows := deps.Config.Workflow.NotifyFlows
		if len(flows) == 0 {
			flows = deps.Registry.FlowKeys()
		}
		bundle.Notifications.Subscribe(deps.Dispatcher, flows...)
	}

	return bundle, nil
}

// ProvideWorkers creates the worker manager with the resume worker when it is enabled
func ProvideWorkers(cfg *config.ResumeConfig, repos *RepositoryBundle, registry *engine.Registry, locker port.Locker, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger)
	if cfg.Enabled {
		manager.Register(worker.NewResumeWorker(worker.ResumeWorkerConfig{
			PollInterval: cfg.PollInterval,
			Grace:        cfg.Grace,
			BatchSize:    cfg.BatchSize,
			LeaseTTL:     cfg.LeaseTTL,
		}, repos.Instances, registry, locker, logger))
	}
	return manager
}
