package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-flow/internal/config"
	"github.com/garyjia/reimburse-flow/internal/container"
	httpapi "github.com/garyjia/reimburse-flow/internal/interfaces/http"
	"github.com/garyjia/reimburse-flow/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	seedOnly := flag.Bool("seed-only", false, "load workflow definitions from the seed file and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    cfg.Tracing.ServiceName,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *seedOnly {
		err = seed(ctx, cfg, logger)
	} else {
		err = serve(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("Exiting with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting reimbursement workflow service",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	c, err := container.NewContainer(cfg, logger, version)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Shutdown finished with errors", zap.Error(err))
		}
	}()

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Version:      version,
	}, c.HTTPServices(), utils.NewKVLogger(logger))

	return server.Start(ctx)
}

// seed stores new versions of the definitions in the seed file without starting workers or the server
func seed(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	seedFile := cfg.Workflow.SeedFile
	cfg.Workflow.SeedOnStart = false
	cfg.Workflow.Resume.Enabled = false
	cfg.Lark.Enabled = false
	cfg.OpenAI.Enabled = false

	c, err := container.NewContainer(cfg, logger, version)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Services().Definitions.SeedFromFile(ctx, seedFile, "seed")
	if err != nil {
		return err
	}
	logger.Info("Workflow definitions seeded",
		zap.String("file", seedFile),
		zap.Strings("created", result.Created),
		zap.Strings("unchanged", result.Unchanged))
	return nil
}
