package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"go.uber.org/zap"
)

// ResumeWorkerConfig holds configuration for the resume worker
type ResumeWorkerConfig struct {
	PollInterval time.Duration
	// Grace is how long an instance must sit without open tasks before it counts as stuck
	Grace     time.Duration
	BatchSize int
	LeaseTTL  time.Duration
}

// DefaultResumeWorkerConfig returns default configuration
func DefaultResumeWorkerConfig() ResumeWorkerConfig {
	return ResumeWorkerConfig{
		PollInterval: time.Minute,
		Grace:        5 * time.Minute,
		BatchSize:    50,
		LeaseTTL:     30 * time.Second,
	}
}

// StalledFinder lists instances that stopped advancing
type StalledFinder interface {
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*entity.WorkflowInstance, error)
}

// Resumer re-runs advancement of one instance; it is satisfied by the engine registry
type Resumer interface {
	Resume(ctx context.Context, instanceID int64) (bool, error)
}

// ResumeWorker periodically resumes instances whose advance step failed after a task was closed
type ResumeWorker struct {
	config  ResumeWorkerConfig
	finder  StalledFinder
	resumer Resumer
	locker  port.Locker
	logger  *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	isRunning    bool
	resumedCount int
	failedCount  int
}

// NewResumeWorker creates a new resume worker
func NewResumeWorker(config ResumeWorkerConfig, finder StalledFinder, resumer Resumer, locker port.Locker, logger *zap.Logger) *ResumeWorker {
	def := DefaultResumeWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.Grace <= 0 {
		config.Grace = def.Grace
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = def.LeaseTTL
	}
	return &ResumeWorker{
		config:  config,
		finder:  finder,
		resumer: resumer,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins the polling loop
func (w *ResumeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("resume worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("ResumeWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("grace", w.config.Grace))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for the current pass to finish
func (w *ResumeWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.logger.Info("ResumeWorker stopped",
		zap.Int("resumed_count", w.resumedCount),
		zap.Int("failed_count", w.failedCount))
	w.mu.Unlock()
	return nil
}

// Name returns the worker name for identification
func (w *ResumeWorker) Name() string {
	return "ResumeWorker"
}

func (w *ResumeWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Failed to resume stalled instances", zap.Error(err))
			}
		}
	}
}

// RunOnce resumes one batch of stalled instances and returns how many advanced
func (w *ResumeWorker) RunOnce(ctx context.Context) (int, error) {
	stalled, err := w.finder.ListStalled(ctx, w.now().Add(-w.config.Grace), w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stalled instances: %w", err)
	}

	resumed := 0
	for _, inst := range stalled {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.resumeOne(ctx, inst.ID)

		w.mu.Lock()
		if err != nil {
			w.failedCount++
		} else if ok {
			w.resumedCount++
			resumed++
		}
		w.mu.Unlock()

		if err != nil {
			w.logger.Warn("Failed to resume instance",
				zap.Int64("instance_id", inst.ID),
				zap.Error(err))
		}
	}
	return resumed, nil
}

func (w *ResumeWorker) resumeOne(ctx context.Context, instanceID int64) (bool, error) {
	release, ok, err := w.locker.TryLock(ctx, "resume:"+strconv.FormatInt(instanceID, 10), w.config.LeaseTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		w.logger.Debug("Instance is being resumed elsewhere", zap.Int64("instance_id", instanceID))
		return false, nil
	}
	defer release()

	advanced, err := w.resumer.Resume(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if advanced {
		w.logger.Info("Stalled instance resumed", zap.Int64("instance_id", instanceID))
	}
	return advanced, nil
}
