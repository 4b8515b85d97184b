package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// Schedule is a standard 5-field cron expression or a descriptor such as "@every 5m"
	Schedule string
	// RunTimeout bounds one scheduled run
	RunTimeout time.Duration
}

// CronTrigger runs a sync on a cron schedule. A tick that fires while the
// previous scheduled run is still going is skipped.
type CronTrigger struct {
	config CronTriggerConfig
	syncer Syncer
	logger *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	isRunning bool
}

// NewCronTrigger validates the schedule and creates the trigger
func NewCronTrigger(config CronTriggerConfig, syncer Syncer, logger *zap.Logger) (*CronTrigger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, config.Schedule, err)
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 5 * time.Minute
	}
	return &CronTrigger{config: config, syncer: syncer, logger: logger}, nil
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}

	cl := cronLogger{logger: c.logger}
	c.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.cron.AddFunc(c.config.Schedule, func() { c.run(ctx) }); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.cron.Start()
	c.isRunning = true

	c.logger.Info("Cron sync trigger started", zap.String("schedule", c.config.Schedule))
	return nil
}

// Stop stops the trigger and waits for a running sync to finish
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	stopped := c.cron.Stop()
	c.mu.Unlock()

	select {
	case <-stopped.Done():
		c.logger.Info("Cron sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run performs one scheduled sync
func (c *CronTrigger) run(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, c.config.RunTimeout)
	defer cancel()

	result := c.syncer.Sync(ctx, offline.TriggerSchedule)
	if result.Skipped {
		c.logger.Debug("scheduled sync skipped, another run in progress")
	}
}

// cronLogger routes cron's internal logging to zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("cron", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("cron", keysAndValues))
}
