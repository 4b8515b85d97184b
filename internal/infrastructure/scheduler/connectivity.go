package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"go.uber.org/zap"
)

// ConnectivityWatcherConfig holds configuration for the watcher
type ConnectivityWatcherConfig struct {
	// CheckInterval is how often the remote store is pinged
	CheckInterval time.Duration
	// PingTimeout bounds one ping
	PingTimeout time.Duration
	// SyncOnStart treats a reachable first check as a reconnect, draining work
	// queued before a restart
	SyncOnStart bool
}

// ConnectivityWatcher pings the remote store and runs a sync each time it goes
// from unreachable to reachable.
type ConnectivityWatcher struct {
	config ConnectivityWatcherConfig
	pinger Pinger
	syncer Syncer
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	online    bool
	checked   bool
}

// NewConnectivityWatcher creates the watcher
func NewConnectivityWatcher(config ConnectivityWatcherConfig, pinger Pinger, syncer Syncer, logger *zap.Logger) *ConnectivityWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 15 * time.Second
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 5 * time.Second
	}
	return &ConnectivityWatcher{config: config, pinger: pinger, syncer: syncer, logger: logger}
}

// Start begins watching
func (w *ConnectivityWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Go(func() { w.runLoop(ctx) })

	w.logger.Info("Connectivity watcher started", zap.Duration("check_interval", w.config.CheckInterval))
	return nil
}

// Stop stops watching and waits for an in-flight sync
func (w *ConnectivityWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.cancel()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Connectivity watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Online reports the result of the last check
func (w *ConnectivityWatcher) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

func (w *ConnectivityWatcher) runLoop(ctx context.Context) {
	w.Check(ctx)

	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check pings once and syncs on an offline to online transition.
// It reports whether the store is reachable.
func (w *ConnectivityWatcher) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, w.config.PingTimeout)
	err := w.pinger.Ping(pingCtx)
	cancel()
	reachable := err == nil

	w.mu.Lock()
	cameOnline := reachable && !w.online && (w.checked || w.config.SyncOnStart)
	wentOffline := !reachable && w.online
	w.online = reachable
	w.checked = true
	w.mu.Unlock()

	switch {
	case cameOnline:
		w.logger.Info("remote store reachable, starting sync")
		w.syncer.Sync(ctx, offline.TriggerConnectivity)
	case wentOffline:
		w.logger.Warn("remote store unreachable, working offline", zap.Error(err))
	}
	return reachable
}
