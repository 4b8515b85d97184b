// Package offlinesync drains the offline queue into the remote store.
package offlinesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/stock"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of the coordinator
type State string

const (
	StateIdle     State = "IDLE"
	StateDraining State = "DRAINING"
)

// StockReader reads current server stock
type StockReader interface {
	GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error)
}

// Notifier receives the result of every finished run, skipped runs included
type Notifier func(result offline.SyncResult)

// Config holds coordinator settings
type Config struct {
	// ItemTimeout bounds every remote call of one entry. Zero disables it.
	ItemTimeout time.Duration
	// HistorySize is how many results History keeps
	HistorySize int
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		ItemTimeout: 20 * time.Second,
		HistorySize: 20,
	}
}

// Coordinator is the single writer of the offline queue.
//
// A run snapshots the queue and processes orders, then mermas, one at a time in
// creation order. Every entry is validated against freshly read server stock before
// it is committed, and removed from the queue only after the commit is confirmed.
// Entries that conflict or fail stay queued. Runs are single-flight: a run requested
// while another is draining returns a skipped result at once. Enqueues wait for the
// running drain to finish.
type Coordinator struct {
	queue   offline.Queue
	gateway offline.StockGateway
	stock   StockReader
	ledger  *stock.Ledger
	cfg     Config
	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time

	// sem is the single-flight guard shared by runs and enqueues
	sem chan struct{}

	stateMu sync.RWMutex
	state   State

	historyMu sync.RWMutex
	history   []offline.SyncResult

	notifyMu  sync.RWMutex
	notifiers []Notifier
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records run metrics
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer sets the tracer used for run and entry spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator
func NewCoordinator(queue offline.Queue, gateway offline.StockGateway, stockReader StockReader, cfg Config, opts ...Option) *Coordinator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	c := &Coordinator{
		queue:   queue,
		gateway: gateway,
		stock:   stockReader,
		ledger:  stock.NewLedger(),
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/erp/ordersync/offlinesync"),
		logger:  zap.NewNop(),
		now:     time.Now,
		sem:     make(chan struct{}, 1),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnResult registers a notifier
func (c *Coordinator) OnResult(n Notifier) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// State returns the current state
func (c *Coordinator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = s
}

// tryAcquire takes the guard without waiting
func (c *Coordinator) tryAcquire() bool {
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquire waits for the guard or ctx
func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	<-c.sem
}

// EnqueueOrder validates and queues an order. It waits while a drain is running,
// so the order is never lost but joins the next run.
func (c *Coordinator) EnqueueOrder(ctx context.Context, order *offline.PendingOrder) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("enqueue order %s: %w", order.LocalID, err)
	}
	err := c.queue.EnqueueOrder(ctx, order)
	c.release()
	if err != nil {
		return fmt.Errorf("enqueue order %s: %w", order.LocalID, err)
	}

	c.logger.Info("order queued",
		zap.String("local_id", order.LocalID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total.String()),
	)
	c.recordDepth(ctx)
	return nil
}

// EnqueueMerma validates and queues a merma, waiting for a running drain like EnqueueOrder
func (c *Coordinator) EnqueueMerma(ctx context.Context, merma *offline.PendingMerma) error {
	if err := merma.Validate(); err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("enqueue merma %s: %w", merma.LocalID, err)
	}
	err := c.queue.EnqueueMerma(ctx, merma)
	c.release()
	if err != nil {
		return fmt.Errorf("enqueue merma %s: %w", merma.LocalID, err)
	}

	c.logger.Info("merma queued",
		zap.String("local_id", merma.LocalID),
		zap.String("product_id", merma.ProductID),
	)
	c.recordDepth(ctx)
	return nil
}

// Sync drains the queue once. It never returns an error: every failure is
// reported in the result and the affected entry stays queued.
//
// Cancelling ctx stops the run before the next entry; the entry being processed
// finishes first.
func (c *Coordinator) Sync(ctx context.Context, trigger offline.SyncTrigger) offline.SyncResult {
	if !c.tryAcquire() {
		now := c.now()
		result := offline.SyncResult{Trigger: trigger, Skipped: true, StartedAt: now, FinishedAt: now}
		c.logger.Debug("sync already running, skipped", zap.String("trigger", string(trigger)))
		c.finish(ctx, result)
		return result
	}

	c.setState(StateDraining)
	result := c.drain(ctx, trigger)
	c.setState(StateIdle)
	c.release()

	c.finish(ctx, result)
	return result
}

func (c *Coordinator) drain(ctx context.Context, trigger offline.SyncTrigger) offline.SyncResult {
	ctx, span := c.tracer.Start(ctx, "sync.run", trace.WithAttributes(telemetry.AttrTrigger.String(string(trigger))))
	defer span.End()

	result := offline.SyncResult{Trigger: trigger, StartedAt: c.now()}

	pending, err := c.queue.ListPending(ctx)
	if err != nil {
		c.logger.Error("failed to read offline queue", zap.Error(err))
		result.AddError("", "", fmt.Errorf("read queue: %w", err))
		span.SetStatus(codes.Error, "read queue")
		result.FinishedAt = c.now()
		return result
	}
	if pending.IsEmpty() {
		result.FinishedAt = c.now()
		return result
	}

	c.logger.Info("sync started",
		zap.String("trigger", string(trigger)),
		zap.Int("orders", len(pending.Orders)),
		zap.Int("mermas", len(pending.Mermas)),
	)

	// Orders that failed with a remote error keep their claim on stock for
	// the orders queued after them.
	var held []offline.PendingOrder

	for i := range pending.Orders {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}
		order := &pending.Orders[i]
		if c.syncOrder(ctx, order, held, &result) {
			held = append(held, *order)
		}
	}

	for i := range pending.Mermas {
		if result.Interrupted || ctx.Err() != nil {
			result.Interrupted = true
			break
		}
		c.syncMerma(ctx, &pending.Mermas[i], &result)
	}

	if len(result.Errors) > 0 {
		span.SetStatus(codes.Error, "entries failed")
	}
	result.FinishedAt = c.now()
	return result
}

// syncOrder processes one order and reports whether it should keep reserving stock
func (c *Coordinator) syncOrder(ctx context.Context, order *offline.PendingOrder, held []offline.PendingOrder, result *offline.SyncResult) bool {
	ctx, span := c.tracer.Start(ctx, "sync.order", trace.WithAttributes(telemetry.AttrLocalID.String(order.LocalID)))
	defer span.End()
	log := c.logger.With(zap.String("local_id", order.LocalID), zap.String("kind", string(offline.EntryKindOrder)))

	// A previous attempt may have changed remote stock already. Fresh levels
	// would then count the order against itself, so the remote store decides.
	if order.Attempts == 0 {
		levels, err := callWithDeadline(ctx, c.cfg.ItemTimeout, "get_stock_levels", func(ctx context.Context) (map[string]decimal.Decimal, error) {
			return c.stock.GetStockLevels(ctx, order.ProductIDs())
		})
		if err != nil {
			c.recordError(ctx, result, order.LocalID, offline.EntryKindOrder, err, log)
			return true
		}

		validation := c.ledger.Validate(stock.LinesFromOrder(order), levels, held)
		if !validation.Valid {
			for _, s := range validation.Shortfalls {
				result.AddConflict(offline.StockConflict{
					LocalID:             order.LocalID,
					Kind:                offline.EntryKindOrder,
					ProductID:           s.ProductID,
					Requested:           s.Requested,
					AvailableAtSyncTime: s.Available,
				})
			}
			c.metrics.RecordConflict(ctx, string(offline.EntryKindOrder))
			log.Warn("order conflicts with current stock", zap.Int("shortfalls", len(validation.Shortfalls)))
			return false
		}
	}

	if err := c.queue.MarkAttempted(ctx, order.LocalID); err != nil {
		c.recordError(ctx, result, order.LocalID, offline.EntryKindOrder, fmt.Errorf("mark order attempted: %w", err), log)
		return true
	}

	receipt, err := callWithDeadline(ctx, c.cfg.ItemTimeout, "commit_order", func(ctx context.Context) (offline.CommitReceipt, error) {
		return c.gateway.CommitOrder(ctx, order)
	})
	if err != nil {
		var conflict *offline.StockConflictError
		if errors.As(err, &conflict) {
			result.AddConflict(offline.StockConflict{
				LocalID:             order.LocalID,
				Kind:                offline.EntryKindOrder,
				ProductID:           conflict.ProductID,
				Requested:           order.QuantitiesByProduct()[conflict.ProductID],
				AvailableAtSyncTime: conflict.Available,
			})
			c.metrics.RecordConflict(ctx, string(offline.EntryKindOrder))
			log.Warn("remote store rejected order on stock", zap.String("product_id", conflict.ProductID))
			return false
		}
		c.recordError(ctx, result, order.LocalID, offline.EntryKindOrder, err, log)
		// Stock already taken remotely is in the levels later orders read
		return !offline.StockTouched(err)
	}
	if receipt.Path == offline.CommitPathSequentialFallback {
		result.FallbackUsed = true
	}

	if err := c.queue.Remove(context.WithoutCancel(ctx), order.LocalID); err != nil {
		// Committed remotely; the idempotency key makes the retry a no-op
		c.recordError(ctx, result, order.LocalID, offline.EntryKindOrder, fmt.Errorf("remove committed order: %w", err), log)
		return false
	}
	result.SyncedCount++
	c.metrics.RecordSynced(ctx, string(offline.EntryKindOrder))
	log.Info("order synced", zap.String("remote_order_id", receipt.RemoteOrderID))
	return false
}

func (c *Coordinator) syncMerma(ctx context.Context, merma *offline.PendingMerma, result *offline.SyncResult) {
	ctx, span := c.tracer.Start(ctx, "sync.merma", trace.WithAttributes(telemetry.AttrLocalID.String(merma.LocalID)))
	defer span.End()
	log := c.logger.With(zap.String("local_id", merma.LocalID), zap.String("kind", string(offline.EntryKindMerma)))

	if merma.Attempts == 0 {
		levels, err := callWithDeadline(ctx, c.cfg.ItemTimeout, "get_stock_levels", func(ctx context.Context) (map[string]decimal.Decimal, error) {
			return c.stock.GetStockLevels(ctx, []string{merma.ProductID})
		})
		if err != nil {
			c.recordError(ctx, result, merma.LocalID, offline.EntryKindMerma, err, log)
			return
		}

		// Write-offs reserve nothing from each other; only current stock matters
		lines := []stock.Line{{ProductID: merma.ProductID, Quantity: merma.Quantity}}
		validation := c.ledger.Validate(lines, levels, nil)
		if !validation.Valid {
			s := validation.Shortfalls[0]
			result.AddConflict(offline.StockConflict{
				LocalID:             merma.LocalID,
				Kind:                offline.EntryKindMerma,
				ProductID:           s.ProductID,
				Requested:           s.Requested,
				AvailableAtSyncTime: s.Available,
			})
			c.metrics.RecordConflict(ctx, string(offline.EntryKindMerma))
			log.Warn("merma exceeds current stock")
			return
		}
	}

	if err := c.queue.MarkAttempted(ctx, merma.LocalID); err != nil {
		c.recordError(ctx, result, merma.LocalID, offline.EntryKindMerma, fmt.Errorf("mark merma attempted: %w", err), log)
		return
	}

	receipt, err := callWithDeadline(ctx, c.cfg.ItemTimeout, "commit_merma", func(ctx context.Context) (offline.CommitReceipt, error) {
		return c.gateway.CommitMerma(ctx, merma)
	})
	if err != nil {
		var conflict *offline.StockConflictError
		if errors.As(err, &conflict) {
			result.AddConflict(offline.StockConflict{
				LocalID:             merma.LocalID,
				Kind:                offline.EntryKindMerma,
				ProductID:           merma.ProductID,
				Requested:           merma.Quantity,
				AvailableAtSyncTime: conflict.Available,
			})
			c.metrics.RecordConflict(ctx, string(offline.EntryKindMerma))
			return
		}
		c.recordError(ctx, result, merma.LocalID, offline.EntryKindMerma, err, log)
		return
	}
	if receipt.Path == offline.CommitPathSequentialFallback {
		result.FallbackUsed = true
	}

	if err := c.queue.Remove(context.WithoutCancel(ctx), merma.LocalID); err != nil {
		c.recordError(ctx, result, merma.LocalID, offline.EntryKindMerma, fmt.Errorf("remove committed merma: %w", err), log)
		return
	}
	result.SyncedMermaCount++
	c.metrics.RecordSynced(ctx, string(offline.EntryKindMerma))
	log.Info("merma synced")
}

func (c *Coordinator) recordError(ctx context.Context, result *offline.SyncResult, localID string, kind offline.EntryKind, err error, log *zap.Logger) {
	result.AddError(localID, kind, err)
	c.metrics.RecordError(ctx, string(kind))
	trace.SpanFromContext(ctx).RecordError(err)
	log.Warn("entry left queued", zap.Error(err))
}

// finish publishes a result to history, metrics and notifiers
func (c *Coordinator) finish(ctx context.Context, result offline.SyncResult) {
	if !result.Skipped {
		c.historyMu.Lock()
		c.history = append([]offline.SyncResult{result}, c.history...)
		if len(c.history) > c.cfg.HistorySize {
			c.history = c.history[:c.cfg.HistorySize]
		}
		c.historyMu.Unlock()

		c.logger.Info("sync finished",
			zap.String("trigger", string(result.Trigger)),
			zap.String("status", string(result.Status())),
			zap.Int("synced_orders", result.SyncedCount),
			zap.Int("synced_mermas", result.SyncedMermaCount),
			zap.Int("conflicts", len(result.Conflicts)),
			zap.Int("errors", len(result.Errors)),
			zap.Bool("fallback_used", result.FallbackUsed),
			zap.Bool("interrupted", result.Interrupted),
			zap.Duration("duration", result.Duration()),
		)
		c.recordDepth(ctx)
	}
	c.metrics.RecordRun(ctx, string(result.Status()), string(result.Trigger), result.Duration())

	c.notifyMu.RLock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.notifyMu.RUnlock()
	for _, n := range notifiers {
		n(result)
	}
}

// History returns up to n recent results, newest first. n <= 0 returns all kept results.
func (c *Coordinator) History(n int) []offline.SyncResult {
	c.historyMu.RLock()
	defer c.historyMu.RUnlock()

	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	out := make([]offline.SyncResult, n)
	copy(out, c.history[:n])
	return out
}

// LastResult returns the most recent finished run
func (c *Coordinator) LastResult() (offline.SyncResult, bool) {
	h := c.History(1)
	if len(h) == 0 {
		return offline.SyncResult{}, false
	}
	return h[0], true
}

// Pending returns the queued entries
func (c *Coordinator) Pending(ctx context.Context) (offline.Pending, error) {
	return c.queue.ListPending(ctx)
}

func (c *Coordinator) recordDepth(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	depth, err := c.queue.Count(ctx)
	if err != nil {
		c.logger.Warn("failed to count queue", zap.Error(err))
		return
	}
	c.metrics.RecordQueueDepth(ctx, depth)
}
