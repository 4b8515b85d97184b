package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Negotiator routes commits to the primary gateway until the remote store reports
// that the primary capability is missing, then to the fallback. The switch sticks;
// with a positive reprobe interval the primary is tried again once it elapses.
type Negotiator struct {
	primary         offline.StockGateway
	fallback        offline.StockGateway
	reprobeInterval time.Duration
	metrics         *telemetry.SyncMetrics
	logger          *zap.Logger
	now             func() time.Time

	mu            sync.Mutex
	fallbackSince time.Time
}

var _ offline.StockGateway = (*Negotiator)(nil)

// NegotiatorOption configures a Negotiator
type NegotiatorOption func(*Negotiator)

// WithReprobeInterval sets how long the fallback stays selected before the primary is retried.
// Zero keeps the fallback for the process lifetime.
func WithReprobeInterval(d time.Duration) NegotiatorOption {
	return func(n *Negotiator) { n.reprobeInterval = d }
}

// WithMetrics counts commits per stock path
func WithMetrics(m *telemetry.SyncMetrics) NegotiatorOption {
	return func(n *Negotiator) { n.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) NegotiatorOption {
	return func(n *Negotiator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) NegotiatorOption {
	return func(n *Negotiator) { n.now = now }
}

// NewNegotiator creates a negotiator over primary and fallback
func NewNegotiator(primary, fallback offline.StockGateway, opts ...NegotiatorOption) *Negotiator {
	n := &Negotiator{
		primary:  primary,
		fallback: fallback,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewRemoteNegotiator wires the atomic gateway as primary and the sequential one as fallback
func NewRemoteNegotiator(remote offline.RemoteStore, opts ...NegotiatorOption) *Negotiator {
	n := NewNegotiator(nil, nil, opts...)
	n.primary = NewAtomicGateway(remote)
	n.fallback = NewSequentialGateway(remote, n.logger)
	return n
}

// CommitOrder commits a queued order
func (n *Negotiator) CommitOrder(ctx context.Context, order *offline.PendingOrder) (offline.CommitReceipt, error) {
	return n.commit(ctx, order.LocalID, offline.EntryKindOrder, func(g offline.StockGateway) (offline.CommitReceipt, error) {
		return g.CommitOrder(ctx, order)
	})
}

// CommitMerma commits a queued merma
func (n *Negotiator) CommitMerma(ctx context.Context, merma *offline.PendingMerma) (offline.CommitReceipt, error) {
	return n.commit(ctx, merma.LocalID, offline.EntryKindMerma, func(g offline.StockGateway) (offline.CommitReceipt, error) {
		return g.CommitMerma(ctx, merma)
	})
}

// Path returns the stock path the next commit will try first
func (n *Negotiator) Path() offline.CommitPath {
	if n.usingFallback(false) {
		return offline.CommitPathSequentialFallback
	}
	return offline.CommitPathAtomic
}

func (n *Negotiator) commit(
	ctx context.Context,
	localID string,
	kind offline.EntryKind,
	do func(offline.StockGateway) (offline.CommitReceipt, error),
) (offline.CommitReceipt, error) {
	path := offline.CommitPathAtomic
	var (
		receipt offline.CommitReceipt
		err     error
	)

	if n.usingFallback(true) {
		path = offline.CommitPathSequentialFallback
		receipt, err = do(n.fallback)
	} else {
		receipt, err = do(n.primary)
		if offline.IsCapabilityUnavailable(err) {
			n.switchToFallback(err)
			path = offline.CommitPathSequentialFallback
			receipt, err = do(n.fallback)
		}
	}

	// The fallback has nothing further to fall back to
	if offline.IsCapabilityUnavailable(err) {
		err = offline.NewRemoteError("commit", 0, err)
	}

	fields := []zap.Field{
		zap.String("local_id", localID),
		zap.String("kind", string(kind)),
		zap.String("stock_path", string(path)),
	}
	if err != nil {
		n.logger.Warn("stock commit failed", append(fields, zap.Error(err))...)
		return offline.CommitReceipt{}, err
	}

	receipt.Path = path
	n.metrics.RecordCommit(ctx, string(path))
	n.logger.Info("stock commit", append(fields, zap.String("remote_order_id", receipt.RemoteOrderID))...)
	return receipt, nil
}

// usingFallback reports whether the fallback is selected. When the reprobe
// interval has elapsed and reset is set, the primary is selected again.
func (n *Negotiator) usingFallback(reset bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fallbackSince.IsZero() {
		return false
	}
	if n.reprobeInterval > 0 && n.now().Sub(n.fallbackSince) >= n.reprobeInterval {
		if reset {
			n.fallbackSince = time.Time{}
			n.logger.Info("re-probing atomic stock path")
		}
		return false
	}
	return true
}

func (n *Negotiator) switchToFallback(cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fallbackSince.IsZero() {
		n.logger.Warn("atomic stock adjustment unavailable, switching to sequential fallback",
			zap.Error(cause),
		)
	}
	n.fallbackSince = n.now()
}
