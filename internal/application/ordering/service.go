// Package ordering implements order placement and merma recording for a field
// device that may be offline.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/domain/stock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PricingSource returns the current pricing map
type PricingSource interface {
	Current(ctx context.Context) *pricing.PricingMap
}

// Connectivity reports whether the remote store was reachable at the last check
type Connectivity interface {
	Online() bool
}

// Coordinator is the offline queue's single writer
type Coordinator interface {
	EnqueueOrder(ctx context.Context, order *offline.PendingOrder) error
	EnqueueMerma(ctx context.Context, merma *offline.PendingMerma) error
	Pending(ctx context.Context) (offline.Pending, error)
	Sync(ctx context.Context, trigger offline.SyncTrigger) offline.SyncResult
}

// Service places orders and records mermas.
//
// Online, a request is validated against fresh server stock minus the pending
// queue and rejected on any shortfall; accepted entries are queued and synced at
// once, so they commit behind anything queued earlier. Offline, validation uses
// the last cached levels and is advisory only; the entry is always queued.
type Service struct {
	pricing      PricingSource
	stock        *StockView
	coordinator  Coordinator
	connectivity Connectivity
	ledger       *stock.Ledger
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewService creates the ordering service
func NewService(pricingSource PricingSource, stockView *StockView, coordinator Coordinator, connectivity Connectivity, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pricing:      pricingSource,
		stock:        stockView,
		coordinator:  coordinator,
		connectivity: connectivity,
		ledger:       stock.NewLedger(),
		validate:     newValidator(),
		logger:       logger,
	}
}

// PreviewPrices prices lines without queueing anything
func (s *Service) PreviewPrices(ctx context.Context, lines []LineInput) (*PreviewResult, error) {
	if len(lines) == 0 {
		return nil, offline.NewValidationError("at least one line is required")
	}
	for _, l := range lines {
		if err := s.validate.StructCtx(ctx, l); err != nil {
			return nil, validationError(err)
		}
	}
	in := PlaceOrderInput{Lines: lines}
	m := s.pricing.Current(ctx)
	orderLines := in.orderLines()
	priced, total := pricing.PriceLines(orderLines, m)
	return &PreviewResult{
		Lines:    priced,
		Prices:   pricing.Resolve(orderLines, m),
		Total:    total,
		Products: m.ProductCount(),
	}, nil
}

// PlaceOrder prices, validates and queues an order, then syncs it when online
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, validationError(err)
	}

	order, err := s.buildOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	pending, err := s.coordinator.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending queue: %w", err)
	}

	result := &PlaceOrderResult{Order: order, Outcome: OutcomeQueued}
	lines := stock.LinesFromOrder(order)
	ids := order.ProductIDs()

	levels, online := s.freshLevels(ctx, ids)
	if online {
		result.Online = true
		result.Stock = s.ledger.Snapshot(ids, levels, pending.Orders)
		if err := s.ledger.Validate(lines, levels, pending.Orders).Err(); err != nil {
			return nil, err
		}
	} else {
		cached, err := s.stock.LastKnown(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("read cached stock: %w", err)
		}
		known := knownLines(lines, cached)
		result.Stock = s.ledger.Snapshot(keys(cached), cached, pending.Orders)
		result.Warnings = s.ledger.Validate(known, cached, pending.Orders).Shortfalls
	}

	if err := s.coordinator.EnqueueOrder(ctx, order); err != nil {
		return nil, err
	}

	if online {
		s.syncNow(ctx, order.LocalID, result)
	}

	s.logger.Info("order placed",
		zap.String("local_id", order.LocalID),
		zap.String("outcome", result.Outcome),
		zap.Bool("online", result.Online),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// RecordMerma queues a stock write-off, syncing it at once when online
func (s *Service) RecordMerma(ctx context.Context, in RecordMermaInput) (*RecordMermaResult, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, validationError(err)
	}
	ids := []string{in.ProductID}
	levels, online := s.freshLevels(ctx, ids)
	if !online {
		cached, err := s.stock.LastKnown(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("read cached stock: %w", err)
		}
		levels = cached
	}

	before := levels[in.ProductID]
	if online && in.Quantity.GreaterThan(before) {
		return nil, offline.NewShortfallError([]offline.Shortfall{{
			ProductID: in.ProductID,
			Requested: in.Quantity,
			Available: before,
		}})
	}

	merma := offline.NewPendingMerma(in.ProductID, in.Quantity, in.ReasonCode, in.UserID, before)
	merma.Observations = in.Observations

	if err := s.coordinator.EnqueueMerma(ctx, merma); err != nil {
		return nil, err
	}

	result := &RecordMermaResult{Merma: merma, Outcome: OutcomeQueued, Online: online}
	if online {
		run := s.coordinator.Sync(ctx, offline.TriggerManual)
		for _, e := range run.Errors {
			if e.LocalID == merma.LocalID {
				result.SyncError = e.Message
			}
		}
		if !s.stillQueued(ctx, merma.LocalID) {
			result.Outcome = OutcomeCommitted
		}
	}

	s.logger.Info("merma recorded",
		zap.String("local_id", merma.LocalID),
		zap.String("product_id", merma.ProductID),
		zap.String("outcome", result.Outcome),
	)
	return result, nil
}

func (s *Service) buildOrder(ctx context.Context, in PlaceOrderInput) (*offline.PendingOrder, error) {
	priced, _ := pricing.PriceLines(in.orderLines(), s.pricing.Current(ctx))
	if len(priced) == 0 {
		return nil, offline.NewValidationError("order must contain at least one line with a positive quantity")
	}
	if len(priced) != len(in.Lines) {
		return nil, offline.NewValidationError("line quantities must be positive")
	}

	items := make([]offline.PendingItem, 0, len(priced))
	for _, p := range priced {
		items = append(items, offline.PendingItem{ProductID: p.ProductID, Quantity: p.Quantity, UnitPrice: p.UnitPrice})
	}

	order := offline.NewPendingOrder(in.ClientID, in.UserID, items)
	order.Notes = in.Notes
	order.PaymentMethod = in.PaymentMethod
	if in.PaymentStatus != "" {
		order.PaymentStatus = in.PaymentStatus
	}
	order.AmountPaid = in.AmountPaid
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// freshLevels reads server stock when the device believes it is online.
// A failed read means the device is treated as offline for this request.
func (s *Service) freshLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, bool) {
	if s.connectivity != nil && !s.connectivity.Online() {
		return nil, false
	}
	levels, err := s.stock.GetStockLevels(ctx, productIDs)
	if err != nil {
		s.logger.Warn("fresh stock read failed, validating against cached levels", zap.Error(err))
		return nil, false
	}
	return levels, true
}

// syncNow drains the queue and reports what happened to localID
func (s *Service) syncNow(ctx context.Context, localID string, result *PlaceOrderResult) {
	run := s.coordinator.Sync(ctx, offline.TriggerManual)
	for i := range run.Conflicts {
		if run.Conflicts[i].LocalID == localID {
			c := run.Conflicts[i]
			result.Conflict = &c
		}
	}
	for _, e := range run.Errors {
		if e.LocalID == localID {
			result.SyncError = e.Message
		}
	}
	if !s.stillQueued(ctx, localID) {
		result.Outcome = OutcomeCommitted
	}
}

func (s *Service) stillQueued(ctx context.Context, localID string) bool {
	pending, err := s.coordinator.Pending(ctx)
	if err != nil {
		return true
	}
	for _, o := range pending.Orders {
		if o.LocalID == localID {
			return true
		}
	}
	for _, m := range pending.Mermas {
		if m.LocalID == localID {
			return true
		}
	}
	return false
}

// knownLines keeps the lines whose product has a cached level
func knownLines(lines []stock.Line, cached map[string]decimal.Decimal) []stock.Line {
	out := make([]stock.Line, 0, len(lines))
	for _, l := range lines {
		if _, ok := cached[l.ProductID]; ok {
			out = append(out, l)
		}
	}
	return out
}

func keys(m map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// newValidator validates decimal fields as float64 so numeric tags such as gt=0 apply
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	return v
}

func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// validationError converts validator errors into a ValidationError
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return offline.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return offline.NewValidationError(strings.Join(msgs, "; "))
}
