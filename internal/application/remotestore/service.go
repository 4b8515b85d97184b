// Package remotestore is the reference implementation of the remote store that
// field devices sync against. It answers the device RPC contract over the
// reference store database.
package remotestore

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRepository stores committed orders, at most once per local id
type OrderRepository interface {
	Create(ctx context.Context, req offline.CreateOrderRequest) (id string, created bool, err error)
}

// StockRepository adjusts and reads stock levels
type StockRepository interface {
	AdjustAtomic(ctx context.Context, localID string, deltas []offline.StockDelta) error
	Adjust(ctx context.Context, localID string, delta offline.StockDelta) error
	Levels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error)
	SetLevel(ctx context.Context, productID string, quantity decimal.Decimal) error
}

// MermaRepository stores write-offs, at most once per local id
type MermaRepository interface {
	Record(ctx context.Context, merma *offline.PendingMerma) (created bool, err error)
}

// PricingRepository stores the pricing feed
type PricingRepository interface {
	ListGroups(ctx context.Context) ([]pricing.PricingGroup, error)
	SaveGroup(ctx context.Context, group *pricing.PricingGroup) error
}

// Config holds reference store behavior switches
type Config struct {
	// AtomicEnabled turns the transactional adjustment RPC on. When off the store
	// reports the capability as unavailable so devices use the sequential path.
	AtomicEnabled bool
	Idempotency   shared.IdempotencyConfig
	// HealthCheck backs Ping. Nil reports healthy.
	HealthCheck func(context.Context) error
}

// Service implements offline.RemoteStore over the reference store repositories
type Service struct {
	orders  OrderRepository
	stock   StockRepository
	mermas  MermaRepository
	pricing PricingRepository
	idem    shared.IdempotencyStore
	cfg     Config
	logger  *zap.Logger
}

// NewService creates the reference store service. idem may be nil.
func NewService(orders OrderRepository, stock StockRepository, mermas MermaRepository, pricingRepo PricingRepository, idem shared.IdempotencyStore, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		orders:  orders,
		stock:   stock,
		mermas:  mermas,
		pricing: pricingRepo,
		idem:    idem,
		cfg:     cfg,
		logger:  log,
	}
}

var _ offline.RemoteStore = (*Service)(nil)

// AtomicEnabled reports whether the transactional adjustment RPC is served
func (s *Service) AtomicEnabled() bool {
	return s.cfg.AtomicEnabled
}

// CreateOrder stores the order once per local id
func (s *Service) CreateOrder(ctx context.Context, req offline.CreateOrderRequest) (string, error) {
	id, _, err := s.CreateOrderIdempotent(ctx, req)
	return id, err
}

// CreateOrderIdempotent stores the order once per local id and reports whether
// the call was a replay of an earlier one
func (s *Service) CreateOrderIdempotent(ctx context.Context, req offline.CreateOrderRequest) (string, bool, error) {
	if req.LocalID == "" {
		return "", false, shared.NewDomainError(shared.CodeInvalidInput, "local id is required")
	}
	if len(req.Items) == 0 {
		return "", false, shared.NewDomainError(shared.CodeInvalidInput, "order must contain at least one item")
	}

	key := orderKey(req.LocalID)
	if id, ok := s.lookup(ctx, key); ok {
		s.logger.Debug("order replay answered from idempotency cache", zap.String("local_id", req.LocalID))
		return id, true, nil
	}

	id, created, err := s.orders.Create(ctx, req)
	if err != nil {
		return "", false, err
	}
	s.remember(ctx, key, id)

	if created {
		s.logger.Info("order created",
			zap.String("local_id", req.LocalID),
			zap.String("order_id", id),
			zap.String("device_id", logger.GetDeviceID(ctx)),
		)
	}
	return id, !created, nil
}

// AdjustStockAtomic applies every delta or none
func (s *Service) AdjustStockAtomic(ctx context.Context, localID string, deltas []offline.StockDelta) error {
	if !s.cfg.AtomicEnabled {
		return offline.NewCapabilityUnavailableError(offline.CapabilityAtomicAdjust)
	}
	if err := validateAdjust(localID, deltas); err != nil {
		return err
	}
	if err := s.stock.AdjustAtomic(ctx, localID, deltas); err != nil {
		return err
	}
	s.logger.Debug("stock adjusted atomically", zap.String("local_id", localID), zap.Int("deltas", len(deltas)))
	return nil
}

// AdjustStock applies one delta
func (s *Service) AdjustStock(ctx context.Context, localID string, delta offline.StockDelta) error {
	if err := validateAdjust(localID, []offline.StockDelta{delta}); err != nil {
		return err
	}
	return s.stock.Adjust(ctx, localID, delta)
}

// GetStockLevels reads current stock
func (s *Service) GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	return s.stock.Levels(ctx, productIDs)
}

// RecordMerma stores the write-off once per local id
func (s *Service) RecordMerma(ctx context.Context, merma *offline.PendingMerma) error {
	if err := merma.Validate(); err != nil {
		return err
	}
	created, err := s.mermas.Record(ctx, merma)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("merma recorded",
			zap.String("local_id", merma.LocalID),
			zap.String("product_id", merma.ProductID),
			zap.String("reason_code", merma.ReasonCode),
		)
	}
	return nil
}

// ListPricingGroups returns the pricing feed
func (s *Service) ListPricingGroups(ctx context.Context) ([]pricing.PricingGroup, error) {
	return s.pricing.ListGroups(ctx)
}

// Ping checks the backing database when a health check is configured
func (s *Service) Ping(ctx context.Context) error {
	if s.cfg.HealthCheck == nil {
		return nil
	}
	return s.cfg.HealthCheck(ctx)
}

// SetStockLevel overwrites the stock of a product
func (s *Service) SetStockLevel(ctx context.Context, productID string, quantity decimal.Decimal) error {
	if productID == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "product id is required")
	}
	if quantity.IsNegative() {
		return shared.NewDomainError(shared.CodeInvalidInput, "stock cannot be negative")
	}
	return s.stock.SetLevel(ctx, productID, quantity)
}

// SavePricingGroup validates and stores a pricing group
func (s *Service) SavePricingGroup(ctx context.Context, group *pricing.PricingGroup) error {
	if group.GroupID == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "group id is required")
	}
	if err := group.Validate(); err != nil {
		return err
	}
	return s.pricing.SaveGroup(ctx, group)
}

func (s *Service) lookup(ctx context.Context, key string) (string, bool) {
	if s.idem == nil || !s.cfg.Idempotency.Enabled {
		return "", false
	}
	v, ok, err := s.idem.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (s *Service) remember(ctx context.Context, key, value string) {
	if s.idem == nil || !s.cfg.Idempotency.Enabled {
		return
	}
	ttl := s.cfg.Idempotency.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if _, err := s.idem.Remember(ctx, key, value, ttl); err != nil {
		s.logger.Warn("idempotency remember failed", zap.String("key", key), zap.Error(err))
	}
}

func orderKey(localID string) string {
	return fmt.Sprintf("order:%s", localID)
}

func validateAdjust(localID string, deltas []offline.StockDelta) error {
	if localID == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "local id is required")
	}
	if len(deltas) == 0 {
		return shared.NewDomainError(shared.CodeInvalidInput, "at least one delta is required")
	}
	for _, d := range deltas {
		if d.ProductID == "" {
			return shared.NewDomainError(shared.CodeInvalidInput, "delta product id is required")
		}
	}
	return nil
}
