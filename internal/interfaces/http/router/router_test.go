package router

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/erp/ordersync/internal/application/remotestore"
	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/infrastructure/cache"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/erp/ordersync/internal/interfaces/http/handler"
	"github.com/erp/ordersync/internal/interfaces/http/middleware"
	"github.com/erp/ordersync/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type registrarFunc func(rg *gin.RouterGroup)

func (f registrarFunc) RegisterRoutes(rg *gin.RouterGroup) { f(rg) }

func ping(rg *gin.RouterGroup) {
	rg.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func TestRouter_Prefix(t *testing.T) {
	tests := []struct {
		name string
		opts []RouterOption
		want string
	}{
		{"defaults", nil, "/api/v1"},
		{"version", []RouterOption{WithAPIVersion("v2")}, "/api/v2"},
		{"base path", []RouterOption{WithBasePath("rpc")}, "/rpc/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRouter(gin.New(), tt.opts...).Prefix())
		})
	}
}

func TestRouter_SetupMountsEveryRegistrar(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, WithBasePath("rpc")).
		Register(registrarFunc(ping)).
		Register(registrarFunc(func(rg *gin.RouterGroup) {
			rg.POST("/echo", func(c *gin.Context) { c.String(http.StatusOK, "echo") })
		})).
		Setup()

	w := testutil.PerformJSON(t, engine, http.MethodGet, "/rpc/v1/ping", nil, nil)
	assert.Equal(t, "pong", w.Body.String())
	w = testutil.PerformJSON(t, engine, http.MethodPost, "/rpc/v1/echo", nil, nil)
	assert.Equal(t, "echo", w.Body.String())
	w = testutil.PerformJSON(t, engine, http.MethodGet, "/api/v1/ping", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func newStore(t *testing.T) *remotestore.Service {
	t.Helper()
	db := testutil.NewReferenceStoreDB(t)
	idem := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = idem.Close() })
	return remotestore.NewService(
		persistence.NewGormRemoteOrderRepository(db),
		persistence.NewGormStockRepository(db),
		persistence.NewGormMermaRepository(db),
		persistence.NewGormPricingRepository(db),
		idem,
		remotestore.Config{AtomicEnabled: true, Idempotency: shared.IdempotencyConfig{Enabled: true, TTL: time.Hour}},
		nil,
	)
}

func TestNewRPCEngine(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	limiter := middleware.NewRateLimiter(t.Context(), 3, time.Minute)

	engine := NewRPCEngine(EngineConfig{
		ServiceName: "reference-store",
		MaxBodySize: 256,
		Meter:       provider.Meter("test"),
		Limiter:     limiter,
	}, nil, handler.NewRPCHandler(newStore(t)))

	t.Run("health and request id", func(t *testing.T) {
		w := testutil.PerformJSON(t, engine, http.MethodGet, "/healthz", nil,
			map[string]string{logger.RequestIDHeader: "req-1", dto.DeviceIDHeader: "health"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "req-1", w.Header().Get(logger.RequestIDHeader))
		assert.True(t, testutil.DecodeData[dto.HealthResponse](t, w).AtomicEnabled)
	})

	t.Run("rpc routes", func(t *testing.T) {
		w := testutil.PerformJSON(t, engine, http.MethodPost, "/rpc/v1/stock/levels",
			dto.StockLevelsRequest{ProductIDs: []string{"p1"}}, map[string]string{dto.DeviceIDHeader: "routes"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("body limit", func(t *testing.T) {
		big := offline.CreateOrderRequest{LocalID: "l-1", Notes: strings.Repeat("x", 512)}
		w := testutil.PerformJSON(t, engine, http.MethodPost, "/rpc/v1/orders", big,
			map[string]string{dto.DeviceIDHeader: "big"})
		testutil.AssertErrorResponse(t, w, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge)
	})

	t.Run("rate limit per device", func(t *testing.T) {
		headers := map[string]string{dto.DeviceIDHeader: "chatty"}
		for range 3 {
			w := testutil.PerformJSON(t, engine, http.MethodGet, "/healthz", nil, headers)
			require.Equal(t, http.StatusOK, w.Code)
		}
		w := testutil.PerformJSON(t, engine, http.MethodGet, "/healthz", nil, headers)
		testutil.AssertErrorResponse(t, w, http.StatusTooManyRequests, middleware.ErrCodeRateLimited)
	})

	t.Run("metrics recorded", func(t *testing.T) {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		names := map[string]bool{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				names[m.Name] = true
			}
		}
		assert.True(t, names["http_server_request_total"])
	})
}

type emptyQueue struct{}

func (emptyQueue) Sync(context.Context, offline.SyncTrigger) offline.SyncResult {
	return offline.SyncResult{Skipped: true}
}
func (emptyQueue) Pending(context.Context) (offline.Pending, error) { return offline.Pending{}, nil }
func (emptyQueue) LastResult() (offline.SyncResult, bool)           { return offline.SyncResult{}, false }
func (emptyQueue) History(int) []offline.SyncResult                 { return nil }

func TestNewAgentEngine(t *testing.T) {
	engine := NewAgentEngine(EngineConfig{ServiceName: "agent"}, nil, handler.NewAgentHandler(nil, emptyQueue{}))

	w := testutil.PerformJSON(t, engine, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))

	w = testutil.PerformJSON(t, engine, http.MethodGet, "/api/v1/pending", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, testutil.DecodeData[handler.PendingResponse](t, w).Count)

	w = testutil.PerformJSON(t, engine, http.MethodPost, "/api/v1/sync", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, offline.SyncStatusSkipped, testutil.DecodeData[handler.SyncResponse](t, w).Status)

	w = testutil.PerformJSON(t, engine, http.MethodGet, "/rpc/v1/orders", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
