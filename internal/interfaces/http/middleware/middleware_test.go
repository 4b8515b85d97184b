package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/erp/ordersync/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestBodyLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodyLimit(100))
	router.POST("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	t.Run("allows request within limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader([]byte("small body")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects declared length over limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", 200)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		testutil.AssertErrorResponse(t, w, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge)
	})
}

func TestRateLimitByDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := NewRateLimiter(ctx, 2, time.Minute)

	router := gin.New()
	router.Use(DeviceID(), RateLimitByDevice(limiter))
	router.POST("/rpc", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(device string) *httptest.ResponseRecorder {
		return testutil.PerformJSON(t, router, http.MethodPost, "/rpc", nil, map[string]string{dto.DeviceIDHeader: device})
	}

	assert.Equal(t, http.StatusOK, call("dev-a").Code)
	w := call("dev-a")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	testutil.AssertErrorResponse(t, call("dev-a"), http.StatusTooManyRequests, ErrCodeRateLimited)

	assert.Equal(t, http.StatusOK, call("dev-b").Code, "budgets are per device")
}

func TestRateLimiter_WindowResets(t *testing.T) {
	limiter := NewRateLimiter(t.Context(), 1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ok, _ := limiter.Allow("k")
	assert.True(t, ok)
	ok, _ = limiter.Allow("k")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = limiter.Allow("k")
	assert.True(t, ok)
}

func TestHandleValidationError(t *testing.T) {
	SetupValidator()

	type request struct {
		LocalID  string          `json:"local_id" binding:"required"`
		Quantity decimal.Decimal `json:"quantity" binding:"gt=0"`
	}

	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(req))
	})

	t.Run("lists invalid fields by json name", func(t *testing.T) {
		w := testutil.PerformJSON(t, router, http.MethodPost, "/test", map[string]any{"quantity": "0"}, nil)

		env := testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeBadRequest)
		fields := map[string]string{}
		for _, f := range env.Error.Fields {
			fields[f.Field] = f.Message
		}
		assert.Equal(t, "This field is required", fields["local_id"])
		assert.Equal(t, "Must be greater than 0", fields["quantity"])
	})

	t.Run("accepts a positive decimal", func(t *testing.T) {
		w := testutil.PerformJSON(t, router, http.MethodPost, "/test", map[string]any{"local_id": "l-1", "quantity": "2.5"}, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		env := testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeBadRequest)
		assert.Equal(t, "Malformed request body", env.Error.Message)
	})
}

func TestTracing_TagsSpanWithRequestAndDevice(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(
		Tracing(TracingConfig{ServiceName: "test", Enabled: true}),
		logger.GinMiddleware(zap.NewNop()),
		DeviceID(),
		SpanAttributes(),
		SpanErrorMarker(),
	)
	router.POST("/rpc/v1/orders", func(c *gin.Context) { c.Status(http.StatusConflict) })
	router.POST("/rpc/v1/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	testutil.PerformJSON(t, router, http.MethodPost, "/rpc/v1/orders", nil, map[string]string{
		dto.DeviceIDHeader:     "dev-1",
		logger.RequestIDHeader: "req-1",
	})
	testutil.PerformJSON(t, router, http.MethodPost, "/rpc/v1/fail", nil, nil)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "dev-1", attrs["device_id"])
	assert.Equal(t, "req-1", attrs["request_id"])
	assert.NotEqual(t, codes.Error, spans[0].Status().Code, "a conflict is not a server fault")
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestTracing_Disabled(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing(TracingConfig{Enabled: false}))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := testutil.PerformJSON(t, router, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sr.Ended())
}

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(HTTPMetrics(mp.Meter("http.server")))
	router.GET("/api/v1/pending", func(c *gin.Context) { c.Status(http.StatusOK) })

	testutil.PerformJSON(t, router, http.MethodGet, "/api/v1/pending", nil, nil)
	testutil.PerformJSON(t, router, http.MethodGet, "/api/v1/pending", nil, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_server_request_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("http.route")
				assert.Equal(t, "/api/v1/pending", route.AsString())
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestHTTPMetrics_NilMeterPassesThrough(t *testing.T) {
	router := gin.New()
	router.Use(HTTPMetrics(nil))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := testutil.PerformJSON(t, router, http.MethodGet, "/x", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
