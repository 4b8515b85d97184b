package router

import (
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/interfaces/http/handler"
	"github.com/erp/ordersync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// EngineConfig holds the middleware settings shared by both servers
type EngineConfig struct {
	ServiceName string
	Tracing     bool
	MaxBodySize int64
	// Meter records HTTP metrics. Nil disables them.
	Meter metric.Meter
	// Limiter throttles requests per device. Nil disables it.
	Limiter *middleware.RateLimiter
}

// newEngine builds a gin engine with the common middleware chain:
// recovery, request logging, tracing, device id, metrics and body limit.
func newEngine(cfg EngineConfig, log *zap.Logger) *gin.Engine {
	log = logger.OrNop(log)
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.DeviceID(),
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.Tracing}),
		middleware.SpanAttributes(),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(cfg.Meter),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	if cfg.Limiter != nil {
		engine.Use(middleware.RateLimitByDevice(cfg.Limiter))
	}
	return engine
}

// NewAgentEngine serves the local agent API under /api/v1 plus /healthz
func NewAgentEngine(cfg EngineConfig, log *zap.Logger, agent *handler.AgentHandler) *gin.Engine {
	engine := newEngine(cfg, log)
	engine.GET("/healthz", agent.Health)
	NewRouter(engine).Register(agent).Setup()
	return engine
}

// NewRPCEngine serves the reference store under /rpc/v1 plus /healthz
func NewRPCEngine(cfg EngineConfig, log *zap.Logger, rpc *handler.RPCHandler) *gin.Engine {
	engine := newEngine(cfg, log)
	engine.GET("/healthz", rpc.Health)
	NewRouter(engine, WithBasePath("rpc")).Register(rpc).Setup()
	return engine
}
