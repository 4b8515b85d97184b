// Package middleware provides the gin middleware shared by the agent API and
// the reference store RPC API.
package middleware

import (
	"net/http"

	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxHeaderIDLength caps request and device ids copied into spans
const MaxHeaderIDLength = 128

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns otelgin middleware. Spans are named after the route,
// e.g. "POST /rpc/v1/orders".
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return otelgin.Middleware(cfg.ServiceName)
}

// SpanAttributes adds request_id and device_id to the active span. It must run
// after Tracing and after the request logger has stored the ids.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			ctx := c.Request.Context()
			if id := truncate(logger.GetRequestID(ctx)); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if id := truncate(logger.GetDeviceID(ctx)); id != "" {
				span.SetAttributes(attribute.String("device_id", id))
			}
		}
		c.Next()
	}
}

// SpanErrorMarker marks the span as failed for 5xx responses.
// 4xx responses such as stock conflicts are expected outcomes and stay unset.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func truncate(s string) string {
	if len(s) > MaxHeaderIDLength {
		return s[:MaxHeaderIDLength]
	}
	return s
}
