package middleware

import (
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// DeviceID stores the X-Device-ID header in the request context so logs and
// spans of the request carry it
func DeviceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := truncate(c.GetHeader(dto.DeviceIDHeader)); id != "" {
			c.Request = c.Request.WithContext(logger.WithDeviceID(c.Request.Context(), id))
		}
		c.Next()
	}
}
