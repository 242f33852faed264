package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a logged 500. Routes listed in acks answer
// 200 with their acknowledgement body instead, so the provider never retries a
// callback because of a local failure.
func Recovery(logger *slog.Logger, acks map[string]any) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			route := c.FullPath()
			correlationID := GetCorrelationID(c)
			logger.Error("Panic recovered",
				"error", r,
				"stack", string(debug.Stack()),
				"route", route,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"correlation_id", correlationID,
			)

			if ack, ok := acks[route]; ok {
				c.AbortWithStatusJSON(http.StatusOK, ack)
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, panicResponse(correlationID))
		}()

		c.Next()
	}
}

func panicResponse(correlationID string) gin.H {
	response := gin.H{
		"error": gin.H{
			"code":    "INTERNAL_SERVER_ERROR",
			"message": "An internal server error occurred",
		},
	}
	if correlationID != "" {
		response["correlation_id"] = correlationID
	}
	return response
}
