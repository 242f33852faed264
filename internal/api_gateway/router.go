package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mpesa-token-bridge/internal/api_gateway/handler"
	"github.com/mpesa-token-bridge/internal/api_gateway/middleware"
)

const (
	healthPath   = "/health"
	callbackPath = "/api/v1/mpesa/callback"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	purchaseHandler *handler.PurchaseHandler,
	callbackHandler *handler.CallbackHandler,
) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger, map[string]any{
		callbackPath: handler.CallbackAck{ResultCode: 0, ResultDesc: "Accepted"},
	}))
	r.Use(middleware.Logger(logger, healthPath))

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		purchases := v1.Group("/purchases")
		{
			purchases.POST("", purchaseHandler.Create)
			purchases.GET("/:reference", purchaseHandler.GetByReference)
		}

		v1.GET("/transactions/:requestId", purchaseHandler.GetByRequestID)

		// Daraja STK push result notifications
		v1.POST("/mpesa/callback", callbackHandler.Handle)
	}

	// Health check endpoint for monitoring
	r.GET(healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
