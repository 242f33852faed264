package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mpesa-token-bridge/internal/api_gateway/middleware"
	"github.com/mpesa-token-bridge/internal/api_gateway/service"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/platform/mpesa"
)

var callbackAccepted = CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}

// CallbackHandler receives Daraja STK callbacks
type CallbackHandler struct {
	callbackService service.CallbackService
	logger          *slog.Logger
}

func NewCallbackHandler(logger *slog.Logger, callbackService service.CallbackService) *CallbackHandler {
	return &CallbackHandler{
		callbackService: callbackService,
		logger:          logger,
	}
}

// Handle always acknowledges. Daraja retries unacknowledged callbacks, and a callback
// this gateway cannot use is still resolved by the processor's status queries.
func (h *CallbackHandler) Handle(c *gin.Context) {
	defer c.JSON(http.StatusOK, callbackAccepted)

	var envelope mpesa.CallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		h.logger.Warn("Malformed callback dropped", "error", err)
		return
	}

	result, err := envelope.Result()
	if err != nil {
		h.logger.Warn("Callback dropped", "error", err)
		return
	}

	event := &shared.SettlementEvent{
		RequestID:         result.RequestID,
		ResultCode:        result.ResultCode,
		ResultDescription: result.ResultDescription,
		ReceiptID:         result.ReceiptID,
		Amount:            result.Amount,
		PhoneNumber:       result.PhoneNumber,
		CorrelationID:     middleware.GetCorrelationID(c),
		Timestamp:         time.Now().UTC(),
	}

	if err := h.callbackService.RecordSettlement(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to record settlement callback", "request_id", result.RequestID, "error", err)
	}
}
