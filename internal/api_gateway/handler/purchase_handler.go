package handler

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mpesa-token-bridge/internal/api_gateway/middleware"
	"github.com/mpesa-token-bridge/internal/api_gateway/service"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
)

// PurchaseHandler handles HTTP requests for token purchases
type PurchaseHandler struct {
	purchaseService service.PurchaseService
	logger          *slog.Logger
}

// NewPurchaseHandler creates a new purchase handler
func NewPurchaseHandler(logger *slog.Logger, purchaseService service.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseService: purchaseService,
		logger:          logger,
	}
}

// Create accepts a purchase and hands it to the processor. A reference that was
// already processed answers 200 with the stored record.
func (h *PurchaseHandler) Create(c *gin.Context) {
	var req CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	paymentReq, err := payment.NewPaymentRequest(req.Amount, req.PhoneNumber, req.DestinationAccountID, req.Reference, req.Description)
	if err != nil {
		h.logger.Error("Invalid purchase", "error", err)
		RespondBadRequest(c, err.Error())
		return
	}

	purchase := &shared.PurchaseRequest{
		Amount:               paymentReq.Amount,
		PhoneNumber:          paymentReq.PayerIdentifier,
		DestinationAccountID: paymentReq.DestinationAccountID,
		Reference:            paymentReq.Reference,
		Description:          paymentReq.Description,
		CorrelationID:        middleware.GetCorrelationID(c),
		Timestamp:            time.Now().UTC(),
	}

	existing, err := h.purchaseService.SubmitPurchase(c.Request.Context(), purchase)
	if err != nil {
		h.logger.Error("Failed to submit purchase", "reference", purchase.Reference, "error", err)
		RespondServiceUnavailable(c, "Purchase could not be queued, retry with the same reference")
		return
	}
	if existing != nil {
		RespondOK(c, mapRecordToResponse(existing))
		return
	}

	RespondAccepted(c, gin.H{
		"reference": purchase.Reference,
		"status":    StatusPending,
	})
}

// GetByReference retrieves a purchase by the caller's reference, returns 404 if unknown
func (h *PurchaseHandler) GetByReference(c *gin.Context) {
	reference := c.Param("reference")

	status, err := h.purchaseService.GetByReference(c.Request.Context(), reference)
	if err != nil {
		h.logger.Error("Failed to get purchase", "reference", reference, "error", err)
		RespondInternalError(c)
		return
	}

	switch {
	case status == nil:
		RespondNotFound(c, "Purchase not found")
	case status.Record != nil:
		RespondOK(c, mapRecordToResponse(status.Record))
	default:
		RespondOK(c, mapRejectionToResponse(status.Rejection))
	}
}

// GetByRequestID retrieves a purchase by the provider's request id
func (h *PurchaseHandler) GetByRequestID(c *gin.Context) {
	requestID := c.Param("requestId")
	if requestID == "" {
		RespondBadRequest(c, "Invalid request id")
		return
	}

	rec, err := h.purchaseService.GetByRequestID(c.Request.Context(), requestID)
	if err != nil {
		h.logger.Error("Failed to get transaction", "request_id", requestID, "error", err)
		RespondInternalError(c)
		return
	}
	if rec == nil {
		RespondNotFound(c, "Transaction not found")
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}
