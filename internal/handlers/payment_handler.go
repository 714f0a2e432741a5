package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
	"payment-engine/internal/repository"
	"payment-engine/internal/services"
	"payment-engine/internal/wallet"
)

// PaymentHandler serves the checkout and payment lifecycle endpoints.
type PaymentHandler struct {
	checkout *services.CheckoutService
	refunds  *services.RefundService
	logger   *logrus.Entry
}

func NewPaymentHandler(checkout *services.CheckoutService, refunds *services.RefundService, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		checkout: checkout,
		refunds:  refunds,
		logger:   logger.WithField("component", "payment_handler"),
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	var stateErr *services.InvalidPaymentStateError
	var boundsErr *services.RefundBoundsError
	var fundsErr *wallet.InsufficientFundsError
	var gatewayErr *gateway.GatewayError
	var unavailableErr *gateway.GatewayUnavailableError

	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "payment not found"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_failed",
			Message: validationErr.Message,
			Fields:  map[string]string{validationErr.Field: validationErr.Message},
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "invalid_payment_state", Message: stateErr.Error()})
	case errors.As(err, &boundsErr):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "refund_out_of_bounds", Message: boundsErr.Error()})
	case errors.As(err, &fundsErr):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "insufficient_funds", Message: fundsErr.Error()})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "gateway_rejected", Message: gatewayErr.Error()})
	case errors.As(err, &unavailableErr):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "gateway_unavailable", Message: unavailableErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error", Message: "something went wrong"})
	}
}

// Checkout handles POST /api/v1/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	builder := h.checkout.NewCheckout(req.PayerID).
		ForBillable(req.BillableType, req.BillableID).
		Amount(req.AmountCents).
		Currency(req.Currency).
		Method(req.Method).
		Gateway(req.Gateway).
		UseWallet(req.UseWallet).
		Description(req.Description).
		Card(req.Card)
	for k, v := range req.Metadata {
		builder.Meta(k, v)
	}

	resp, err := builder.Create(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("payer_id", req.PayerID).Warn("checkout failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get handles GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	publicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: "invalid payment id"})
		return
	}

	payment, err := h.checkout.Get(c.Request.Context(), publicID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// List handles GET /api/v1/payments?payerId=...
func (h *PaymentHandler) List(c *gin.Context) {
	payerID, err := uuid.Parse(c.Query("payerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: "payerId is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	payments, total, err := h.checkout.List(c.Request.Context(), payerID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// Refund handles POST /api/v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	publicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: "invalid payment id"})
		return
	}

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	payment, err := h.refunds.Refund(c.Request.Context(), publicID, req.AmountCents, req.Reason)
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", publicID).Warn("refund failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// Cancel handles POST /api/v1/payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	publicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: "invalid payment id"})
		return
	}

	var req models.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	payment, err := h.checkout.Cancel(c.Request.Context(), publicID, req.Reason)
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", publicID).Warn("cancel failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
