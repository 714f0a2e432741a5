package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/models"
	"payment-engine/internal/wallet"
)

// WalletHandler exposes wallet balances.
type WalletHandler struct {
	wallet *wallet.Service
	logger *logrus.Entry
}

func NewWalletHandler(w *wallet.Service, logger *logrus.Logger) *WalletHandler {
	return &WalletHandler{
		wallet: w,
		logger: logger.WithField("component", "wallet_handler"),
	}
}

// Balance handles GET /api/v1/wallets/:payerId
func (h *WalletHandler) Balance(c *gin.Context) {
	payerID, err := uuid.Parse(c.Param("payerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request", Message: "invalid payer id"})
		return
	}

	account, err := h.wallet.Balance(c.Request.Context(), payerID)
	if err != nil {
		h.logger.WithError(err).WithField("payer_id", payerID).Error("failed to load wallet balance")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error", Message: "failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payerId":        account.PayerID,
		"balanceCents":   account.BalanceCents,
		"heldCents":      account.HeldCents,
		"availableCents": account.AvailableCents(),
	})
}
