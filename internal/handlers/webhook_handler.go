package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/models"
	"payment-engine/internal/webhooks"
)

// WebhookEventLister lists stored webhook events that still need work.
type WebhookEventLister interface {
	ListUnprocessedWebhooks(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

// WebhookHandler receives provider webhooks. The ack contract matters
// here: a 2xx stops the provider from redelivering, so only transport
// and authenticity problems get non-2xx statuses.
type WebhookHandler struct {
	dispatcher *webhooks.Dispatcher
	events     WebhookEventLister
	logger     *logrus.Entry
}

func NewWebhookHandler(dispatcher *webhooks.Dispatcher, events WebhookEventLister, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		events:     events,
		logger:     logger.WithField("component", "webhook_handler"),
	}
}

// Receive handles POST /webhooks/:provider
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.WebhookAck{Success: false, Error: "failed to read body"})
		return
	}

	ack, err := h.dispatcher.Dispatch(c.Request.Context(), provider, c.Request, body)
	if err != nil {
		var verr *webhooks.VerificationError
		switch {
		case errors.Is(err, webhooks.ErrUnknownProvider):
			c.JSON(http.StatusBadRequest, models.WebhookAck{Success: false, Error: "unknown provider"})
		case errors.As(err, &verr):
			h.logger.WithField("provider", provider).Warn("webhook verification failed")
			c.JSON(http.StatusUnauthorized, models.WebhookAck{Success: false, Error: verr.Error()})
		default:
			// Ack anyway; the failure is recorded on the stored event
			// and redelivery or replay can retry it.
			h.logger.WithError(err).WithField("provider", provider).Error("webhook dispatch failed")
			c.JSON(http.StatusOK, models.WebhookAck{Success: false, Error: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, ack)
}

// ListUnprocessed handles GET /api/v1/webhooks/unprocessed. It surfaces
// deliveries whose processing failed so they can be replayed.
func (h *WebhookHandler) ListUnprocessed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.events.ListUnprocessedWebhooks(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
