package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/models"
	"payment-engine/internal/repository"
	"payment-engine/internal/services"
)

// ErrUnknownProvider is returned for a webhook path naming a provider
// no handler is registered for.
var ErrUnknownProvider = errors.New("unknown webhook provider")

// VerificationError reports a webhook that failed authenticity checks.
type VerificationError struct {
	Provider string
	Reason   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s webhook verification failed: %s", e.Provider, e.Reason)
}

// InboundEvent is the provider-neutral view of one webhook delivery.
type InboundEvent struct {
	// ProviderEventID is the provider's delivery id. When a provider
	// sends none, the dispatcher derives one from the body.
	ProviderEventID string

	EventType string
	Category  models.WebhookCategory

	// PaymentRef is our payment public id when the provider echoes it
	// back; GatewayReference is the provider-side charge id. At least
	// one must be set for the event to be matched.
	PaymentRef       string
	GatewayReference string

	// AmountCents is the affected amount for refund events, zero when
	// the provider reports none.
	AmountCents int64

	Payload models.JSONB
}

// Handler is one provider's webhook integration.
type Handler interface {
	Provider() string
	Verify(r *http.Request, body []byte) error
	Parse(body []byte) (*InboundEvent, error)
}

// WebhookStore is the persistence contract for webhook bookkeeping.
type WebhookStore interface {
	FindOrCreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	MarkWebhookProcessed(ctx context.Context, event *models.WebhookEvent) error
	MarkWebhookFailed(ctx context.Context, event *models.WebhookEvent, cause error) error
}

// Publisher announces processed webhooks.
type Publisher interface {
	WebhookProcessed(event *models.WebhookEvent, success bool)
}

// Dispatcher routes inbound webhooks to their provider handler, stores
// each delivery exactly once and applies the resulting settlement
// action. Duplicate deliveries resolve against the stored event and
// never reprocess.
type Dispatcher struct {
	handlers   map[string]Handler
	store      WebhookStore
	payments   services.PaymentStore
	settlement *services.SettlementService
	refunds    *services.RefundService
	publisher  Publisher
	logger     *logrus.Entry

	// skipVerification is only ever true in sandboxed development runs.
	skipVerification bool
}

func NewDispatcher(store WebhookStore, payments services.PaymentStore, settlement *services.SettlementService, refunds *services.RefundService, publisher Publisher, skipVerification bool, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handlers:         make(map[string]Handler),
		store:            store,
		payments:         payments,
		settlement:       settlement,
		refunds:          refunds,
		publisher:        publisher,
		skipVerification: skipVerification,
		logger:           logger.WithField("component", "webhooks"),
	}
}

// Register adds a provider handler.
func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Provider()] = h
}

// Providers lists registered handler names.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch verifies, stores and processes one webhook delivery.
// Processing failures are reported in the ack body, never as transport
// errors, so providers stop redelivering what we already recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, providerName string, r *http.Request, body []byte) (*models.WebhookAck, error) {
	handler, ok := d.handlers[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}

	if !d.skipVerification {
		if err := handler.Verify(r, body); err != nil {
			var verr *VerificationError
			if errors.As(err, &verr) {
				return nil, verr
			}
			return nil, &VerificationError{Provider: providerName, Reason: err.Error()}
		}
	}

	inbound, err := handler.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s webhook: %w", providerName, err)
	}
	if inbound.ProviderEventID == "" {
		sum := sha256.Sum256(body)
		inbound.ProviderEventID = hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        providerName,
		ProviderEventID: inbound.ProviderEventID,
		EventType:       inbound.EventType,
		Category:        inbound.Category,
		Payload:         inbound.Payload,
		Headers:         captureHeaders(r),
	}

	stored, created, err := d.store.FindOrCreateWebhookEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if !created && stored.Processed {
		d.logger.WithFields(logrus.Fields{
			"provider": providerName,
			"event_id": inbound.ProviderEventID,
		}).Info("duplicate webhook delivery, skipping")
		return &models.WebhookAck{Success: true, WebhookID: stored.ID, Processed: true}, nil
	}

	processErr := d.process(ctx, stored, inbound, providerName)
	if processErr != nil {
		var stateErr *services.InvalidPaymentStateError
		if errors.As(processErr, &stateErr) {
			// Out-of-order or late delivery against a closed payment.
			// Retrying can never succeed, so the event is done.
			d.logger.WithError(stateErr).WithField("event_id", stored.ID).Warn("webhook arrived for a closed payment")
			if err := d.store.MarkWebhookProcessed(ctx, stored); err != nil {
				return nil, err
			}
			d.publisher.WebhookProcessed(stored, true)
			return &models.WebhookAck{Success: true, WebhookID: stored.ID, Processed: true}, nil
		}

		if err := d.store.MarkWebhookFailed(ctx, stored, processErr); err != nil {
			d.logger.WithError(err).Error("failed to record webhook failure")
		}
		d.publisher.WebhookProcessed(stored, false)
		return &models.WebhookAck{Success: false, WebhookID: stored.ID, Error: processErr.Error()}, nil
	}

	if err := d.store.MarkWebhookProcessed(ctx, stored); err != nil {
		return nil, err
	}
	d.publisher.WebhookProcessed(stored, true)
	return &models.WebhookAck{Success: true, WebhookID: stored.ID, Processed: true}, nil
}

// captureHeaders snapshots the delivery headers stored with the event
// for replay forensics. Signature headers are MACs and safe to keep;
// shared-secret tokens are redacted.
func captureHeaders(r *http.Request) models.JSONB {
	headers := models.JSONB{
		"content_type": r.Header.Get("Content-Type"),
		"user_agent":   r.Header.Get("User-Agent"),
	}
	for name := range r.Header {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "signature"):
			headers[lower] = r.Header.Get(name)
		case strings.Contains(lower, "token"):
			headers[lower] = "[redacted]"
		}
	}
	return headers
}

func (d *Dispatcher) process(ctx context.Context, event *models.WebhookEvent, inbound *InboundEvent, providerName string) error {
	switch inbound.Category {
	case models.WebhookTransfer, models.WebhookSubscription, models.WebhookUnknown:
		// No settlement action and often no payment to match.
		d.logger.WithFields(logrus.Fields{
			"provider":   providerName,
			"event_type": inbound.EventType,
			"category":   inbound.Category,
		}).Info("webhook category has no settlement action")
		return nil
	}

	payment, err := d.matchPayment(ctx, inbound, providerName)
	if err != nil {
		return err
	}
	event.PaymentID = &payment.PublicID

	switch inbound.Category {
	case models.WebhookSuccess:
		_, err = d.settlement.MarkPaid(ctx, payment.PublicID, providerName)
	case models.WebhookFailure:
		_, err = d.settlement.MarkFailed(ctx, payment.PublicID, providerName, inbound.EventType)
	case models.WebhookRefund, models.WebhookChargeback:
		_, err = d.refunds.ReconcileGatewayRefund(ctx, payment.PublicID, inbound.AmountCents, providerName)
	case models.WebhookPending:
		// Informational; the payment is already pending or waiting.
		err = nil
	}
	return err
}

func (d *Dispatcher) matchPayment(ctx context.Context, inbound *InboundEvent, providerName string) (*models.Payment, error) {
	if inbound.PaymentRef != "" {
		if publicID, err := uuid.Parse(inbound.PaymentRef); err == nil {
			payment, err := d.payments.GetByPublicID(ctx, publicID)
			if err == nil {
				return payment, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		}
	}
	if inbound.GatewayReference != "" {
		payment, err := d.payments.GetByGatewayReference(ctx, providerName, inbound.GatewayReference)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no payment matches %s event %s", providerName, inbound.EventType)
}
