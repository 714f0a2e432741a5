package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/models"
)

// Subjects for the domain events this service emits.
const (
	SubjectPaymentSettled   = "payment.settled"
	SubjectPaymentFailed    = "payment.failed"
	SubjectPaymentRefunded  = "payment.refunded"
	SubjectWebhookProcessed = "payment.webhook.processed"
)

// PaymentEvent is the envelope published for settlement outcomes.
type PaymentEvent struct {
	PaymentID    uuid.UUID           `json:"paymentId"`
	PayerID      uuid.UUID           `json:"payerId"`
	BillableType models.BillableType `json:"billableType"`
	BillableID   string              `json:"billableId"`
	Status       string              `json:"status"`
	AmountCents  int64               `json:"amountCents"`
	Currency     string              `json:"currency"`
	Gateway      string              `json:"gateway,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`

	// RefundedCents is set on payment.refunded only.
	RefundedCents int64 `json:"refundedCents,omitempty"`
}

// WebhookProcessedEvent is published after a webhook event finishes
// processing, success or not.
type WebhookProcessedEvent struct {
	WebhookID uuid.UUID  `json:"webhookId"`
	Provider  string     `json:"provider"`
	EventType string     `json:"eventType"`
	PaymentID *uuid.UUID `json:"paymentId,omitempty"`
	Success   bool       `json:"success"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher emits domain events over NATS. It is best-effort: a nil
// connection disables publishing, and publish failures are logged but
// never fail the triggering operation.
type Publisher struct {
	nc     *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS. An empty URL returns a disabled
// publisher.
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	entry := logger.WithField("component", "events")
	if url == "" {
		return &Publisher{logger: entry}, nil
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: entry}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("failed to marshal event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("failed to publish event")
	}
}

func paymentEvent(payment *models.Payment) PaymentEvent {
	return PaymentEvent{
		PaymentID:    payment.PublicID,
		PayerID:      payment.PayerID,
		BillableType: payment.BillableType,
		BillableID:   payment.BillableID,
		Status:       string(payment.Status),
		AmountCents:  payment.AmountCents,
		Currency:     payment.Currency,
		Gateway:      payment.Gateway,
		Timestamp:    time.Now(),
	}
}

// PaymentSettled announces a payment reaching paid.
func (p *Publisher) PaymentSettled(payment *models.Payment) {
	p.publish(SubjectPaymentSettled, paymentEvent(payment))
}

// PaymentFailed announces a payment reaching failed or canceled.
func (p *Publisher) PaymentFailed(payment *models.Payment) {
	p.publish(SubjectPaymentFailed, paymentEvent(payment))
}

// PaymentRefunded announces a refund, full or partial.
func (p *Publisher) PaymentRefunded(payment *models.Payment, refundedCents int64) {
	event := paymentEvent(payment)
	event.RefundedCents = refundedCents
	p.publish(SubjectPaymentRefunded, event)
}

// WebhookProcessed announces the outcome of webhook processing.
func (p *Publisher) WebhookProcessed(event *models.WebhookEvent, success bool) {
	p.publish(SubjectWebhookProcessed, WebhookProcessedEvent{
		WebhookID: event.ID,
		Provider:  event.Provider,
		EventType: event.EventType,
		PaymentID: event.PaymentID,
		Success:   success,
		Timestamp: time.Now(),
	})
}
