package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentStatus represents the payment settlement status
type PaymentStatus string

const (
	PaymentDraft          PaymentStatus = "draft"
	PaymentPending        PaymentStatus = "pending"
	PaymentRequiresAction PaymentStatus = "requires_action"
	PaymentPaid           PaymentStatus = "paid"
	PaymentFailed         PaymentStatus = "failed"
	PaymentCanceled       PaymentStatus = "canceled"
	PaymentRefunded       PaymentStatus = "refunded"
)

// IsTerminal reports whether the status admits no further transitions.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentFailed || s == PaymentCanceled || s == PaymentRefunded
}

// PaymentMethod represents how the gateway portion of a charge is collected
type PaymentMethod string

const (
	MethodPix        PaymentMethod = "pix"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodBoleto     PaymentMethod = "boleto"
	MethodWallet     PaymentMethod = "wallet"
)

// BillableType tags the polymorphic billable reference on a Payment
type BillableType string

const (
	BillableCampaign    BillableType = "campaign"
	BillableWalletTopUp BillableType = "wallet_topup"
)

// WebhookCategory is the normalized internal event category a provider
// event type maps to
type WebhookCategory string

const (
	WebhookSuccess      WebhookCategory = "success"
	WebhookFailure      WebhookCategory = "failure"
	WebhookRefund       WebhookCategory = "refund"
	WebhookChargeback   WebhookCategory = "chargeback"
	WebhookPending      WebhookCategory = "pending"
	WebhookTransfer     WebhookCategory = "transfer"
	WebhookSubscription WebhookCategory = "subscription"
	WebhookUnknown      WebhookCategory = "unknown"
)

// JSONB custom type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(j))
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*j = JSONB(m)
	return nil
}

// SubMap returns the nested map stored under key, creating it if absent.
func (j JSONB) SubMap(key string) map[string]interface{} {
	if m, ok := j[key].(map[string]interface{}); ok {
		return m
	}
	m := make(map[string]interface{})
	j[key] = m
	return m
}

// Payment is the ledger-facing record of one charge attempt.
//
// PublicID is the opaque identifier used in all external communication;
// the internal ID never leaves the process. A Payment references its
// billable polymorphically (type tag + id) and never owns it.
type Payment struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"-"`
	PublicID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_payments_public_id" json:"id"`

	PayerID      uuid.UUID    `gorm:"type:uuid;not null;index:idx_payments_payer" json:"payerId"`
	BillableType BillableType `gorm:"type:varchar(50);not null" json:"billableType"`
	BillableID   string       `gorm:"type:varchar(255);not null;index:idx_payments_billable" json:"billableId"`

	Currency           string `gorm:"type:varchar(3);default:'BRL'" json:"currency"`
	AmountCents        int64  `gorm:"not null" json:"amountCents"`
	WalletAppliedCents int64  `gorm:"default:0" json:"walletAppliedCents"`
	GatewayAmountCents int64  `gorm:"default:0" json:"gatewayAmountCents"`

	Status PaymentStatus `gorm:"type:varchar(30);not null;default:'draft';index:idx_payments_status" json:"status"`
	Method PaymentMethod `gorm:"type:varchar(30)" json:"method,omitempty"`

	Gateway          string `gorm:"type:varchar(50)" json:"gateway,omitempty"`
	GatewayReference string `gorm:"type:varchar(255);index:idx_payments_gateway_ref" json:"gatewayReference,omitempty"`

	Description string `gorm:"type:text" json:"description,omitempty"`

	// Meta retains raw provider payloads, PIX QR data and the
	// settlement/refund audit trails verbatim.
	Meta JSONB `gorm:"type:jsonb" json:"meta,omitempty"`

	DueDate  *time.Time `json:"dueDate,omitempty"`
	PaidAt   *time.Time `json:"paidAt,omitempty"`
	RefundAt *time.Time `json:"refundAt,omitempty"`

	CreatedAt time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// RefundedCents returns the cumulative gateway-side refunded amount
// recorded under meta.refund.
func (p *Payment) RefundedCents() int64 {
	if p.Meta == nil {
		return 0
	}
	refund, ok := p.Meta["refund"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := refund["refunded_cents"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// WebhookEvent is the idempotency and audit record for one inbound
// provider notification. The (provider, provider_event_id) pair is the
// idempotency key, enforced by a composite unique index so concurrent
// duplicate deliveries resolve to one winner at the storage layer.
type WebhookEvent struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Provider        string          `gorm:"type:varchar(50);not null;uniqueIndex:idx_webhook_events_idempotency" json:"provider"`
	ProviderEventID string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_idempotency" json:"providerEventId"`
	EventType       string          `gorm:"type:varchar(100);not null;index:idx_webhook_events_type" json:"eventType"`
	Category        WebhookCategory `gorm:"type:varchar(30)" json:"category"`

	PaymentID *uuid.UUID `gorm:"type:uuid;index:idx_webhook_events_payment" json:"paymentId,omitempty"`

	Payload JSONB `gorm:"type:jsonb;not null" json:"payload"`
	Headers JSONB `gorm:"type:jsonb" json:"headers,omitempty"`

	Processed    bool       `gorm:"default:false;index:idx_webhook_events_processed" json:"processed"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	Attempts     int        `gorm:"default:0" json:"attempts"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_webhook_events_created" json:"createdAt"`
}

// TableName specifies the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}
