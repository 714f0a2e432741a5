package gateway

import (
	"context"
	"time"

	"payment-engine/internal/models"
)

// Feature represents a gateway capability that callers may probe before
// attempting an operation
type Feature string

const (
	FeaturePix           Feature = "pix"
	FeatureCreditCard    Feature = "credit_card"
	FeatureRefunds       Feature = "refunds"
	FeaturePartialRefund Feature = "partial_refund"
	FeatureSubscriptions Feature = "subscriptions"
	FeatureTransfers     Feature = "transfers"
	FeatureSplit         Feature = "split"
)

// ChargeStatus is the normalized status of a provider-side charge
type ChargeStatus string

const (
	ChargePending        ChargeStatus = "pending"
	ChargeRequiresAction ChargeStatus = "requires_action"
	ChargeConfirmed      ChargeStatus = "confirmed"
	ChargeFailed         ChargeStatus = "failed"
	ChargeCanceled       ChargeStatus = "canceled"
	ChargeRefunded       ChargeStatus = "refunded"
)

// ChargeRequest is the normalized request to create a provider charge.
// All amounts are integer cents.
type ChargeRequest struct {
	// PaymentRef is our Payment's public id, sent to the provider so
	// webhooks can be correlated back.
	PaymentRef string

	CustomerRef string
	AmountCents int64
	Currency    string
	Method      models.PaymentMethod
	Description string
	DueDate     *time.Time
	Metadata    map[string]string
}

// Charge is the normalized view of a provider-side charge. Raw preserves
// the original provider payload for debugging.
type Charge struct {
	Reference   string       `json:"reference"`
	Status      ChargeStatus `json:"status"`
	AmountCents int64        `json:"amountCents"`
	Currency    string       `json:"currency"`
	PaymentURL  string       `json:"paymentUrl,omitempty"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
	Raw         models.JSONB `json:"raw,omitempty"`
}

// PixQRCode is the PIX payload for a charge
type PixQRCode struct {
	Payload     string       `json:"payload"`
	ImageBase64 string       `json:"imageBase64,omitempty"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	Raw         models.JSONB `json:"raw,omitempty"`
}

// CreditCard carries card data for PayWithCreditCard. It only ever
// transits to the provider; nothing here is persisted.
type CreditCard struct {
	Number      string
	HolderName  string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string

	HolderEmail  string
	HolderPhone  string
	PostalCode   string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	Country      string
}

// RefundReceipt is the normalized result of a provider refund
type RefundReceipt struct {
	Reference   string       `json:"reference"`
	AmountCents int64        `json:"amountCents"`
	Status      string       `json:"status"`
	Raw         models.JSONB `json:"raw,omitempty"`
}

// Customer is the provider-side customer a charge is attributed to
type Customer struct {
	Reference string       `json:"reference"`
	Email     string       `json:"email,omitempty"`
	Name      string       `json:"name,omitempty"`
	Raw       models.JSONB `json:"raw,omitempty"`
}

// CustomerRequest is the normalized request to create a provider customer
type CustomerRequest struct {
	ExternalRef string
	Name        string
	Email       string
	Phone       string
	Document    string
}

// PaymentService is the per-provider charge contract. Implementations
// translate these calls to the provider wire format and normalize the
// responses; provider rejections surface as *GatewayError and
// connectivity failures as *GatewayUnavailableError.
type PaymentService interface {
	CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error)
	Find(ctx context.Context, reference string) (*Charge, error)
	Cancel(ctx context.Context, reference string) (*Charge, error)
	Refund(ctx context.Context, reference string, amountCents int64) (*RefundReceipt, error)
	GetPixQrCode(ctx context.Context, reference string) (*PixQRCode, error)
	PayWithCreditCard(ctx context.Context, reference string, card *CreditCard) (*Charge, error)
}

// CustomerService is the per-provider customer contract
type CustomerService interface {
	Create(ctx context.Context, req *CustomerRequest) (*Customer, error)
	Find(ctx context.Context, reference string) (*Customer, error)
}

// provider is implemented by each concrete gateway integration. Service
// construction is cheap but deferred to the Manager so unused providers
// never build clients.
type provider interface {
	Name() string
	Payments() PaymentService
	Customers() CustomerService

	// Ping is a lightweight authenticated call used by the health probe.
	Ping(ctx context.Context) error

	// DefaultFeatures lists what the integration supports before any
	// config-level feature gating is applied.
	DefaultFeatures() []Feature
}
