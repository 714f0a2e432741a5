package models

import "github.com/google/uuid"

// CheckoutRequest represents a request to create a charge
type CheckoutRequest struct {
	PayerID      uuid.UUID         `json:"payerId" binding:"required"`
	BillableType BillableType      `json:"billableType" binding:"required"`
	BillableID   string            `json:"billableId" binding:"required"`
	AmountCents  int64             `json:"amountCents" binding:"required,gt=0"`
	Currency     string            `json:"currency"`
	Method       PaymentMethod     `json:"method"`
	Gateway      string            `json:"gateway"`
	UseWallet    bool              `json:"useWallet"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
	Card         *CardRequest      `json:"card,omitempty"`
}

// CardRequest carries credit card data for a card checkout. Card numbers
// are forwarded to the gateway and never persisted.
type CardRequest struct {
	Number      string `json:"number" binding:"required"`
	HolderName  string `json:"holderName" binding:"required"`
	ExpiryMonth string `json:"expiryMonth" binding:"required"`
	ExpiryYear  string `json:"expiryYear" binding:"required"`
	CVV         string `json:"cvv" binding:"required"`

	HolderEmail string `json:"holderEmail"`
	HolderPhone string `json:"holderPhone"`

	PostalCode   string `json:"postalCode"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
}

// CheckoutResponse represents the response after a checkout
type CheckoutResponse struct {
	Payment *Payment       `json:"payment"`
	Pix     *PixQRCodeData `json:"pix,omitempty"`
}

// PixQRCodeData is the PIX QR payload returned to the payer
type PixQRCodeData struct {
	Payload     string `json:"payload"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

// RefundRequest represents a request to refund a payment
type RefundRequest struct {
	AmountCents int64  `json:"amountCents"`
	Reason      string `json:"reason"`
}

// CancelRequest represents a request to cancel a pending payment
type CancelRequest struct {
	Reason string `json:"reason"`
}

// WebhookAck is the transport-level response for an inbound webhook.
// Success is about the dispatch, not the business outcome: an
// already-processed duplicate still acks success.
type WebhookAck struct {
	Success   bool      `json:"success"`
	WebhookID uuid.UUID `json:"webhook_id,omitempty"`
	Processed bool      `json:"processed"`
	Error     string    `json:"error,omitempty"`
}

// GatewayInfo describes one registered gateway for introspection
type GatewayInfo struct {
	Name      string   `json:"name"`
	Default   bool     `json:"default"`
	Available bool     `json:"available"`
	Features  []string `json:"features"`
}

// ErrorResponse is the structured error envelope returned by the API
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
