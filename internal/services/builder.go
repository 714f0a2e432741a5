package services

import (
	"context"

	"github.com/google/uuid"

	"payment-engine/internal/models"
)

// CheckoutBuilder assembles a checkout request step by step. It is the
// public entry point for creating payments; Create runs the checkout.
type CheckoutBuilder struct {
	svc *CheckoutService
	req models.CheckoutRequest
}

// NewCheckout starts a checkout for the given payer.
func (s *CheckoutService) NewCheckout(payerID uuid.UUID) *CheckoutBuilder {
	return &CheckoutBuilder{
		svc: s,
		req: models.CheckoutRequest{PayerID: payerID},
	}
}

// ForBillable sets what the payment pays for.
func (b *CheckoutBuilder) ForBillable(t models.BillableType, id string) *CheckoutBuilder {
	b.req.BillableType = t
	b.req.BillableID = id
	return b
}

// Amount sets the total charge in cents.
func (b *CheckoutBuilder) Amount(cents int64) *CheckoutBuilder {
	b.req.AmountCents = cents
	return b
}

// Currency overrides the default BRL currency.
func (b *CheckoutBuilder) Currency(code string) *CheckoutBuilder {
	b.req.Currency = code
	return b
}

// Method sets the payment method for the gateway leg.
func (b *CheckoutBuilder) Method(m models.PaymentMethod) *CheckoutBuilder {
	b.req.Method = m
	return b
}

// Gateway names the provider; empty resolves to the default.
func (b *CheckoutBuilder) Gateway(name string) *CheckoutBuilder {
	b.req.Gateway = name
	return b
}

// UseWallet draws available wallet balance before charging the gateway.
func (b *CheckoutBuilder) UseWallet(use bool) *CheckoutBuilder {
	b.req.UseWallet = use
	return b
}

// Description sets the payer-visible charge description.
func (b *CheckoutBuilder) Description(text string) *CheckoutBuilder {
	b.req.Description = text
	return b
}

// Meta attaches arbitrary metadata forwarded to the provider.
func (b *CheckoutBuilder) Meta(key, value string) *CheckoutBuilder {
	if b.req.Metadata == nil {
		b.req.Metadata = make(map[string]string)
	}
	b.req.Metadata[key] = value
	return b
}

// Card supplies card details for credit card checkouts.
func (b *CheckoutBuilder) Card(card *models.CardRequest) *CheckoutBuilder {
	b.req.Card = card
	return b
}

// Create validates the assembled request and runs the checkout.
func (b *CheckoutBuilder) Create(ctx context.Context) (*models.CheckoutResponse, error) {
	return b.svc.Checkout(ctx, &b.req)
}
