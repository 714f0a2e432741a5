package webhooks

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"payment-engine/internal/models"
)

// StripeHandler verifies and parses Stripe webhooks using the signed
// Stripe-Signature header.
type StripeHandler struct {
	signingSecret string
}

func NewStripeHandler(signingSecret string) *StripeHandler {
	return &StripeHandler{signingSecret: signingSecret}
}

func (h *StripeHandler) Provider() string { return "stripe" }

func (h *StripeHandler) Verify(r *http.Request, body []byte) error {
	if h.signingSecret == "" {
		return &VerificationError{Provider: "stripe", Reason: "no signing secret configured"}
	}
	_, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		return &VerificationError{Provider: "stripe", Reason: err.Error()}
	}
	return nil
}

func (h *StripeHandler) Parse(body []byte) (*InboundEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}

	var payload models.JSONB
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	inbound := &InboundEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Category:        categorizeStripeEvent(string(event.Type)),
		Payload:         payload,
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed",
		"payment_intent.canceled", "payment_intent.requires_action":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, err
		}
		inbound.GatewayReference = pi.ID
		inbound.PaymentRef = pi.Metadata["payment_ref"]
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, err
		}
		if charge.PaymentIntent != nil {
			inbound.GatewayReference = charge.PaymentIntent.ID
		}
		inbound.PaymentRef = charge.Metadata["payment_ref"]
		inbound.AmountCents = charge.AmountRefunded
	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return nil, err
		}
		if dispute.PaymentIntent != nil {
			inbound.GatewayReference = dispute.PaymentIntent.ID
		}
		inbound.AmountCents = dispute.Amount
	}
	return inbound, nil
}

// stripeEventCategories maps Stripe event types to settlement
// categories. Events not listed fall back to token matching in
// categorize.
var stripeEventCategories = map[string]models.WebhookCategory{
	"payment_intent.succeeded":       models.WebhookSuccess,
	"payment_intent.payment_failed":  models.WebhookFailure,
	"payment_intent.canceled":        models.WebhookFailure,
	"payment_intent.requires_action": models.WebhookPending,
	"charge.refunded":                models.WebhookRefund,
	"charge.dispute.created":         models.WebhookChargeback,
}

func categorizeStripeEvent(eventType string) models.WebhookCategory {
	if category, ok := stripeEventCategories[eventType]; ok {
		return category
	}
	normalized := strings.ToUpper(eventType)
	switch {
	case strings.Contains(normalized, "REFUND"):
		return models.WebhookRefund
	case strings.Contains(normalized, "DISPUTE"):
		return models.WebhookChargeback
	case strings.Contains(normalized, "TRANSFER") || strings.Contains(normalized, "PAYOUT"):
		return models.WebhookTransfer
	case strings.Contains(normalized, "SUBSCRIPTION"):
		return models.WebhookSubscription
	default:
		return models.WebhookUnknown
	}
}
