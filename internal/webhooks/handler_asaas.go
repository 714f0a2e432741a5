package webhooks

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"payment-engine/internal/asaas"
	"payment-engine/internal/models"
)

// asaasEventCategories maps Asaas event names to settlement categories.
// Events not listed fall back to prefix matching in categorize.
var asaasEventCategories = map[string]models.WebhookCategory{
	"PAYMENT_CONFIRMED":              models.WebhookSuccess,
	"PAYMENT_RECEIVED":               models.WebhookSuccess,
	"PAYMENT_OVERDUE":                models.WebhookFailure,
	"PAYMENT_REFUNDED":               models.WebhookRefund,
	"PAYMENT_CHARGEBACK_REQUESTED":   models.WebhookChargeback,
	"PAYMENT_CHARGEBACK_DISPUTE":     models.WebhookChargeback,
	"PAYMENT_AWAITING_RISK_ANALYSIS": models.WebhookPending,
	"PAYMENT_CREATED":                models.WebhookPending,
	"PAYMENT_UPDATED":                models.WebhookPending,
	"TRANSFER_CREATED":               models.WebhookTransfer,
	"TRANSFER_DONE":                  models.WebhookTransfer,
}

// AsaasHandler verifies and parses Asaas webhooks. Asaas authenticates
// deliveries with a shared token in the asaas-access-token header.
type AsaasHandler struct {
	webhookToken string
}

func NewAsaasHandler(webhookToken string) *AsaasHandler {
	return &AsaasHandler{webhookToken: webhookToken}
}

func (h *AsaasHandler) Provider() string { return "asaas" }

func (h *AsaasHandler) Verify(r *http.Request, body []byte) error {
	if h.webhookToken == "" {
		return &VerificationError{Provider: "asaas", Reason: "no webhook token configured"}
	}
	got := r.Header.Get("asaas-access-token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
		return &VerificationError{Provider: "asaas", Reason: "access token mismatch"}
	}
	return nil
}

type asaasWebhookBody struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment struct {
		ID                string  `json:"id"`
		Status            string  `json:"status"`
		Value             float64 `json:"value"`
		ExternalReference string  `json:"externalReference"`
	} `json:"payment"`
}

func (h *AsaasHandler) Parse(body []byte) (*InboundEvent, error) {
	var parsed asaasWebhookBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	var payload models.JSONB
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	inbound := &InboundEvent{
		ProviderEventID:  parsed.ID,
		EventType:        parsed.Event,
		Category:         categorizeAsaasEvent(parsed.Event),
		PaymentRef:       parsed.Payment.ExternalReference,
		GatewayReference: parsed.Payment.ID,
		Payload:          payload,
	}
	if inbound.Category == models.WebhookRefund || inbound.Category == models.WebhookChargeback {
		inbound.AmountCents = asaas.ValueToCents(parsed.Payment.Value)
	}
	return inbound, nil
}

func categorizeAsaasEvent(event string) models.WebhookCategory {
	if category, ok := asaasEventCategories[event]; ok {
		return category
	}
	switch {
	case strings.Contains(event, "REFUND"):
		return models.WebhookRefund
	case strings.Contains(event, "CHARGEBACK"):
		return models.WebhookChargeback
	case strings.HasPrefix(event, "TRANSFER_"):
		return models.WebhookTransfer
	case strings.HasPrefix(event, "SUBSCRIPTION_"):
		return models.WebhookSubscription
	default:
		return models.WebhookUnknown
	}
}
