package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"payment-engine/internal/models"
)

// RazorpayHandler verifies and parses Razorpay webhooks. Razorpay signs
// the raw body with HMAC-SHA256 under the configured webhook secret.
type RazorpayHandler struct {
	webhookSecret string
}

func NewRazorpayHandler(webhookSecret string) *RazorpayHandler {
	return &RazorpayHandler{webhookSecret: webhookSecret}
}

func (h *RazorpayHandler) Provider() string { return "razorpay" }

func (h *RazorpayHandler) Verify(r *http.Request, body []byte) error {
	if h.webhookSecret == "" {
		return &VerificationError{Provider: "razorpay", Reason: "no webhook secret configured"}
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	got := r.Header.Get("X-Razorpay-Signature")
	if !hmac.Equal([]byte(got), []byte(expected)) {
		return &VerificationError{Provider: "razorpay", Reason: "signature mismatch"}
	}
	return nil
}

type razorpayWebhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Amount  int64             `json:"amount"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func (h *RazorpayHandler) Parse(body []byte) (*InboundEvent, error) {
	var parsed razorpayWebhookBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	var payload models.JSONB
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	inbound := &InboundEvent{
		EventType: parsed.Event,
		Category:  categorizeRazorpayEvent(parsed.Event),
		Payload:   payload,
	}

	payment := parsed.Payload.Payment.Entity
	if payment.OrderID != "" {
		inbound.GatewayReference = payment.OrderID
	} else {
		inbound.GatewayReference = payment.ID
	}
	if ref, ok := payment.Notes["payment_ref"]; ok {
		inbound.PaymentRef = ref
	}
	if refund := parsed.Payload.Refund.Entity; refund.ID != "" {
		inbound.AmountCents = refund.Amount
		if inbound.GatewayReference == "" {
			inbound.GatewayReference = refund.PaymentID
		}
	}
	return inbound, nil
}

// razorpayEventCategories maps Razorpay event names to settlement
// categories. Events not listed fall back to token matching in
// categorize.
var razorpayEventCategories = map[string]models.WebhookCategory{
	"payment.captured":        models.WebhookSuccess,
	"order.paid":              models.WebhookSuccess,
	"payment.failed":          models.WebhookFailure,
	"payment.authorized":      models.WebhookPending,
	"refund.processed":        models.WebhookRefund,
	"refund.created":          models.WebhookRefund,
	"payment.dispute.created": models.WebhookChargeback,
}

func categorizeRazorpayEvent(event string) models.WebhookCategory {
	if category, ok := razorpayEventCategories[event]; ok {
		return category
	}
	normalized := strings.ToUpper(event)
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
