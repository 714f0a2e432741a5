package gateway

import (
	"context"
	"strings"

	razorpaylib "github.com/razorpay/razorpay-go"
)

// razorpayProvider settles card and UPI payments through Razorpay
// orders. Capture happens through Razorpay's hosted checkout, so a
// freshly created charge always starts in requires_action.
type razorpayProvider struct {
	client *razorpaylib.Client
}

func newRazorpayProvider(keyID, keySecret string) *razorpayProvider {
	return &razorpayProvider{client: razorpaylib.NewClient(keyID, keySecret)}
}

func (p *razorpayProvider) Name() string { return "razorpay" }

func (p *razorpayProvider) Payments() PaymentService { return &razorpayPayments{p.client} }

func (p *razorpayProvider) Customers() CustomerService { return &razorpayCustomers{p.client} }

func (p *razorpayProvider) Ping(ctx context.Context) error {
	_, err := p.client.Order.All(map[string]interface{}{"count": 1}, nil)
	if err != nil {
		return Unavailable("razorpay", "health probe failed", err)
	}
	return nil
}

func (p *razorpayProvider) DefaultFeatures() []Feature {
	return []Feature{FeatureCreditCard, FeatureRefunds, FeaturePartialRefund, FeatureSubscriptions}
}

// The SDK surfaces everything as an opaque error, so provider
// rejections and connectivity failures cannot be told apart here.
func razorpayError(paymentRef string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Provider:   "razorpay",
		Message:    err.Error(),
		PaymentRef: paymentRef,
	}
}

func mapString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func mapInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func razorpayOrderStatus(status string) ChargeStatus {
	switch status {
	case "created":
		return ChargePending
	case "attempted":
		return ChargeRequiresAction
	case "paid":
		return ChargeConfirmed
	default:
		return ChargePending
	}
}

func razorpayPaymentStatus(status string) ChargeStatus {
	switch status {
	case "created":
		return ChargePending
	case "authorized":
		return ChargeRequiresAction
	case "captured":
		return ChargeConfirmed
	case "refunded":
		return ChargeRefunded
	case "failed":
		return ChargeFailed
	default:
		return ChargePending
	}
}

type razorpayPayments struct {
	client *razorpaylib.Client
}

func (s *razorpayPayments) CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	notes := map[string]interface{}{"payment_ref": req.PaymentRef}
	for k, v := range req.Metadata {
		notes[k] = v
	}

	order, err := s.client.Order.Create(map[string]interface{}{
		"amount":   req.AmountCents,
		"currency": req.Currency,
		"receipt":  req.PaymentRef,
		"notes":    notes,
	}, nil)
	if err != nil {
		return nil, razorpayError(req.PaymentRef, err)
	}

	return &Charge{
		Reference:   mapString(order, "id"),
		Status:      razorpayOrderStatus(mapString(order, "status")),
		AmountCents: mapInt64(order, "amount"),
		Currency:    mapString(order, "currency"),
		Raw:         order,
	}, nil
}

func (s *razorpayPayments) Find(ctx context.Context, reference string) (*Charge, error) {
	if strings.HasPrefix(reference, "order_") {
		order, err := s.client.Order.Fetch(reference, nil, nil)
		if err != nil {
			return nil, razorpayError("", err)
		}
		return &Charge{
			Reference:   mapString(order, "id"),
			Status:      razorpayOrderStatus(mapString(order, "status")),
			AmountCents: mapInt64(order, "amount"),
			Currency:    mapString(order, "currency"),
			Raw:         order,
		}, nil
	}

	payment, err := s.client.Payment.Fetch(reference, nil, nil)
	if err != nil {
		return nil, razorpayError("", err)
	}
	return &Charge{
		Reference:   mapString(payment, "id"),
		Status:      razorpayPaymentStatus(mapString(payment, "status")),
		AmountCents: mapInt64(payment, "amount"),
		Currency:    mapString(payment, "currency"),
		Raw:         payment,
	}, nil
}

func (s *razorpayPayments) Cancel(ctx context.Context, reference string) (*Charge, error) {
	// Razorpay orders cannot be canceled through the API; they expire
	// on their own. The charge is closed on our side only.
	charge, err := s.Find(ctx, reference)
	if err != nil {
		return nil, err
	}
	if charge.Status == ChargeConfirmed {
		return nil, &GatewayError{
			Provider: "razorpay",
			Code:     "already_captured",
			Message:  "captured payments must be refunded, not canceled",
		}
	}
	charge.Status = ChargeCanceled
	return charge, nil
}

// razorpayCapturedPayment picks the captured payment out of an order's
// payment collection. Refunds act on payments, not orders.
func razorpayCapturedPayment(collection map[string]interface{}) string {
	items, _ := collection["items"].([]interface{})
	for _, item := range items {
		payment, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if mapString(payment, "status") == "captured" {
			return mapString(payment, "id")
		}
	}
	return ""
}

func (s *razorpayPayments) Refund(ctx context.Context, reference string, amountCents int64) (*RefundReceipt, error) {
	// We store the order id as the charge reference, but the refund
	// endpoint takes the payment that captured it.
	if strings.HasPrefix(reference, "order_") {
		collection, err := s.client.Order.Payments(reference, nil, nil)
		if err != nil {
			return nil, razorpayError("", err)
		}
		paymentID := razorpayCapturedPayment(collection)
		if paymentID == "" {
			return nil, &GatewayError{
				Provider: "razorpay",
				Code:     "no_captured_payment",
				Message:  "order has no captured payment to refund",
			}
		}
		reference = paymentID
	}

	refund, err := s.client.Payment.Refund(reference, int(amountCents), map[string]interface{}{}, nil)
	if err != nil {
		return nil, razorpayError("", err)
	}
	return &RefundReceipt{
		Reference:   mapString(refund, "id"),
		AmountCents: mapInt64(refund, "amount"),
		Status:      mapString(refund, "status"),
		Raw:         refund,
	}, nil
}

func (s *razorpayPayments) GetPixQrCode(ctx context.Context, reference string) (*PixQRCode, error) {
	return nil, Unavailable("razorpay", "pix not supported", nil)
}

func (s *razorpayPayments) PayWithCreditCard(ctx context.Context, reference string, card *CreditCard) (*Charge, error) {
	return nil, Unavailable("razorpay", "server-side card capture not supported", nil)
}

type razorpayCustomers struct {
	client *razorpaylib.Client
}

func (s *razorpayCustomers) Create(ctx context.Context, req *CustomerRequest) (*Customer, error) {
	customer, err := s.client.Customer.Create(map[string]interface{}{
		"name":          req.Name,
		"email":         req.Email,
		"contact":       req.Phone,
		"fail_existing": "0",
		"notes":         map[string]interface{}{"external_ref": req.ExternalRef},
	}, nil)
	if err != nil {
		return nil, razorpayError("", err)
	}
	return &Customer{
		Reference: mapString(customer, "id"),
		Email:     mapString(customer, "email"),
		Name:      mapString(customer, "name"),
		Raw:       customer,
	}, nil
}

func (s *razorpayCustomers) Find(ctx context.Context, reference string) (*Customer, error) {
	customer, err := s.client.Customer.Fetch(reference, nil, nil)
	if err != nil {
		return nil, razorpayError("", err)
	}
	return &Customer{
		Reference: mapString(customer, "id"),
		Email:     mapString(customer, "email"),
		Name:      mapString(customer, "name"),
		Raw:       customer,
	}, nil
}
