package gateway

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/balance"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// stripeProvider settles card payments through Stripe PaymentIntents.
// Card data never transits through us: PayWithCreditCard only accepts
// tokenized payment method references.
type stripeProvider struct {
	secretKey string
}

func newStripeProvider(secretKey string) *stripeProvider {
	stripe.Key = secretKey
	return &stripeProvider{secretKey: secretKey}
}

func (p *stripeProvider) Name() string { return "stripe" }

func (p *stripeProvider) Payments() PaymentService { return &stripePayments{} }

func (p *stripeProvider) Customers() CustomerService { return &stripeCustomers{} }

func (p *stripeProvider) Ping(ctx context.Context) error {
	_, err := balance.Get(&stripe.BalanceParams{})
	return stripeError("", err)
}

func (p *stripeProvider) DefaultFeatures() []Feature {
	return []Feature{FeatureCreditCard, FeatureRefunds, FeaturePartialRefund, FeatureSubscriptions}
}

func stripeError(paymentRef string, err error) error {
	if err == nil {
		return nil
	}
	if stripeErr, ok := err.(*stripe.Error); ok {
		return &GatewayError{
			Provider:   "stripe",
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Message:    stripeErr.Msg,
			PaymentRef: paymentRef,
		}
	}
	return Unavailable("stripe", "request failed", err)
}

func stripeChargeStatus(status stripe.PaymentIntentStatus) ChargeStatus {
	switch status {
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return ChargeRequiresAction
	case stripe.PaymentIntentStatusProcessing:
		return ChargePending
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeConfirmed
	case stripe.PaymentIntentStatusCanceled:
		return ChargeCanceled
	default:
		return ChargePending
	}
}

func stripeCharge(pi *stripe.PaymentIntent) *Charge {
	return &Charge{
		Reference:   pi.ID,
		Status:      stripeChargeStatus(pi.Status),
		AmountCents: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		Raw:         rawJSON(pi),
	}
}

type stripePayments struct{}

func (s *stripePayments) CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
	}
	params.AddMetadata("payment_ref", req.PaymentRef)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, stripeError(req.PaymentRef, err)
	}
	return stripeCharge(pi), nil
}

func (s *stripePayments) Find(ctx context.Context, reference string) (*Charge, error) {
	pi, err := paymentintent.Get(reference, nil)
	if err != nil {
		return nil, stripeError("", err)
	}
	return stripeCharge(pi), nil
}

func (s *stripePayments) Cancel(ctx context.Context, reference string) (*Charge, error) {
	pi, err := paymentintent.Cancel(reference, nil)
	if err != nil {
		return nil, stripeError("", err)
	}
	return stripeCharge(pi), nil
}

func (s *stripePayments) Refund(ctx context.Context, reference string, amountCents int64) (*RefundReceipt, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(reference),
	}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	r, err := refund.New(params)
	if err != nil {
		return nil, stripeError("", err)
	}
	return &RefundReceipt{
		Reference:   r.ID,
		AmountCents: r.Amount,
		Status:      string(r.Status),
		Raw:         rawJSON(r),
	}, nil
}

func (s *stripePayments) GetPixQrCode(ctx context.Context, reference string) (*PixQRCode, error) {
	return nil, Unavailable("stripe", "pix not supported", nil)
}

func (s *stripePayments) PayWithCreditCard(ctx context.Context, reference string, card *CreditCard) (*Charge, error) {
	// Raw PANs must not reach Stripe through server-side code; only a
	// tokenized payment method reference is accepted here.
	if !strings.HasPrefix(card.Number, "pm_") && !strings.HasPrefix(card.Number, "tok_") {
		return nil, &GatewayError{
			Provider:   "stripe",
			StatusCode: 400,
			Code:       "raw_card_not_supported",
			Message:    "stripe requires a tokenized payment method, not raw card data",
		}
	}

	pi, err := paymentintent.Confirm(reference, &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(card.Number),
	})
	if err != nil {
		return nil, stripeError("", err)
	}
	return stripeCharge(pi), nil
}

type stripeCustomers struct{}

func (s *stripeCustomers) Create(ctx context.Context, req *CustomerRequest) (*Customer, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(req.Name),
		Email: stripe.String(req.Email),
	}
	if req.Phone != "" {
		params.Phone = stripe.String(req.Phone)
	}
	params.AddMetadata("external_ref", req.ExternalRef)

	cust, err := customer.New(params)
	if err != nil {
		return nil, stripeError("", err)
	}
	return &Customer{
		Reference: cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		Raw:       rawJSON(cust),
	}, nil
}

func (s *stripeCustomers) Find(ctx context.Context, reference string) (*Customer, error) {
	cust, err := customer.Get(reference, nil)
	if err != nil {
		return nil, stripeError("", err)
	}
	return &Customer{
		Reference: cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		Raw:       rawJSON(cust),
	}, nil
}
