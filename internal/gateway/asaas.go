package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"payment-engine/internal/asaas"
	"payment-engine/internal/config"
	"payment-engine/internal/models"
)

// asaasProvider is the primary gateway integration. Asaas settles PIX
// and cards in BRL; all amount conversion between its float values and
// our integer cents happens here and in the client, never above.
type asaasProvider struct {
	client *asaas.Client
}

func newAsaasProvider(cfg config.GatewayConfig, logger *logrus.Logger) *asaasProvider {
	return &asaasProvider{
		client: asaas.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Sandbox, cfg.Timeout, cfg.MaxRetries, logger),
	}
}

func (p *asaasProvider) Name() string { return "asaas" }

func (p *asaasProvider) Payments() PaymentService { return &asaasPayments{p.client} }

func (p *asaasProvider) Customers() CustomerService { return &asaasCustomers{p.client} }

func (p *asaasProvider) Ping(ctx context.Context) error {
	return asaasError("", p.client.Ping(ctx))
}

func (p *asaasProvider) DefaultFeatures() []Feature {
	return []Feature{FeaturePix, FeatureCreditCard, FeatureRefunds, FeaturePartialRefund, FeatureTransfers, FeatureSplit}
}

// asaasError normalizes client errors: connectivity failures become
// GatewayUnavailableError, provider rejections become GatewayError.
func asaasError(paymentRef string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *asaas.ConnectionError
	if errors.As(err, &connErr) {
		return Unavailable("asaas", "connection failed", connErr)
	}
	var apiErr *asaas.APIError
	if errors.As(err, &apiErr) {
		return &GatewayError{
			Provider:   "asaas",
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Body:       apiErr.Body,
			PaymentRef: paymentRef,
		}
	}
	return err
}

func asaasChargeStatus(status string) ChargeStatus {
	switch status {
	case "PENDING":
		return ChargePending
	case "AWAITING_RISK_ANALYSIS":
		return ChargeRequiresAction
	case "CONFIRMED", "RECEIVED", "RECEIVED_IN_CASH":
		return ChargeConfirmed
	case "OVERDUE":
		return ChargeFailed
	case "REFUNDED", "REFUND_REQUESTED", "REFUND_IN_PROGRESS":
		return ChargeRefunded
	case "CANCELED", "DELETED":
		return ChargeCanceled
	default:
		return ChargePending
	}
}

func asaasBillingType(method models.PaymentMethod) string {
	switch method {
	case models.MethodPix:
		return "PIX"
	case models.MethodCreditCard:
		return "CREDIT_CARD"
	case models.MethodBoleto:
		return "BOLETO"
	default:
		return "UNDEFINED"
	}
}

func rawJSON(v interface{}) models.JSONB {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var raw models.JSONB
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

func asaasCharge(p *asaas.Payment) *Charge {
	charge := &Charge{
		Reference:   p.ID,
		Status:      asaasChargeStatus(p.Status),
		AmountCents: asaas.ValueToCents(p.Value),
		Currency:    "BRL",
		PaymentURL:  p.InvoiceURL,
		Raw:         rawJSON(p),
	}
	if created, err := time.Parse("2006-01-02", p.DateCreated); err == nil {
		charge.CreatedAt = &created
	}
	return charge
}

type asaasPayments struct {
	client *asaas.Client
}

func (s *asaasPayments) CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	dueDate := time.Now()
	if req.DueDate != nil {
		dueDate = *req.DueDate
	}

	payment, err := s.client.CreatePayment(ctx, &asaas.PaymentRequest{
		Customer:          req.CustomerRef,
		BillingType:       asaasBillingType(req.Method),
		Value:             asaas.CentsToValue(req.AmountCents),
		DueDate:           dueDate.Format("2006-01-02"),
		Description:       req.Description,
		ExternalReference: req.PaymentRef,
	})
	if err != nil {
		return nil, asaasError(req.PaymentRef, err)
	}
	return asaasCharge(payment), nil
}

func (s *asaasPayments) Find(ctx context.Context, reference string) (*Charge, error) {
	payment, err := s.client.GetPayment(ctx, reference)
	if err != nil {
		return nil, asaasError("", err)
	}
	return asaasCharge(payment), nil
}

func (s *asaasPayments) Cancel(ctx context.Context, reference string) (*Charge, error) {
	payment, err := s.client.CancelPayment(ctx, reference)
	if err != nil {
		return nil, asaasError("", err)
	}
	charge := asaasCharge(payment)
	charge.Status = ChargeCanceled
	return charge, nil
}

func (s *asaasPayments) Refund(ctx context.Context, reference string, amountCents int64) (*RefundReceipt, error) {
	req := &asaas.RefundRequest{}
	if amountCents > 0 {
		req.Value = asaas.CentsToValue(amountCents)
	}
	refund, err := s.client.RefundPayment(ctx, reference, req)
	if err != nil {
		return nil, asaasError("", err)
	}
	return &RefundReceipt{
		Reference:   refund.ID,
		AmountCents: asaas.ValueToCents(refund.Value),
		Status:      refund.Status,
		Raw:         rawJSON(refund),
	}, nil
}

func (s *asaasPayments) GetPixQrCode(ctx context.Context, reference string) (*PixQRCode, error) {
	qr, err := s.client.GetPixQrCode(ctx, reference)
	if err != nil {
		return nil, asaasError("", err)
	}
	pix := &PixQRCode{
		Payload:     qr.Payload,
		ImageBase64: qr.EncodedImage,
		Raw:         rawJSON(qr),
	}
	if expires, err := time.Parse("2006-01-02 15:04:05", qr.ExpirationDate); err == nil {
		pix.ExpiresAt = &expires
	}
	return pix, nil
}

func (s *asaasPayments) PayWithCreditCard(ctx context.Context, reference string, card *CreditCard) (*Charge, error) {
	payment, err := s.client.PayWithCreditCard(ctx, reference, &asaas.CreditCardRequest{
		CreditCard: asaas.CreditCard{
			HolderName:  card.HolderName,
			Number:      card.Number,
			ExpiryMonth: card.ExpiryMonth,
			ExpiryYear:  card.ExpiryYear,
			CCV:         card.CVV,
		},
		CreditCardHolder: asaas.CreditCardHolder{
			Name:         card.HolderName,
			Email:        card.HolderEmail,
			Phone:        card.HolderPhone,
			PostalCode:   card.PostalCode,
			AddressLine1: card.AddressLine1,
			AddressLine2: card.AddressLine2,
		},
	})
	if err != nil {
		return nil, asaasError("", err)
	}
	return asaasCharge(payment), nil
}

type asaasCustomers struct {
	client *asaas.Client
}

func (s *asaasCustomers) Create(ctx context.Context, req *CustomerRequest) (*Customer, error) {
	customer, err := s.client.CreateCustomer(ctx, &asaas.CustomerRequest{
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		CPFCnpj:           req.Document,
		ExternalReference: req.ExternalRef,
	})
	if err != nil {
		return nil, asaasError("", err)
	}
	return &Customer{
		Reference: customer.ID,
		Email:     customer.Email,
		Name:      customer.Name,
		Raw:       rawJSON(customer),
	}, nil
}

func (s *asaasCustomers) Find(ctx context.Context, reference string) (*Customer, error) {
	customer, err := s.client.GetCustomer(ctx, reference)
	if err != nil {
		return nil, asaasError("", err)
	}
	return &Customer{
		Reference: customer.ID,
		Email:     customer.Email,
		Name:      customer.Name,
		Raw:       rawJSON(customer),
	}, nil
}
