package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
)

// WalletReader exposes the available balance, used for the checkout
// split.
type WalletReader interface {
	Available(ctx context.Context, payerID uuid.UUID) (int64, error)
}

// CheckoutService creates payments. A checkout splits the amount
// between the payer's wallet and a gateway charge: the wallet portion
// is held, the remainder goes to the provider, and a fully
// wallet-covered payment settles immediately without touching any
// provider.
type CheckoutService struct {
	store      PaymentStore
	wallet     Wallet
	balances   WalletReader
	gateways   Gateways
	settlement *SettlementService
	logger     *logrus.Entry
}

func NewCheckoutService(store PaymentStore, wallet Wallet, balances WalletReader, gateways Gateways, settlement *SettlementService, logger *logrus.Logger) *CheckoutService {
	return &CheckoutService{
		store:      store,
		wallet:     wallet,
		balances:   balances,
		gateways:   gateways,
		settlement: settlement,
		logger:     logger.WithField("component", "checkout"),
	}
}

func validateCheckout(req *models.CheckoutRequest) error {
	if req.AmountCents <= 0 {
		return &ValidationError{Field: "amountCents", Message: "must be positive"}
	}
	switch req.BillableType {
	case models.BillableCampaign, models.BillableWalletTopUp:
	default:
		return &ValidationError{Field: "billableType", Message: "unknown billable type"}
	}
	if req.BillableType == models.BillableWalletTopUp && req.UseWallet {
		return &ValidationError{Field: "useWallet", Message: "wallet funds cannot pay for a wallet top-up"}
	}
	if req.Method == models.MethodWallet {
		return &ValidationError{Field: "method", Message: "wallet is selected with useWallet, not as a method"}
	}
	return nil
}

func checkoutFeature(method models.PaymentMethod) gateway.Feature {
	switch method {
	case models.MethodCreditCard:
		return gateway.FeatureCreditCard
	default:
		return gateway.FeaturePix
	}
}

// Checkout runs the full checkout flow and returns the created payment
// together with any PIX QR data the payer needs to finish it.
func (s *CheckoutService) Checkout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "BRL"
	}

	walletApplied := int64(0)
	if req.UseWallet {
		available, err := s.balances.Available(ctx, req.PayerID)
		if err != nil {
			return nil, err
		}
		walletApplied = available
		if walletApplied > req.AmountCents {
			walletApplied = req.AmountCents
		}
	}
	gatewayAmount := req.AmountCents - walletApplied

	method := req.Method
	if gatewayAmount == 0 {
		method = models.MethodWallet
	} else if method == "" {
		method = models.MethodPix
	}

	payment := &models.Payment{
		PublicID:           uuid.New(),
		PayerID:            req.PayerID,
		BillableType:       req.BillableType,
		BillableID:         req.BillableID,
		Currency:           currency,
		AmountCents:        req.AmountCents,
		WalletAppliedCents: walletApplied,
		GatewayAmountCents: gatewayAmount,
		Status:             models.PaymentDraft,
		Method:             method,
		Description:        req.Description,
	}
	if err := s.store.Create(ctx, payment); err != nil {
		return nil, err
	}

	if walletApplied > 0 {
		if err := s.wallet.Hold(ctx, req.PayerID, walletApplied, payment.PublicID.String()); err != nil {
			// The draft is dead; close it without touching the wallet.
			s.abandonDraft(ctx, payment.PublicID, "wallet hold failed")
			return nil, err
		}
	}

	if gatewayAmount == 0 {
		if err := s.markPending(ctx, payment.PublicID); err != nil {
			return nil, err
		}
		settled, err := s.settlement.MarkPaid(ctx, payment.PublicID, "wallet")
		if err != nil {
			return nil, err
		}
		return &models.CheckoutResponse{Payment: settled}, nil
	}

	return s.chargeGateway(ctx, payment, req, method, gatewayAmount)
}

func (s *CheckoutService) chargeGateway(ctx context.Context, payment *models.Payment, req *models.CheckoutRequest, method models.PaymentMethod, gatewayAmount int64) (*models.CheckoutResponse, error) {
	gw, err := s.gateways.Resolve(req.Gateway)
	if err != nil {
		s.rollbackCheckout(ctx, payment, "gateway unavailable")
		return nil, err
	}
	if err := gw.Require(checkoutFeature(method)); err != nil {
		s.rollbackCheckout(ctx, payment, "feature unavailable")
		return nil, err
	}

	charge, err := gw.Payments().CreateCharge(ctx, &gateway.ChargeRequest{
		PaymentRef:  payment.PublicID.String(),
		AmountCents: gatewayAmount,
		Currency:    payment.Currency,
		Method:      method,
		Description: payment.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.rollbackCheckout(ctx, payment, "gateway charge failed")
		return nil, err
	}

	// Persist the gateway result before any capture attempt so a crash
	// in between still leaves a reconcilable pending payment.
	err = s.store.WithPaymentLock(ctx, payment.PublicID, func(p *models.Payment) error {
		p.Status = models.PaymentPending
		p.Gateway = gw.Name()
		p.GatewayReference = charge.Reference
		if p.Meta == nil {
			p.Meta = models.JSONB{}
		}
		p.Meta["gateway"] = map[string]interface{}{
			"provider":  gw.Name(),
			"reference": charge.Reference,
			"status":    string(charge.Status),
			"raw":       map[string]interface{}(charge.Raw),
		}
		*payment = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if method == models.MethodCreditCard && req.Card != nil {
		return s.captureCard(ctx, payment, gw, req.Card)
	}

	resp := &models.CheckoutResponse{Payment: payment}

	if method == models.MethodPix && gw.Supports(gateway.FeaturePix) {
		if pix := s.attachPixQrCode(ctx, payment, gw); pix != nil {
			resp.Pix = pix
		}
	}

	switch charge.Status {
	case gateway.ChargeConfirmed:
		settled, err := s.settlement.MarkPaid(ctx, payment.PublicID, "gateway")
		if err != nil {
			return nil, err
		}
		resp.Payment = settled
	case gateway.ChargeRequiresAction:
		updated, err := s.settlement.MarkRequiresAction(ctx, payment.PublicID, "gateway")
		if err != nil {
			return nil, err
		}
		resp.Payment = updated
	}
	return resp, nil
}

func (s *CheckoutService) captureCard(ctx context.Context, payment *models.Payment, gw Gateway, card *models.CardRequest) (*models.CheckoutResponse, error) {
	charge, err := gw.Payments().PayWithCreditCard(ctx, payment.GatewayReference, &gateway.CreditCard{
		Number:       card.Number,
		HolderName:   card.HolderName,
		ExpiryMonth:  card.ExpiryMonth,
		ExpiryYear:   card.ExpiryYear,
		CVV:          card.CVV,
		HolderEmail:  card.HolderEmail,
		HolderPhone:  card.HolderPhone,
		PostalCode:   card.PostalCode,
		AddressLine1: card.AddressLine1,
		AddressLine2: card.AddressLine2,
		City:         card.City,
		State:        card.State,
		Country:      card.Country,
	})
	if err != nil {
		if _, declined := err.(*gateway.GatewayError); declined {
			if _, failErr := s.settlement.MarkFailed(ctx, payment.PublicID, "checkout", "card declined"); failErr != nil {
				s.logger.WithError(failErr).Error("failed to close declined payment")
			}
		}
		return nil, err
	}

	switch charge.Status {
	case gateway.ChargeConfirmed:
		settled, err := s.settlement.MarkPaid(ctx, payment.PublicID, "gateway")
		if err != nil {
			return nil, err
		}
		return &models.CheckoutResponse{Payment: settled}, nil
	case gateway.ChargeRequiresAction:
		updated, err := s.settlement.MarkRequiresAction(ctx, payment.PublicID, "gateway")
		if err != nil {
			return nil, err
		}
		return &models.CheckoutResponse{Payment: updated}, nil
	default:
		return &models.CheckoutResponse{Payment: payment}, nil
	}
}

func (s *CheckoutService) attachPixQrCode(ctx context.Context, payment *models.Payment, gw Gateway) *models.PixQRCodeData {
	qr, err := gw.Payments().GetPixQrCode(ctx, payment.GatewayReference)
	if err != nil {
		// The payer can still pay through the provider's invoice URL,
		// so a missing QR is not fatal.
		s.logger.WithError(err).WithField("payment_id", payment.PublicID).Warn("failed to fetch pix qr code")
		return nil
	}

	data := &models.PixQRCodeData{
		Payload:     qr.Payload,
		ImageBase64: qr.ImageBase64,
	}
	if qr.ExpiresAt != nil {
		data.ExpiresAt = qr.ExpiresAt.Format(time.RFC3339)
	}

	err = s.store.WithPaymentLock(ctx, payment.PublicID, func(p *models.Payment) error {
		if p.Meta == nil {
			p.Meta = models.JSONB{}
		}
		pix := p.Meta.SubMap("pix")
		pix["payload"] = data.Payload
		pix["expires_at"] = data.ExpiresAt
		*payment = *p
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.PublicID).Warn("failed to store pix qr code")
	}
	return data
}

// markPending flips a draft to pending without side effects.
func (s *CheckoutService) markPending(ctx context.Context, publicID uuid.UUID) error {
	return s.store.WithPaymentLock(ctx, publicID, func(p *models.Payment) error {
		if !CanTransition(p.Status, models.PaymentPending) {
			return &InvalidPaymentStateError{PaymentID: publicID, From: p.Status, To: models.PaymentPending}
		}
		p.Status = models.PaymentPending
		return nil
	})
}

// abandonDraft cancels a draft whose wallet hold never succeeded, so no
// hold release must happen.
func (s *CheckoutService) abandonDraft(ctx context.Context, publicID uuid.UUID, reason string) {
	err := s.store.WithPaymentLock(ctx, publicID, func(p *models.Payment) error {
		p.Status = models.PaymentCanceled
		settlementNote(p, "checkout", map[string]interface{}{"reason": reason})
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", publicID).Error("failed to abandon draft payment")
	}
}

// rollbackCheckout closes a draft after the gateway leg failed,
// releasing the wallet hold.
func (s *CheckoutService) rollbackCheckout(ctx context.Context, payment *models.Payment, reason string) {
	if payment.WalletAppliedCents > 0 {
		if err := s.wallet.ReleaseHold(ctx, payment.PayerID, payment.WalletAppliedCents, payment.PublicID.String()); err != nil {
			s.logger.WithError(err).WithField("payment_id", payment.PublicID).Error("failed to release wallet hold")
		}
	}
	s.abandonDraft(ctx, payment.PublicID, reason)
}

// Get loads a payment by public id.
func (s *CheckoutService) Get(ctx context.Context, publicID uuid.UUID) (*models.Payment, error) {
	return s.store.GetByPublicID(ctx, publicID)
}

// List returns a payer's payments, newest first.
func (s *CheckoutService) List(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]models.Payment, int64, error) {
	return s.store.ListByPayer(ctx, payerID, limit, offset)
}

// Cancel closes a payment that has not settled. When a gateway charge
// exists it is canceled provider-side first; a provider rejection of
// the cancel aborts ours so the two sides never disagree.
func (s *CheckoutService) Cancel(ctx context.Context, publicID uuid.UUID, reason string) (*models.Payment, error) {
	payment, err := s.store.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(payment.Status, models.PaymentCanceled) {
		return nil, &InvalidPaymentStateError{PaymentID: publicID, From: payment.Status, To: models.PaymentCanceled}
	}

	if payment.GatewayReference != "" {
		gw, err := s.gateways.Resolve(payment.Gateway)
		if err != nil {
			return nil, err
		}
		if _, err := gw.Payments().Cancel(ctx, payment.GatewayReference); err != nil {
			return nil, err
		}
	}

	return s.settlement.MarkCanceled(ctx, publicID, "api", reason)
}
