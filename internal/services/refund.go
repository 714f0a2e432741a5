package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
)

// RefundService reverses settled payments. Refunds come out of the
// gateway leg first; the wallet leg is only credited back once the
// gateway leg is exhausted, so provider money returns before ours.
type RefundService struct {
	store      PaymentStore
	wallet     Wallet
	gateways   Gateways
	settlement *SettlementService
	publisher  EventPublisher
	logger     *logrus.Entry
}

func NewRefundService(store PaymentStore, wallet Wallet, gateways Gateways, settlement *SettlementService, publisher EventPublisher, logger *logrus.Logger) *RefundService {
	return &RefundService{
		store:      store,
		wallet:     wallet,
		gateways:   gateways,
		settlement: settlement,
		publisher:  publisher,
		logger:     logger.WithField("component", "refund"),
	}
}

func refundMetaInt(payment *models.Payment, key string) int64 {
	if payment.Meta == nil {
		return 0
	}
	refund, ok := payment.Meta["refund"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := refund[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func walletRefundedCents(payment *models.Payment) int64 {
	return refundMetaInt(payment, "wallet_refunded_cents")
}

func totalRefundedCents(payment *models.Payment) int64 {
	return payment.RefundedCents() + walletRefundedCents(payment)
}

// Refund reverses up to amountCents of a paid payment. A zero amount
// requests everything still refundable. Returns the updated payment;
// when the cumulative refund reaches the full amount the payment moves
// to refunded.
func (s *RefundService) Refund(ctx context.Context, publicID uuid.UUID, amountCents int64, reason string) (*models.Payment, error) {
	payment, err := s.store.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentPaid {
		return nil, &InvalidPaymentStateError{PaymentID: publicID, From: payment.Status, To: models.PaymentRefunded}
	}

	refundable := payment.AmountCents - totalRefundedCents(payment)
	if amountCents == 0 {
		amountCents = refundable
	}
	if amountCents <= 0 || amountCents > refundable {
		return nil, &RefundBoundsError{PaymentID: publicID, RequestedCents: amountCents, RefundableCents: refundable}
	}

	gatewayRemaining := payment.GatewayAmountCents - payment.RefundedCents()
	gatewayPortion := amountCents
	if gatewayPortion > gatewayRemaining {
		gatewayPortion = gatewayRemaining
	}
	walletPortion := amountCents - gatewayPortion

	var receipt *gateway.RefundReceipt
	if gatewayPortion > 0 {
		gw, err := s.gateways.Resolve(payment.Gateway)
		if err != nil {
			return nil, err
		}
		if err := gw.Require(gateway.FeatureRefunds); err != nil {
			return nil, err
		}
		if gatewayPortion < payment.GatewayAmountCents {
			if err := gw.Require(gateway.FeaturePartialRefund); err != nil {
				return nil, err
			}
		}
		receipt, err = gw.Payments().Refund(ctx, payment.GatewayReference, gatewayPortion)
		if err != nil {
			return nil, err
		}
	}

	var updated *models.Payment
	err = s.store.WithPaymentLock(ctx, publicID, func(p *models.Payment) error {
		// The checks above ran on an unlocked snapshot; a concurrent
		// refund may have consumed the remainder since. Re-validate on
		// the locked row before recording.
		if p.Status != models.PaymentPaid {
			return &InvalidPaymentStateError{PaymentID: publicID, From: p.Status, To: models.PaymentRefunded}
		}
		if remaining := p.AmountCents - totalRefundedCents(p); amountCents > remaining {
			return &RefundBoundsError{PaymentID: publicID, RequestedCents: amountCents, RefundableCents: remaining}
		}
		if walletPortion > 0 {
			ref := fmt.Sprintf("refund:%s:%d", publicID, totalRefundedCents(p)+amountCents)
			if err := s.wallet.Credit(ctx, p.PayerID, walletPortion, ref); err != nil {
				return err
			}
		}
		recordRefund(p, gatewayPortion, walletPortion, reason, receipt)
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":     publicID,
		"amount":         amountCents,
		"gateway_cents":  gatewayPortion,
		"wallet_cents":   walletPortion,
		"total_refunded": totalRefundedCents(updated),
	}).Info("payment refunded")

	if totalRefundedCents(updated) >= updated.AmountCents {
		return s.settlement.MarkRefunded(ctx, publicID, "api")
	}

	s.publisher.PaymentRefunded(updated, amountCents)
	return updated, nil
}

// ReconcileGatewayRefund applies a provider-reported refund, typically
// from a webhook. Providers report the gateway leg only; when that leg
// is fully reversed the wallet leg is credited back as well and the
// payment closes as refunded.
func (s *RefundService) ReconcileGatewayRefund(ctx context.Context, publicID uuid.UUID, amountCents int64, source string) (*models.Payment, error) {
	// No provider call is needed here, so clamping, the wallet credit
	// and the accounting all run on the locked row.
	var updated *models.Payment
	alreadyClosed := false
	applied := int64(0)
	err := s.store.WithPaymentLock(ctx, publicID, func(p *models.Payment) error {
		if p.Status == models.PaymentRefunded {
			alreadyClosed = true
			updated = p
			return nil
		}
		if p.Status != models.PaymentPaid {
			return &InvalidPaymentStateError{PaymentID: publicID, From: p.Status, To: models.PaymentRefunded}
		}

		gatewayRemaining := p.GatewayAmountCents - p.RefundedCents()
		if amountCents == 0 || amountCents > gatewayRemaining {
			amountCents = gatewayRemaining
		}

		gatewayFullyReversed := p.RefundedCents()+amountCents >= p.GatewayAmountCents
		walletPortion := int64(0)
		if gatewayFullyReversed {
			walletPortion = p.WalletAppliedCents - walletRefundedCents(p)
		}

		if walletPortion > 0 {
			ref := fmt.Sprintf("refund:wallet:%s", publicID)
			if err := s.wallet.Credit(ctx, p.PayerID, walletPortion, ref); err != nil {
				return err
			}
		}

		recordRefund(p, amountCents, walletPortion, source, nil)
		applied = amountCents
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyClosed {
		return updated, nil
	}

	if totalRefundedCents(updated) >= updated.AmountCents {
		return s.settlement.MarkRefunded(ctx, publicID, source)
	}
	s.publisher.PaymentRefunded(updated, applied)
	return updated, nil
}

// recordRefund accumulates the refund counters and appends an audit
// entry under meta.refund.
func recordRefund(p *models.Payment, gatewayCents, walletCents int64, reason string, receipt *gateway.RefundReceipt) {
	if p.Meta == nil {
		p.Meta = models.JSONB{}
	}
	refund := p.Meta.SubMap("refund")

	toInt := func(v interface{}) int64 {
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
		return 0
	}
	refund["refunded_cents"] = toInt(refund["refunded_cents"]) + gatewayCents
	refund["wallet_refunded_cents"] = toInt(refund["wallet_refunded_cents"]) + walletCents

	entry := map[string]interface{}{
		"at":            time.Now().UTC().Format(time.RFC3339),
		"gateway_cents": gatewayCents,
		"wallet_cents":  walletCents,
		"reason":        reason,
	}
	if receipt != nil {
		entry["receipt"] = receipt.Reference
	}
	entries, _ := refund["entries"].([]interface{})
	refund["entries"] = append(entries, entry)
}
