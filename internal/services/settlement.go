package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/models"
)

// transitions is the payment state machine. Terminal states have no
// entry; anything not listed is forbidden.
var transitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentDraft: {
		models.PaymentPending,
		models.PaymentCanceled,
	},
	models.PaymentPending: {
		models.PaymentPaid,
		models.PaymentRequiresAction,
		models.PaymentFailed,
		models.PaymentCanceled,
	},
	models.PaymentRequiresAction: {
		models.PaymentPaid,
		models.PaymentFailed,
		models.PaymentCanceled,
	},
	models.PaymentPaid: {
		models.PaymentRefunded,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to models.PaymentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AvailableTransitions lists the states reachable from the given one.
func AvailableTransitions(from models.PaymentStatus) []models.PaymentStatus {
	return transitions[from]
}

// SettlementService drives payments through the state machine. Every
// transition happens under the payment's row lock, and the money and
// fulfillment side effects of a transition run at most once because the
// wallet deduplicates per payment and a paid payment never re-enters
// paid.
type SettlementService struct {
	store     PaymentStore
	wallet    Wallet
	fulfill   Fulfillment
	publisher EventPublisher
	logger    *logrus.Entry
}

func NewSettlementService(store PaymentStore, wallet Wallet, fulfill Fulfillment, publisher EventPublisher, logger *logrus.Logger) *SettlementService {
	return &SettlementService{
		store:     store,
		wallet:    wallet,
		fulfill:   fulfill,
		publisher: publisher,
		logger:    logger.WithField("component", "settlement"),
	}
}

// settlementNote merges an audit entry into meta.settlement.
func settlementNote(payment *models.Payment, source string, extra map[string]interface{}) {
	if payment.Meta == nil {
		payment.Meta = models.JSONB{}
	}
	note := payment.Meta.SubMap("settlement")
	note["source"] = source
	note["at"] = time.Now().UTC().Format(time.RFC3339)
	for k, v := range extra {
		note[k] = v
	}
}

// MarkPaid settles the payment. The wallet hold, if any, is converted
// to a debit, the billable is fulfilled and the settled event is
// published. Calling it on an already paid payment is a no-op.
func (s *SettlementService) MarkPaid(ctx context.Context, publicID uuid.UUID, source string) (*models.Payment, error) {
	var settled *models.Payment
	var alreadyPaid bool

	err := s.store.WithPaymentLock(ctx, publicID, func(payment *models.Payment) error {
		if payment.Status == models.PaymentPaid {
			alreadyPaid = true
			settled = payment
			return nil
		}
		if !CanTransition(payment.Status, models.PaymentPaid) {
			return &InvalidPaymentStateError{PaymentID: publicID, From: payment.Status, To: models.PaymentPaid}
		}

		if payment.WalletAppliedCents > 0 {
			if err := s.wallet.Debit(ctx, payment.PayerID, payment.WalletAppliedCents, publicID.String()); err != nil {
				return err
			}
		}

		now := time.Now()
		payment.Status = models.PaymentPaid
		payment.PaidAt = &now
		settlementNote(payment, source, nil)

		if err := s.fulfill.Fulfill(ctx, payment); err != nil {
			return err
		}

		settled = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyPaid {
		s.logger.WithFields(logrus.Fields{
			"payment_id": publicID,
			"source":     source,
			"amount":     settled.AmountCents,
		}).Info("payment settled")
		s.publisher.PaymentSettled(settled)
	}
	return settled, nil
}

// MarkFailed moves the payment to failed and releases the wallet hold.
// Already failed, paid or refunded payments are left alone.
func (s *SettlementService) MarkFailed(ctx context.Context, publicID uuid.UUID, source, reason string) (*models.Payment, error) {
	return s.close(ctx, publicID, models.PaymentFailed, source, reason)
}

// MarkCanceled moves the payment to canceled and releases the wallet
// hold. Already canceled, paid or refunded payments are left alone.
func (s *SettlementService) MarkCanceled(ctx context.Context, publicID uuid.UUID, source, reason string) (*models.Payment, error) {
	return s.close(ctx, publicID, models.PaymentCanceled, source, reason)
}

func (s *SettlementService) close(ctx context.Context, publicID uuid.UUID, to models.PaymentStatus, source, reason string) (*models.Payment, error) {
	var closed *models.Payment
	var already bool

	err := s.store.WithPaymentLock(ctx, publicID, func(payment *models.Payment) error {
		// Settled money never silently fails: a late failure notice for
		// a paid or refunded payment is ignored, not an error.
		if payment.Status == to || payment.Status == models.PaymentPaid || payment.Status == models.PaymentRefunded {
			already = true
			closed = payment
			return nil
		}
		if !CanTransition(payment.Status, to) {
			return &InvalidPaymentStateError{PaymentID: publicID, From: payment.Status, To: to}
		}

		if payment.WalletAppliedCents > 0 {
			if err := s.wallet.ReleaseHold(ctx, payment.PayerID, payment.WalletAppliedCents, publicID.String()); err != nil {
				return err
			}
		}

		payment.Status = to
		settlementNote(payment, source, map[string]interface{}{"reason": reason})
		closed = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !already {
		s.logger.WithFields(logrus.Fields{
			"payment_id": publicID,
			"status":     to,
			"source":     source,
			"reason":     reason,
		}).Info("payment closed")
		s.publisher.PaymentFailed(closed)
	}
	return closed, nil
}

// MarkRequiresAction flags a pending payment as waiting on payer
// action, e.g. 3DS or a risk review. Already flagged payments are left
// alone.
func (s *SettlementService) MarkRequiresAction(ctx context.Context, publicID uuid.UUID, source string) (*models.Payment, error) {
	var out *models.Payment
	err := s.store.WithPaymentLock(ctx, publicID, func(payment *models.Payment) error {
		if payment.Status == models.PaymentRequiresAction {
			out = payment
			return nil
		}
		if !CanTransition(payment.Status, models.PaymentRequiresAction) {
			return &InvalidPaymentStateError{PaymentID: publicID, From: payment.Status, To: models.PaymentRequiresAction}
		}
		payment.Status = models.PaymentRequiresAction
		settlementNote(payment, source, nil)
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRefunded moves a paid payment to refunded. The refund bookkeeping
// itself lives in the refund service; this is the terminal state flip.
func (s *SettlementService) MarkRefunded(ctx context.Context, publicID uuid.UUID, source string) (*models.Payment, error) {
	var out *models.Payment
	var already bool

	err := s.store.WithPaymentLock(ctx, publicID, func(payment *models.Payment) error {
		if payment.Status == models.PaymentRefunded {
			already = true
			out = payment
			return nil
		}
		if !CanTransition(payment.Status, models.PaymentRefunded) {
			return &InvalidPaymentStateError{PaymentID: publicID, From: payment.Status, To: models.PaymentRefunded}
		}
		now := time.Now()
		payment.Status = models.PaymentRefunded
		payment.RefundAt = &now
		settlementNote(payment, source, nil)
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !already {
		s.publisher.PaymentRefunded(out, out.RefundedCents())
	}
	return out, nil
}
