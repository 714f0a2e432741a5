package billable

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/models"
)

// Fulfiller delivers whatever a paid Payment bought. OnPaymentPaid is
// invoked exactly once per payment, inside the settlement transaction,
// and must be safe to retry if that transaction rolls back.
type Fulfiller interface {
	OnPaymentPaid(ctx context.Context, payment *models.Payment) error
}

// Registry maps billable types to their fulfillers. Types without a
// fulfiller settle without a fulfillment step.
type Registry struct {
	fulfillers map[models.BillableType]Fulfiller
	logger     *logrus.Entry
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		fulfillers: make(map[models.BillableType]Fulfiller),
		logger:     logger.WithField("component", "billable"),
	}
}

// Register binds a fulfiller to a billable type.
func (r *Registry) Register(t models.BillableType, f Fulfiller) {
	r.fulfillers[t] = f
}

// Fulfill runs the fulfiller for the payment's billable type, if any.
func (r *Registry) Fulfill(ctx context.Context, payment *models.Payment) error {
	f, ok := r.fulfillers[payment.BillableType]
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"billable_type": payment.BillableType,
			"payment_id":    payment.PublicID,
		}).Debug("no fulfiller registered, skipping")
		return nil
	}
	if err := f.OnPaymentPaid(ctx, payment); err != nil {
		return fmt.Errorf("fulfillment failed for %s %s: %w", payment.BillableType, payment.BillableID, err)
	}
	return nil
}

// Creditor is the wallet capability a top-up needs.
type Creditor interface {
	Credit(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error
}

// WalletTopUpFulfiller credits the paid amount to the payer's wallet
// balance. Wallet funds can never pay for a top-up, so the full charge
// amount is credited.
type WalletTopUpFulfiller struct {
	wallet Creditor
}

func NewWalletTopUpFulfiller(wallet Creditor) *WalletTopUpFulfiller {
	return &WalletTopUpFulfiller{wallet: wallet}
}

func (f *WalletTopUpFulfiller) OnPaymentPaid(ctx context.Context, payment *models.Payment) error {
	ref := "topup:" + payment.PublicID.String()
	return f.wallet.Credit(ctx, payment.PayerID, payment.AmountCents, ref)
}
