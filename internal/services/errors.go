package services

import (
	"fmt"

	"github.com/google/uuid"

	"payment-engine/internal/models"
)

// InvalidPaymentStateError reports an attempted transition the payment
// state machine forbids.
type InvalidPaymentStateError struct {
	PaymentID uuid.UUID
	From      models.PaymentStatus
	To        models.PaymentStatus
}

func (e *InvalidPaymentStateError) Error() string {
	return fmt.Sprintf("payment %s cannot transition from %s to %s", e.PaymentID, e.From, e.To)
}

// RefundBoundsError reports a refund request exceeding what remains
// refundable on the payment.
type RefundBoundsError struct {
	PaymentID       uuid.UUID
	RequestedCents  int64
	RefundableCents int64
}

func (e *RefundBoundsError) Error() string {
	return fmt.Sprintf("refund of %d exceeds refundable %d on payment %s",
		e.RequestedCents, e.RefundableCents, e.PaymentID)
}

// ValidationError reports a malformed request before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
