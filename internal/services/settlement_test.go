package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-engine/internal/models"
)

func newSettlementFixture() (*SettlementService, *fakeStore, *fakeWallet, *fakeFulfillment, *fakePublisher) {
	store := newFakeStore()
	wallet := newFakeWallet()
	fulfill := newFakeFulfillment()
	publisher := &fakePublisher{}
	svc := NewSettlementService(store, wallet, fulfill, publisher, testLogger())
	return svc, store, wallet, fulfill, publisher
}

func seedPayment(t *testing.T, store *fakeStore, status models.PaymentStatus, walletApplied int64) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		PublicID:           uuid.New(),
		PayerID:            uuid.New(),
		BillableType:       models.BillableCampaign,
		BillableID:         "camp-1",
		Currency:           "BRL",
		AmountCents:        10000,
		WalletAppliedCents: walletApplied,
		GatewayAmountCents: 10000 - walletApplied,
		Status:             status,
	}
	require.NoError(t, store.Create(context.Background(), payment))
	return payment
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.PaymentDraft, models.PaymentPending))
	assert.True(t, CanTransition(models.PaymentPending, models.PaymentPaid))
	assert.True(t, CanTransition(models.PaymentPending, models.PaymentRequiresAction))
	assert.True(t, CanTransition(models.PaymentRequiresAction, models.PaymentPaid))
	assert.True(t, CanTransition(models.PaymentPaid, models.PaymentRefunded))

	assert.False(t, CanTransition(models.PaymentDraft, models.PaymentPaid))
	assert.False(t, CanTransition(models.PaymentPaid, models.PaymentPending))
	assert.False(t, CanTransition(models.PaymentFailed, models.PaymentPaid))
	assert.False(t, CanTransition(models.PaymentCanceled, models.PaymentPaid))
	assert.False(t, CanTransition(models.PaymentRefunded, models.PaymentPaid))
}

func TestMarkPaidSettlesPendingPayment(t *testing.T) {
	svc, store, wallet, fulfill, publisher := newSettlementFixture()
	payment := seedPayment(t, store, models.PaymentPending, 3000)
	wallet.deposit(payment.PayerID, 5000)
	require.NoError(t, wallet.Hold(context.Background(), payment.PayerID, 3000, payment.PublicID.String()))

	settled, err := svc.MarkPaid(context.Background(), payment.PublicID, "gateway")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPaid, settled.Status)
	assert.NotNil(t, settled.PaidAt)

	available, _ := wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(2000), available)

	assert.Equal(t, 1, fulfill.counts[payment.PublicID])
	assert.Len(t, publisher.settled, 1)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	svc, store, _, fulfill, publisher := newSettlementFixture()
	payment := seedPayment(t, store, models.PaymentPending, 0)

	_, err := svc.MarkPaid(context.Background(), payment.PublicID, "gateway")
	require.NoError(t, err)
	_, err = svc.MarkPaid(context.Background(), payment.PublicID, "webhook")
	require.NoError(t, err)

	assert.Equal(t, 1, fulfill.counts[payment.PublicID])
	assert.Len(t, publisher.settled, 1)
}

func TestMarkPaidRejectsClosedPayment(t *testing.T) {
	svc, store, _, fulfill, _ := newSettlementFixture()
	for _, status := range []models.PaymentStatus{models.PaymentFailed, models.PaymentCanceled, models.PaymentRefunded, models.PaymentDraft} {
		payment := seedPayment(t, store, status, 0)
		_, err := svc.MarkPaid(context.Background(), payment.PublicID, "gateway")
		var stateErr *InvalidPaymentStateError
		require.ErrorAs(t, err, &stateErr, "status %s", status)
		assert.Equal(t, status, stateErr.From)
		assert.Equal(t, 0, fulfill.counts[payment.PublicID])
	}
}

func TestMarkPaidRollsBackWhenFulfillmentFails(t *testing.T) {
	svc, store, _, fulfill, publisher := newSettlementFixture()
	fulfill.fail = assert.AnError
	payment := seedPayment(t, store, models.PaymentPending, 0)

	_, err := svc.MarkPaid(context.Background(), payment.PublicID, "gateway")
	require.Error(t, err)

	stored, err := store.GetByPublicID(context.Background(), payment.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.Status)
	assert.Empty(t, publisher.settled)
}

func TestMarkFailedReleasesHold(t *testing.T) {
	svc, store, wallet, _, publisher := newSettlementFixture()
	payment := seedPayment(t, store, models.PaymentPending, 4000)
	wallet.deposit(payment.PayerID, 4000)
	require.NoError(t, wallet.Hold(context.Background(), payment.PayerID, 4000, payment.PublicID.String()))

	failed, err := svc.MarkFailed(context.Background(), payment.PublicID, "webhook", "card declined")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentFailed, failed.Status)
	available, _ := wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(4000), available)
	assert.Len(t, publisher.failed, 1)

	reason := failed.Meta.SubMap("settlement")["reason"]
	assert.Equal(t, "card declined", reason)
}

func TestMarkFailedIgnoresSettledPayment(t *testing.T) {
	svc, store, _, _, publisher := newSettlementFixture()
	paid := seedPayment(t, store, models.PaymentPaid, 0)

	// A late failure notice for settled money is dropped, not an error.
	unchanged, err := svc.MarkFailed(context.Background(), paid.PublicID, "webhook", "provider says failed")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, unchanged.Status)
	assert.Empty(t, publisher.failed)
}

func TestMarkCanceledFromRequiresAction(t *testing.T) {
	svc, store, _, _, _ := newSettlementFixture()
	payment := seedPayment(t, store, models.PaymentRequiresAction, 0)

	canceled, err := svc.MarkCanceled(context.Background(), payment.PublicID, "api", "payer gave up")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCanceled, canceled.Status)
}

func TestMarkRequiresActionFromPending(t *testing.T) {
	svc, store, _, _, _ := newSettlementFixture()
	payment := seedPayment(t, store, models.PaymentPending, 0)

	updated, err := svc.MarkRequiresAction(context.Background(), payment.PublicID, "gateway")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRequiresAction, updated.Status)

	// Repeat is a no-op, not an error.
	_, err = svc.MarkRequiresAction(context.Background(), payment.PublicID, "gateway")
	require.NoError(t, err)
}

func TestMarkRefundedRequiresPaid(t *testing.T) {
	svc, store, _, _, publisher := newSettlementFixture()
	paid := seedPayment(t, store, models.PaymentPaid, 0)

	refunded, err := svc.MarkRefunded(context.Background(), paid.PublicID, "webhook")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.NotNil(t, refunded.RefundAt)
	assert.Len(t, publisher.refunded, 1)

	pending := seedPayment(t, store, models.PaymentPending, 0)
	_, err = svc.MarkRefunded(context.Background(), pending.PublicID, "webhook")
	var stateErr *InvalidPaymentStateError
	assert.ErrorAs(t, err, &stateErr)
}
