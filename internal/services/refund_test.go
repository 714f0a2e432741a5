package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
)

type refundFixture struct {
	svc       *RefundService
	store     *fakeStore
	wallet    *fakeWallet
	gw        *fakeGateway
	publisher *fakePublisher
}

func newRefundFixture() *refundFixture {
	store := newFakeStore()
	wallet := newFakeWallet()
	publisher := &fakePublisher{}
	gw := newFakeGateway("asaas")
	gateways := newFakeGateways(gw)

	settlement := NewSettlementService(store, wallet, newFakeFulfillment(), publisher, testLogger())
	svc := NewRefundService(store, wallet, gateways, settlement, publisher, testLogger())
	return &refundFixture{svc: svc, store: store, wallet: wallet, gw: gw, publisher: publisher}
}

func seedPaidPayment(t *testing.T, store *fakeStore, walletApplied, gatewayAmount int64) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		PublicID:           uuid.New(),
		PayerID:            uuid.New(),
		BillableType:       models.BillableCampaign,
		BillableID:         "camp-1",
		Currency:           "BRL",
		AmountCents:        walletApplied + gatewayAmount,
		WalletAppliedCents: walletApplied,
		GatewayAmountCents: gatewayAmount,
		Status:             models.PaymentPaid,
		Gateway:            "asaas",
		GatewayReference:   "ch_1",
	}
	require.NoError(t, store.Create(context.Background(), payment))
	return payment
}

func TestFullRefundClosesPayment(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 0, 10000)

	refunded, err := f.svc.Refund(context.Background(), payment.PublicID, 0, "customer request")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.Equal(t, int64(10000), refunded.RefundedCents())
	require.Len(t, f.gw.payments.refunds, 1)
	assert.Equal(t, int64(10000), f.gw.payments.refunds[0])
}

func TestWalletOnlyRefundSkipsGateway(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 8000, 0)
	payment.Gateway = ""
	payment.GatewayReference = ""
	require.NoError(t, f.store.Update(context.Background(), payment))

	refunded, err := f.svc.Refund(context.Background(), payment.PublicID, 0, "order canceled")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.Empty(t, f.gw.payments.refunds, "no provider call for a wallet-covered payment")

	available, _ := f.wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(8000), available)
}

func TestPartialRefundsAccumulate(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 0, 10000)

	first, err := f.svc.Refund(context.Background(), payment.PublicID, 3000, "partial one")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, first.Status, "partially refunded payment stays paid")
	assert.Equal(t, int64(3000), first.RefundedCents())

	second, err := f.svc.Refund(context.Background(), payment.PublicID, 7000, "partial two")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, second.Status)
	assert.Equal(t, int64(10000), second.RefundedCents())

	assert.Equal(t, []int64{3000, 7000}, f.gw.payments.refunds)
}

func TestRefundBounds(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 0, 10000)

	_, err := f.svc.Refund(context.Background(), payment.PublicID, 12000, "too much")
	var boundsErr *RefundBoundsError
	require.ErrorAs(t, err, &boundsErr)
	assert.Equal(t, int64(10000), boundsErr.RefundableCents)

	_, err = f.svc.Refund(context.Background(), payment.PublicID, 6000, "ok")
	require.NoError(t, err)

	_, err = f.svc.Refund(context.Background(), payment.PublicID, 6000, "now too much")
	require.ErrorAs(t, err, &boundsErr)
	assert.Equal(t, int64(4000), boundsErr.RefundableCents)
}

func TestRefundRequiresPaidState(t *testing.T) {
	f := newRefundFixture()
	payment := &models.Payment{
		PublicID:     uuid.New(),
		PayerID:      uuid.New(),
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  5000,
		Status:       models.PaymentPending,
	}
	require.NoError(t, f.store.Create(context.Background(), payment))

	_, err := f.svc.Refund(context.Background(), payment.PublicID, 0, "nope")
	var stateErr *InvalidPaymentStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestRefundWalletLegAfterGatewayExhausted(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 4000, 6000)

	refunded, err := f.svc.Refund(context.Background(), payment.PublicID, 0, "full")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.Equal(t, []int64{6000}, f.gw.payments.refunds, "gateway leg refunded at the provider")

	available, _ := f.wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(4000), available, "wallet leg credited back")
}

func TestPartialRefundComesFromGatewayFirst(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 4000, 6000)

	_, err := f.svc.Refund(context.Background(), payment.PublicID, 5000, "partial")
	require.NoError(t, err)

	assert.Equal(t, []int64{5000}, f.gw.payments.refunds)
	available, _ := f.wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(0), available, "wallet untouched while gateway leg remains")
}

func TestRefundGatewayErrorLeavesPaymentPaid(t *testing.T) {
	f := newRefundFixture()
	f.gw.payments.refundErr = &gateway.GatewayError{Provider: "asaas", StatusCode: 400, Message: "already refunded"}
	payment := seedPaidPayment(t, f.store, 0, 10000)

	_, err := f.svc.Refund(context.Background(), payment.PublicID, 0, "whoops")
	var gwErr *gateway.GatewayError
	require.ErrorAs(t, err, &gwErr)

	stored, err := f.store.GetByPublicID(context.Background(), payment.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, stored.Status)
	assert.Equal(t, int64(0), stored.RefundedCents())
}

func TestPartialRefundRequiresFeature(t *testing.T) {
	f := newRefundFixture()
	f.gw.features[gateway.FeaturePartialRefund] = false
	payment := seedPaidPayment(t, f.store, 0, 10000)

	_, err := f.svc.Refund(context.Background(), payment.PublicID, 3000, "partial")
	var unavailable *gateway.GatewayUnavailableError
	require.ErrorAs(t, err, &unavailable)

	// A full refund needs no partial support.
	_, err = f.svc.Refund(context.Background(), payment.PublicID, 0, "full")
	require.NoError(t, err)
}

func TestReconcileGatewayRefundFull(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 3000, 7000)

	refunded, err := f.svc.ReconcileGatewayRefund(context.Background(), payment.PublicID, 0, "asaas")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentRefunded, refunded.Status)
	assert.Empty(t, f.gw.payments.refunds, "reconciliation never calls the provider back")

	available, _ := f.wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(3000), available)

	// Replay is a no-op.
	again, err := f.svc.ReconcileGatewayRefund(context.Background(), payment.PublicID, 0, "asaas")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, again.Status)
	available, _ = f.wallet.Available(context.Background(), payment.PayerID)
	assert.Equal(t, int64(3000), available)
}

func TestConcurrentRefundsCannotExceedCharge(t *testing.T) {
	f := newRefundFixture()
	payment := seedPaidPayment(t, f.store, 0, 10000)

	// Hold both requests inside the provider call so each passes the
	// unlocked eligibility checks before either one records.
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.gw.payments.refundHook = func() {
		barrier.Done()
		barrier.Wait()
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.Refund(context.Background(), payment.PublicID, 10000, "customer request")
			errs <- err
		}()
	}

	failures := 0
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures++
			var bounds *RefundBoundsError
			var state *InvalidPaymentStateError
			require.True(t, errors.As(err, &bounds) || errors.As(err, &state), "loser must be rejected under the lock, got %v", err)
		}
	}
	assert.Equal(t, 1, failures, "exactly one of the racing refunds may settle")

	stored, err := f.store.GetByPublicID(context.Background(), payment.PublicID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stored.RefundedCents())
	assert.Equal(t, models.PaymentRefunded, stored.Status)
}
