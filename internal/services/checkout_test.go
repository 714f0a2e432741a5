package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
)

type checkoutFixture struct {
	svc       *CheckoutService
	store     *fakeStore
	wallet    *fakeWallet
	gateways  *fakeGateways
	gw        *fakeGateway
	fulfill   *fakeFulfillment
	publisher *fakePublisher
}

func newCheckoutFixture() *checkoutFixture {
	store := newFakeStore()
	wallet := newFakeWallet()
	fulfill := newFakeFulfillment()
	publisher := &fakePublisher{}
	gw := newFakeGateway("asaas")
	gateways := newFakeGateways(gw)

	settlement := NewSettlementService(store, wallet, fulfill, publisher, testLogger())
	svc := NewCheckoutService(store, wallet, wallet, gateways, settlement, testLogger())
	return &checkoutFixture{
		svc:       svc,
		store:     store,
		wallet:    wallet,
		gateways:  gateways,
		gw:        gw,
		fulfill:   fulfill,
		publisher: publisher,
	}
}

func TestCheckoutWalletOnlySettlesImmediately(t *testing.T) {
	f := newCheckoutFixture()
	payerID := uuid.New()
	f.wallet.deposit(payerID, 15000)

	resp, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  10000,
		UseWallet:    true,
	})
	require.NoError(t, err)

	payment := resp.Payment
	assert.Equal(t, models.PaymentPaid, payment.Status)
	assert.Equal(t, models.MethodWallet, payment.Method)
	assert.Equal(t, int64(10000), payment.WalletAppliedCents)
	assert.Equal(t, int64(0), payment.GatewayAmountCents)
	assert.Empty(t, payment.Gateway)

	available, _ := f.wallet.Available(context.Background(), payerID)
	assert.Equal(t, int64(5000), available)
	assert.Equal(t, 1, f.fulfill.counts[payment.PublicID])
	assert.Empty(t, f.gw.payments.charges, "no gateway charge for a wallet-covered payment")
}

func TestCheckoutSplitsWalletAndGateway(t *testing.T) {
	f := newCheckoutFixture()
	payerID := uuid.New()
	f.wallet.deposit(payerID, 3000)

	resp, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  10000,
		Method:       models.MethodPix,
		UseWallet:    true,
	})
	require.NoError(t, err)

	payment := resp.Payment
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, int64(3000), payment.WalletAppliedCents)
	assert.Equal(t, int64(7000), payment.GatewayAmountCents)
	assert.Equal(t, "asaas", payment.Gateway)
	assert.NotEmpty(t, payment.GatewayReference)

	require.Len(t, f.gw.payments.charges, 1)
	assert.Equal(t, int64(7000), f.gw.payments.charges[0].AmountCents)

	// The wallet portion is held, not spent, until settlement.
	available, _ := f.wallet.Available(context.Background(), payerID)
	assert.Equal(t, int64(0), available)
	assert.Equal(t, 0, f.fulfill.counts[payment.PublicID])

	require.NotNil(t, resp.Pix)
	assert.Equal(t, "pix-copy-paste", resp.Pix.Payload)
}

func TestCheckoutWithoutWalletChargesFullAmount(t *testing.T) {
	f := newCheckoutFixture()
	payerID := uuid.New()
	f.wallet.deposit(payerID, 50000)

	resp, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-2",
		AmountCents:  8000,
		Method:       models.MethodPix,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), resp.Payment.WalletAppliedCents)
	assert.Equal(t, int64(8000), resp.Payment.GatewayAmountCents)

	available, _ := f.wallet.Available(context.Background(), payerID)
	assert.Equal(t, int64(50000), available, "wallet untouched when useWallet is false")
}

func TestCheckoutGatewayFailureReleasesHold(t *testing.T) {
	f := newCheckoutFixture()
	f.gw.payments.chargeErr = gateway.Unavailable("asaas", "connection failed", nil)
	payerID := uuid.New()
	f.wallet.deposit(payerID, 3000)

	_, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  10000,
		UseWallet:    true,
	})
	var unavailable *gateway.GatewayUnavailableError
	require.ErrorAs(t, err, &unavailable)

	available, _ := f.wallet.Available(context.Background(), payerID)
	assert.Equal(t, int64(3000), available, "hold released after gateway failure")
}

func TestCheckoutConfirmedChargeSettles(t *testing.T) {
	f := newCheckoutFixture()
	f.gw.payments.chargeStatus = gateway.ChargeConfirmed
	payerID := uuid.New()

	resp, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  5000,
		Method:       models.MethodPix,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, resp.Payment.Status)
	assert.Equal(t, 1, f.fulfill.counts[resp.Payment.PublicID])
}

func TestCheckoutValidation(t *testing.T) {
	f := newCheckoutFixture()

	cases := []struct {
		name string
		req  models.CheckoutRequest
	}{
		{"zero amount", models.CheckoutRequest{PayerID: uuid.New(), BillableType: models.BillableCampaign, BillableID: "c", AmountCents: 0}},
		{"unknown billable", models.CheckoutRequest{PayerID: uuid.New(), BillableType: "subscription", BillableID: "c", AmountCents: 100}},
		{"wallet-funded top-up", models.CheckoutRequest{PayerID: uuid.New(), BillableType: models.BillableWalletTopUp, BillableID: "w", AmountCents: 100, UseWallet: true}},
		{"wallet as method", models.CheckoutRequest{PayerID: uuid.New(), BillableType: models.BillableCampaign, BillableID: "c", AmountCents: 100, Method: models.MethodWallet}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), &tc.req)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestCheckoutTopUpCreditsWallet(t *testing.T) {
	store := newFakeStore()
	wallet := newFakeWallet()
	publisher := &fakePublisher{}
	gw := newFakeGateway("asaas")
	gw.payments.chargeStatus = gateway.ChargeConfirmed
	gateways := newFakeGateways(gw)

	// Real top-up fulfillment: credit the paid amount to the wallet.
	fulfill := &topUpFulfillment{wallet: wallet}
	settlement := NewSettlementService(store, wallet, fulfill, publisher, testLogger())
	svc := NewCheckoutService(store, wallet, wallet, gateways, settlement, testLogger())

	payerID := uuid.New()
	resp, err := svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableWalletTopUp,
		BillableID:   payerID.String(),
		AmountCents:  20000,
		Method:       models.MethodPix,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, resp.Payment.Status)

	available, _ := wallet.Available(context.Background(), payerID)
	assert.Equal(t, int64(20000), available)
}

type topUpFulfillment struct {
	wallet *fakeWallet
}

func (f *topUpFulfillment) Fulfill(ctx context.Context, payment *models.Payment) error {
	return f.wallet.Credit(ctx, payment.PayerID, payment.AmountCents, "topup:"+payment.PublicID.String())
}

func TestCancelPendingPaymentCancelsGatewayCharge(t *testing.T) {
	f := newCheckoutFixture()
	payerID := uuid.New()

	resp, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  5000,
		Method:       models.MethodPix,
	})
	require.NoError(t, err)

	canceled, err := f.svc.Cancel(context.Background(), resp.Payment.PublicID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCanceled, canceled.Status)
	assert.Len(t, f.gw.payments.cancels, 1)
}

func TestCancelPaidPaymentFails(t *testing.T) {
	f := newCheckoutFixture()
	f.gw.payments.chargeStatus = gateway.ChargeConfirmed
	payerID := uuid.New()

	resp, err := f.svc.Checkout(context.Background(), &models.CheckoutRequest{
		PayerID:      payerID,
		BillableType: models.BillableCampaign,
		BillableID:   "camp-1",
		AmountCents:  5000,
		Method:       models.MethodPix,
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), resp.Payment.PublicID, "too late")
	var stateErr *InvalidPaymentStateError
	assert.ErrorAs(t, err, &stateErr)
}
