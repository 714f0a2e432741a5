package billable

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-engine/internal/models"
)

type recordingFulfiller struct {
	calls int
	err   error
}

func (f *recordingFulfiller) OnPaymentPaid(ctx context.Context, payment *models.Payment) error {
	f.calls++
	return f.err
}

type recordingCreditor struct {
	payerID uuid.UUID
	amount  int64
	ref     string
}

func (c *recordingCreditor) Credit(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error {
	c.payerID = payerID
	c.amount = amountCents
	c.ref = paymentRef
	return nil
}

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRegistry(logger)
}

func TestFulfillRoutesByBillableType(t *testing.T) {
	registry := newTestRegistry()
	campaigns := &recordingFulfiller{}
	registry.Register(models.BillableCampaign, campaigns)

	err := registry.Fulfill(context.Background(), &models.Payment{BillableType: models.BillableCampaign})
	require.NoError(t, err)
	assert.Equal(t, 1, campaigns.calls)
}

func TestFulfillSkipsUnregisteredTypes(t *testing.T) {
	registry := newTestRegistry()
	err := registry.Fulfill(context.Background(), &models.Payment{BillableType: models.BillableCampaign})
	assert.NoError(t, err)
}

func TestFulfillWrapsFulfillerError(t *testing.T) {
	registry := newTestRegistry()
	boom := errors.New("campaign store down")
	registry.Register(models.BillableCampaign, &recordingFulfiller{err: boom})

	err := registry.Fulfill(context.Background(), &models.Payment{
		BillableType: models.BillableCampaign,
		BillableID:   "camp_42",
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "camp_42")
}

func TestWalletTopUpCreditsFullAmount(t *testing.T) {
	creditor := &recordingCreditor{}
	fulfiller := NewWalletTopUpFulfiller(creditor)

	payment := &models.Payment{
		PublicID:    uuid.New(),
		PayerID:     uuid.New(),
		AmountCents: 5000,
	}
	require.NoError(t, fulfiller.OnPaymentPaid(context.Background(), payment))
	assert.Equal(t, payment.PayerID, creditor.payerID)
	assert.Equal(t, int64(5000), creditor.amount)
	assert.Equal(t, "topup:"+payment.PublicID.String(), creditor.ref)
}
