package services

import (
	"context"

	"github.com/google/uuid"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
)

// PaymentStore is the persistence contract the services need from the
// repository layer.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Payment, error)
	GetByGatewayReference(ctx context.Context, gateway, reference string) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment) error
	ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]models.Payment, int64, error)

	// WithPaymentLock runs fn on the row-locked payment and persists it
	// when fn succeeds.
	WithPaymentLock(ctx context.Context, publicID uuid.UUID, fn func(payment *models.Payment) error) error
}

// Wallet is the ledger contract. All operations are idempotent per
// (operation kind, payment ref).
type Wallet interface {
	Hold(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error
	ReleaseHold(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error
	Debit(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error
	Credit(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error
}

// Fulfillment delivers what a paid payment bought.
type Fulfillment interface {
	Fulfill(ctx context.Context, payment *models.Payment) error
}

// EventPublisher announces settlement outcomes. Implementations must be
// best-effort; publishing never fails the settlement.
type EventPublisher interface {
	PaymentSettled(payment *models.Payment)
	PaymentFailed(payment *models.Payment)
	PaymentRefunded(payment *models.Payment, refundedCents int64)
}

// Gateway is one resolved provider as the services see it.
type Gateway interface {
	Name() string
	Sandbox() bool
	Supports(f gateway.Feature) bool
	Require(f gateway.Feature) error
	Payments() gateway.PaymentService
	IsAvailable(ctx context.Context) bool
}

// Gateways resolves provider names to Gateway instances.
type Gateways interface {
	Resolve(name string) (Gateway, error)
	DefaultName() string
	Names() []string
}

type registryGateways struct {
	registry *gateway.Registry
}

// NewGateways adapts the concrete gateway registry to the Gateways
// contract.
func NewGateways(registry *gateway.Registry) Gateways {
	return &registryGateways{registry: registry}
}

func (g *registryGateways) Resolve(name string) (Gateway, error) {
	m, err := g.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (g *registryGateways) DefaultName() string { return g.registry.DefaultName() }

func (g *registryGateways) Names() []string { return g.registry.Names() }
