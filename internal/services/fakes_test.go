package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
	"payment-engine/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeStore is an in-memory PaymentStore.
type fakeStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: make(map[uuid.UUID]*models.Payment)}
}

func clonePayment(p *models.Payment) *models.Payment {
	out := *p
	if p.Meta != nil {
		data := make(models.JSONB, len(p.Meta))
		for k, v := range p.Meta {
			data[k] = v
		}
		out.Meta = data
	}
	return &out
}

func (s *fakeStore) Create(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.PublicID == uuid.Nil {
		payment.PublicID = uuid.New()
	}
	s.payments[payment.PublicID] = clonePayment(payment)
	return nil
}

func (s *fakeStore) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[publicID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *fakeStore) GetByGatewayReference(ctx context.Context, gw, reference string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Gateway == gw && p.GatewayReference == reference {
			return clonePayment(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) Update(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[payment.PublicID] = clonePayment(payment)
	return nil
}

func (s *fakeStore) ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]models.Payment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.PayerID == payerID {
			out = append(out, *clonePayment(p))
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) WithPaymentLock(ctx context.Context, publicID uuid.UUID, fn func(payment *models.Payment) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payments[publicID]
	if !ok {
		return repository.ErrNotFound
	}
	working := clonePayment(stored)
	if err := fn(working); err != nil {
		return err
	}
	s.payments[publicID] = working
	return nil
}

// fakeWallet is an in-memory Wallet with real hold semantics and the
// same (kind, ref) deduplication as the production ledger.
type fakeWallet struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	held     map[uuid.UUID]int64
	applied  map[string]bool
	ops      []string
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balances: make(map[uuid.UUID]int64),
		held:     make(map[uuid.UUID]int64),
		applied:  make(map[string]bool),
	}
}

func (w *fakeWallet) deposit(payerID uuid.UUID, cents int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[payerID] += cents
}

func (w *fakeWallet) once(kind, ref string, fn func() error) error {
	key := kind + ":" + ref
	if ref != "" && w.applied[key] {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	w.applied[key] = true
	w.ops = append(w.ops, key)
	return nil
}

func (w *fakeWallet) Hold(ctx context.Context, payerID uuid.UUID, amountCents int64, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.once("hold", ref, func() error {
		if w.balances[payerID]-w.held[payerID] < amountCents {
			return fmt.Errorf("insufficient funds")
		}
		w.held[payerID] += amountCents
		return nil
	})
}

func (w *fakeWallet) ReleaseHold(ctx context.Context, payerID uuid.UUID, amountCents int64, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.once("release", ref, func() error {
		w.held[payerID] -= amountCents
		return nil
	})
}

func (w *fakeWallet) Debit(ctx context.Context, payerID uuid.UUID, amountCents int64, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.once("debit", ref, func() error {
		w.balances[payerID] -= amountCents
		w.held[payerID] -= amountCents
		return nil
	})
}

func (w *fakeWallet) Credit(ctx context.Context, payerID uuid.UUID, amountCents int64, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.once("credit", ref, func() error {
		w.balances[payerID] += amountCents
		return nil
	})
}

func (w *fakeWallet) Available(ctx context.Context, payerID uuid.UUID) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[payerID] - w.held[payerID], nil
}

// fakeFulfillment counts fulfillments per payment.
type fakeFulfillment struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
	fail   error
}

func newFakeFulfillment() *fakeFulfillment {
	return &fakeFulfillment{counts: make(map[uuid.UUID]int)}
}

func (f *fakeFulfillment) Fulfill(ctx context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.counts[payment.PublicID]++
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu       sync.Mutex
	settled  []uuid.UUID
	failed   []uuid.UUID
	refunded []uuid.UUID
}

func (p *fakePublisher) PaymentSettled(payment *models.Payment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = append(p.settled, payment.PublicID)
}

func (p *fakePublisher) PaymentFailed(payment *models.Payment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, payment.PublicID)
}

func (p *fakePublisher) PaymentRefunded(payment *models.Payment, refundedCents int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunded = append(p.refunded, payment.PublicID)
}

// fakePaymentService scripts provider responses.
type fakePaymentService struct {
	mu           sync.Mutex
	chargeStatus gateway.ChargeStatus
	chargeErr    error
	refundErr    error
	cancelErr    error
	pixErr       error
	refundHook   func()

	charges []gateway.ChargeRequest
	refunds []int64
	cancels []string
}

func (s *fakePaymentService) CreateCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Charge, error) {
	if s.chargeErr != nil {
		return nil, s.chargeErr
	}
	s.mu.Lock()
	s.charges = append(s.charges, *req)
	s.mu.Unlock()
	status := s.chargeStatus
	if status == "" {
		status = gateway.ChargePending
	}
	return &gateway.Charge{
		Reference:   "ch_" + req.PaymentRef,
		Status:      status,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}, nil
}

func (s *fakePaymentService) Find(ctx context.Context, reference string) (*gateway.Charge, error) {
	return &gateway.Charge{Reference: reference, Status: gateway.ChargePending}, nil
}

func (s *fakePaymentService) Cancel(ctx context.Context, reference string) (*gateway.Charge, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	s.mu.Lock()
	s.cancels = append(s.cancels, reference)
	s.mu.Unlock()
	return &gateway.Charge{Reference: reference, Status: gateway.ChargeCanceled}, nil
}

func (s *fakePaymentService) Refund(ctx context.Context, reference string, amountCents int64) (*gateway.RefundReceipt, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	if s.refundHook != nil {
		s.refundHook()
	}
	s.mu.Lock()
	s.refunds = append(s.refunds, amountCents)
	s.mu.Unlock()
	return &gateway.RefundReceipt{Reference: "rf_" + reference, AmountCents: amountCents, Status: "done"}, nil
}

func (s *fakePaymentService) GetPixQrCode(ctx context.Context, reference string) (*gateway.PixQRCode, error) {
	if s.pixErr != nil {
		return nil, s.pixErr
	}
	return &gateway.PixQRCode{Payload: "pix-copy-paste", ImageBase64: "aW1n"}, nil
}

func (s *fakePaymentService) PayWithCreditCard(ctx context.Context, reference string, card *gateway.CreditCard) (*gateway.Charge, error) {
	return &gateway.Charge{Reference: reference, Status: gateway.ChargeConfirmed}, nil
}

// fakeGateway implements the Gateway contract.
type fakeGateway struct {
	name     string
	payments *fakePaymentService
	features map[gateway.Feature]bool
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{
		name:     name,
		payments: &fakePaymentService{},
		features: map[gateway.Feature]bool{
			gateway.FeaturePix:           true,
			gateway.FeatureCreditCard:    true,
			gateway.FeatureRefunds:       true,
			gateway.FeaturePartialRefund: true,
		},
	}
}

func (g *fakeGateway) Name() string                         { return g.name }
func (g *fakeGateway) Sandbox() bool                        { return true }
func (g *fakeGateway) Supports(f gateway.Feature) bool      { return g.features[f] }
func (g *fakeGateway) Payments() gateway.PaymentService     { return g.payments }
func (g *fakeGateway) IsAvailable(ctx context.Context) bool { return true }

func (g *fakeGateway) Require(f gateway.Feature) error {
	if !g.features[f] {
		return gateway.Unavailable(g.name, "feature disabled: "+string(f), nil)
	}
	return nil
}

// fakeGateways resolves fake gateways by name.
type fakeGateways struct {
	gateways    map[string]*fakeGateway
	defaultName string
}

func newFakeGateways(defaults ...*fakeGateway) *fakeGateways {
	out := &fakeGateways{gateways: make(map[string]*fakeGateway)}
	for i, g := range defaults {
		if i == 0 {
			out.defaultName = g.name
		}
		out.gateways[g.name] = g
	}
	return out
}

func (r *fakeGateways) Resolve(name string) (Gateway, error) {
	if name == "" {
		name = r.defaultName
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, gateway.Unavailable(name, "provider not registered", nil)
	}
	return g, nil
}

func (r *fakeGateways) DefaultName() string { return r.defaultName }

func (r *fakeGateways) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}
