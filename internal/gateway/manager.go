package gateway

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"payment-engine/internal/cache"
	"payment-engine/internal/config"
)

// Manager owns the lazily-constructed service set for one provider and
// answers health and feature questions about it. Service instances are
// built on first use and cached for the life of the process, mirroring
// how gateway instances are cached per configuration.
type Manager struct {
	name     string
	cfg      config.GatewayConfig
	prov     provider
	health   *cache.HealthCache
	logger   *logrus.Entry
	features map[Feature]bool

	mu        sync.Mutex
	payments  PaymentService
	customers CustomerService
}

// NewManager wires a provider integration with its configuration. The
// feature set is the provider's defaults, narrowed by cfg.Features when
// that list is non-empty.
func NewManager(name string, cfg config.GatewayConfig, prov provider, health *cache.HealthCache, logger *logrus.Logger) *Manager {
	features := make(map[Feature]bool)
	for _, f := range prov.DefaultFeatures() {
		features[f] = true
	}
	if len(cfg.Features) > 0 {
		enabled := make(map[Feature]bool)
		for _, f := range cfg.Features {
			if features[Feature(f)] {
				enabled[Feature(f)] = true
			}
		}
		features = enabled
	}

	return &Manager{
		name:     name,
		cfg:      cfg,
		prov:     prov,
		health:   health,
		logger:   logger.WithField("component", "gateway.manager").WithField("provider", name),
		features: features,
	}
}

// Name returns the provider name.
func (m *Manager) Name() string {
	return m.name
}

// Sandbox reports whether the provider runs against its test
// environment.
func (m *Manager) Sandbox() bool {
	return m.cfg.Sandbox
}

// Payments returns the provider's charge service, constructing it on
// first use.
func (m *Manager) Payments() PaymentService {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payments == nil {
		m.payments = m.prov.Payments()
	}
	return m.payments
}

// Customers returns the provider's customer service, constructing it on
// first use.
func (m *Manager) Customers() CustomerService {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.customers == nil {
		m.customers = m.prov.Customers()
	}
	return m.customers
}

// Supports reports whether the provider advertises a feature.
func (m *Manager) Supports(f Feature) bool {
	return m.features[f]
}

// Features lists the enabled features.
func (m *Manager) Features() []Feature {
	out := make([]Feature, 0, len(m.features))
	for f := range m.features {
		out = append(out, f)
	}
	return out
}

// Require fails fast with a GatewayUnavailableError when a feature is
// disabled, so callers never reach the provider with an unsupported
// operation.
func (m *Manager) Require(f Feature) error {
	if !m.Supports(f) {
		return Unavailable(m.name, "feature disabled: "+string(f), nil)
	}
	return nil
}

// IsAvailable probes the provider with a lightweight authenticated call.
// Results are cached with a short TTL.
func (m *Manager) IsAvailable(ctx context.Context) bool {
	if up, ok := m.health.Get(ctx, m.name); ok {
		return up
	}

	err := m.prov.Ping(ctx)
	available := err == nil
	if err != nil {
		m.logger.WithError(err).Warn("gateway health probe failed")
	}
	m.health.Set(ctx, m.name, available)
	return available
}
