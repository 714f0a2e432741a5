package gateway

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"payment-engine/internal/cache"
	"payment-engine/internal/config"
)

// BuildRegistry constructs a Manager for every enabled provider in the
// configuration and returns the populated registry. Unknown provider
// names fail start-up instead of silently dropping the entry.
func BuildRegistry(cfg config.PaymentsConfig, health *cache.HealthCache, logger *logrus.Logger) (*Registry, error) {
	registry := NewRegistry(cfg.DefaultGateway)

	for name, gwCfg := range cfg.Gateways {
		if !gwCfg.Enabled {
			continue
		}
		prov, err := newProvider(name, gwCfg, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(NewManager(name, gwCfg, prov, health, logger))
		logger.WithFields(logrus.Fields{
			"provider": name,
			"sandbox":  gwCfg.Sandbox,
		}).Info("payment gateway registered")
	}

	if _, err := registry.Default(); err != nil {
		return nil, fmt.Errorf("default gateway %q is not enabled", cfg.DefaultGateway)
	}
	return registry, nil
}

func newProvider(name string, cfg config.GatewayConfig, logger *logrus.Logger) (provider, error) {
	switch name {
	case "asaas":
		return newAsaasProvider(cfg, logger), nil
	case "stripe":
		return newStripeProvider(cfg.APIKey), nil
	case "razorpay":
		return newRazorpayProvider(cfg.APIKey, cfg.APISecret), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway: %s", name)
	}
}
