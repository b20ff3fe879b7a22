package adapters

import (
	"strings"

	"github.com/smallbiznis/usageledger/internal/config"
	"github.com/smallbiznis/usageledger/internal/payment/domain"
)

// Registry builds provider adapters by name.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// FromStripeConfig builds the Stripe adapter from process config. It
// returns a nil adapter when neither credential is set.
func (r *Registry) FromStripeConfig(cfg config.StripeConfig) (domain.Adapter, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" && strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, nil
	}
	return r.NewAdapter(domain.ProviderStripe, domain.AdapterConfig{
		SecretKey:        cfg.SecretKey,
		WebhookSecret:    cfg.WebhookSecret,
		RequestTimeout:   cfg.RequestTimeout,
		WebhookTolerance: cfg.WebhookTolerance,
	})
}
