package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/config"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	"github.com/smallbiznis/usageledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	Adapters      *adapters.Registry
	Repo          paymentdomain.Repository
	Subscriptions subscriptiondomain.Service
	Credits       creditdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           config.StripeConfig
	adapter       paymentdomain.Adapter
	repo          paymentdomain.Repository
	subscriptions subscriptiondomain.Service
	credits       creditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

// NewService builds the outbound payment service. A missing Stripe
// configuration is not fatal; every outbound call then reports
// ErrProviderNotConfigured.
func NewService(p Params) (paymentdomain.Service, error) {
	adapter, err := p.Adapters.FromStripeConfig(p.Cfg.Stripe)
	if err != nil {
		return nil, err
	}
	log := p.Log.Named("payment.service")
	if adapter == nil {
		log.Warn("payment.provider.unconfigured", zap.String("provider", paymentdomain.ProviderStripe))
	}
	return &Service{
		db:            p.DB,
		log:           log,
		cfg:           p.Cfg.Stripe,
		adapter:       adapter,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		credits:       p.Credits,
		obsMetrics:    p.ObsMetrics,
	}, nil
}

func (s *Service) Configured() bool {
	return s.adapter != nil && s.cfg.Configured()
}

func (s *Service) CreateCheckoutSession(ctx context.Context, req paymentdomain.CreateCheckoutRequest) (*paymentdomain.Session, error) {
	if req.TenantID == 0 {
		return nil, paymentdomain.ErrInvalidTenant
	}
	if !s.Configured() {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	planCode := strings.TrimSpace(req.PlanCode)
	packCode := strings.TrimSpace(req.CreditPack)
	if (planCode == "") == (packCode == "") {
		return nil, paymentdomain.ErrInvalidCheckout
	}

	checkout := paymentdomain.CheckoutRequest{
		TenantID:   req.TenantID,
		SuccessURL: firstNonEmpty(req.SuccessURL, s.cfg.SuccessURL),
		CancelURL:  firstNonEmpty(req.CancelURL, s.cfg.CancelURL),
		Metadata: map[string]string{
			paymentdomain.MetadataTenantID: req.TenantID.String(),
		},
	}

	if planCode != "" {
		plan, err := s.subscriptions.ResolvePlan(ctx, paymentdomain.ProviderStripe, planCode)
		if err != nil {
			if errors.Is(err, subscriptiondomain.ErrPlanNotFound) {
				return nil, paymentdomain.ErrPriceNotFound
			}
			return nil, err
		}
		checkout.Mode = paymentdomain.CheckoutModeSubscription
		checkout.PriceID = plan.ProviderPriceID
		checkout.Metadata[paymentdomain.MetadataPlanCode] = plan.Code
	} else {
		pack, err := s.credits.GetPack(ctx, packCode)
		if err != nil {
			if errors.Is(err, creditdomain.ErrPackNotFound) || errors.Is(err, creditdomain.ErrInvalidPackCode) {
				return nil, paymentdomain.ErrPriceNotFound
			}
			return nil, err
		}
		if pack.Provider != paymentdomain.ProviderStripe {
			return nil, paymentdomain.ErrPriceNotFound
		}
		checkout.Mode = paymentdomain.CheckoutModePayment
		checkout.PriceID = pack.ProviderPriceID
		checkout.Quantity = 1
		checkout.Metadata[paymentdomain.MetadataCreditPack] = pack.Code
	}

	customer, err := s.repo.FindCustomerByTenant(ctx, s.db, req.TenantID, paymentdomain.ProviderStripe)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		checkout.ProviderCustomerID = customer.ProviderCustomerID
	}

	session, err := s.adapter.CreateCheckoutSession(ctx, checkout)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Warn("payment.checkout.failed",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("mode", checkout.Mode),
			zap.Error(err),
		)
		return nil, err
	}
	obslogger.WithContext(ctx, s.log).Info("payment.checkout.created",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("mode", checkout.Mode),
		zap.String("session_id", session.ID),
	)
	return session, nil
}

func (s *Service) CreatePortalSession(ctx context.Context, req paymentdomain.CreatePortalRequest) (*paymentdomain.Session, error) {
	if req.TenantID == 0 {
		return nil, paymentdomain.ErrInvalidTenant
	}
	if !s.Configured() {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	customerID, err := s.customerFor(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	return s.adapter.CreatePortalSession(ctx, paymentdomain.PortalRequest{
		ProviderCustomerID: customerID,
		ReturnURL:          firstNonEmpty(req.ReturnURL, s.cfg.PortalReturnURL),
	})
}

// customerFor prefers the recorded billing customer and falls back to the
// customer on the tenant's current subscription.
func (s *Service) customerFor(ctx context.Context, tenantID snowflake.ID) (string, error) {
	customer, err := s.repo.FindCustomerByTenant(ctx, s.db, tenantID, paymentdomain.ProviderStripe)
	if err != nil {
		return "", err
	}
	if customer != nil {
		return customer.ProviderCustomerID, nil
	}
	sub, err := s.subscriptions.GetCurrent(ctx, s.db, tenantID)
	if err != nil {
		return "", err
	}
	if sub != nil && sub.ProviderCustomerID != "" {
		return sub.ProviderCustomerID, nil
	}
	return "", paymentdomain.ErrCustomerNotFound
}

// PushUsage forwards one rated usage record as a provider meter event.
func (s *Service) PushUsage(ctx context.Context, usage paymentdomain.MeteredUsage) error {
	if !s.Configured() {
		return paymentdomain.ErrProviderNotConfigured
	}
	if usage.ProviderItemID == "" {
		return paymentdomain.ErrMissingMeteredItem
	}
	if usage.ProviderCustomerID == "" {
		return paymentdomain.ErrCustomerNotFound
	}

	err := s.adapter.RecordMeteredUsage(ctx, usage)
	s.obsMetrics.RecordProviderPush(ctx, paymentdomain.ProviderStripe, err)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("tenant_id", usage.TenantID.String()),
		zap.String("idempotency_key", usage.IdempotencyKey),
		zap.String("event_name", usage.EventName),
	)
	if err != nil {
		log.Warn("payment.usage.push_failed", zap.Error(err))
		return err
	}
	log.Debug("payment.usage.pushed", zap.String("units", usage.Units.String()))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
