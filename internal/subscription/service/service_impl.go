package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"github.com/smallbiznis/usageledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreatePlan(ctx context.Context, req subscriptiondomain.CreatePlanRequest) (*subscriptiondomain.Plan, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, subscriptiondomain.ErrInvalidPlanCode
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, subscriptiondomain.ErrInvalidProvider
	}
	priceID := strings.TrimSpace(req.ProviderPriceID)
	if priceID == "" {
		return nil, subscriptiondomain.ErrInvalidPriceID
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, subscriptiondomain.ErrInvalidCurrency
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = code
	}
	interval := strings.ToLower(strings.TrimSpace(req.BillingInterval))
	if interval == "" {
		interval = "month"
	}

	now := s.clock.Now()
	plan := &subscriptiondomain.Plan{
		ID:              s.genID.Generate(),
		Code:            code,
		Name:            name,
		Provider:        provider,
		ProviderPriceID: priceID,
		Currency:        currency,
		BillingInterval: interval,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertPlan(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, subscriptiondomain.ErrPlanExists
		}
		return nil, err
	}
	return plan, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]*subscriptiondomain.Plan, error) {
	return s.repo.ListPlans(ctx, s.db)
}

func (s *Service) ResolvePlan(ctx context.Context, provider, ref string) (*subscriptiondomain.Plan, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, subscriptiondomain.ErrPlanNotFound
	}
	plan, err := s.repo.FindPlanByCode(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		plan, err = s.repo.FindPlanByProviderPrice(ctx, s.db, strings.ToLower(provider), ref)
		if err != nil {
			return nil, err
		}
	}
	if plan == nil || !plan.Active {
		return nil, subscriptiondomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) GetCurrent(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	if conn == nil {
		conn = s.db
	}
	return s.repo.FindCurrent(ctx, conn, tenantID)
}

func (s *Service) List(ctx context.Context, tenantID snowflake.ID) ([]*subscriptiondomain.Subscription, error) {
	if tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}

func (s *Service) FindByProviderSubscriptionID(ctx context.Context, conn *gorm.DB, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	if strings.TrimSpace(providerSubscriptionID) == "" {
		return nil, nil
	}
	if conn == nil {
		conn = s.db
	}
	return s.repo.FindByProviderSubscriptionID(ctx, conn, provider, providerSubscriptionID)
}

func (s *Service) FindByProviderCustomerID(ctx context.Context, conn *gorm.DB, provider, providerCustomerID string) (*subscriptiondomain.Subscription, error) {
	if strings.TrimSpace(providerCustomerID) == "" {
		return nil, nil
	}
	if conn == nil {
		conn = s.db
	}
	return s.repo.FindByProviderCustomerID(ctx, conn, provider, providerCustomerID)
}

// Upsert matches on (tenant, provider, provider subscription id) and creates
// the row when absent. The plan is resolved from the provider price id.
func (s *Service) Upsert(ctx context.Context, tx *gorm.DB, req subscriptiondomain.UpsertRequest) (*subscriptiondomain.Subscription, bool, error) {
	if req.TenantID == 0 {
		return nil, false, subscriptiondomain.ErrInvalidTenant
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, false, subscriptiondomain.ErrInvalidProvider
	}
	providerSubID := strings.TrimSpace(req.ProviderSubscriptionID)
	if providerSubID == "" {
		return nil, false, subscriptiondomain.ErrInvalidSubscriptionID
	}
	if req.Status != "" && !validStatus(req.Status) {
		return nil, false, subscriptiondomain.ErrInvalidStatus
	}

	var planID *snowflake.ID
	if priceID := strings.TrimSpace(req.ProviderPriceID); priceID != "" {
		plan, err := s.repo.FindPlanByProviderPrice(ctx, tx, provider, priceID)
		if err != nil {
			return nil, false, err
		}
		if plan != nil {
			planID = &plan.ID
		} else {
			s.logger(ctx).Warn("subscription.plan.unknown_price",
				zap.String("provider", provider),
				zap.String("price_id", priceID),
			)
		}
	}

	now := s.clock.Now()
	existing, err := s.repo.FindByTenantProviderID(ctx, tx, req.TenantID, provider, providerSubID)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		sub := &subscriptiondomain.Subscription{
			ID:                     s.genID.Generate(),
			TenantID:               req.TenantID,
			PlanID:                 planID,
			Status:                 orStatus(req.Status, subscriptiondomain.SubscriptionStatusActive),
			Provider:               provider,
			ProviderSubscriptionID: providerSubID,
			ProviderCustomerID:     strings.TrimSpace(req.ProviderCustomerID),
			ProviderMeteredItemID:  strings.TrimSpace(req.ProviderMeteredItemID),
			Currency:               orDefault(strings.ToLower(req.Currency), "usd"),
			BillingInterval:        strings.ToLower(strings.TrimSpace(req.BillingInterval)),
			CurrentPeriodStart:     req.CurrentPeriodStart,
			CurrentPeriodEnd:       req.CurrentPeriodEnd,
			CancelAtPeriodEnd:      req.CancelAtPeriodEnd != nil && *req.CancelAtPeriodEnd,
			StartedAt:              now,
			CanceledAt:             req.CanceledAt,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if req.StartedAt != nil && !req.StartedAt.IsZero() {
			sub.StartedAt = req.StartedAt.UTC()
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return nil, false, err
		}
		s.logger(ctx).Info("subscription.created",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("provider_subscription_id", providerSubID),
			zap.String("status", string(sub.Status)),
		)
		return sub, true, nil
	}

	sub := *existing
	if planID != nil {
		sub.PlanID = planID
	}
	if req.Status != "" {
		sub.Status = req.Status
	}
	if v := strings.TrimSpace(req.ProviderCustomerID); v != "" {
		sub.ProviderCustomerID = v
	}
	if v := strings.TrimSpace(req.ProviderMeteredItemID); v != "" {
		sub.ProviderMeteredItemID = v
	}
	if v := strings.ToLower(strings.TrimSpace(req.Currency)); v != "" {
		sub.Currency = v
	}
	if v := strings.ToLower(strings.TrimSpace(req.BillingInterval)); v != "" {
		sub.BillingInterval = v
	}
	if req.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = req.CurrentPeriodStart
	}
	if req.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = req.CurrentPeriodEnd
	}
	if req.StartedAt != nil && !req.StartedAt.IsZero() {
		sub.StartedAt = req.StartedAt.UTC()
	}
	if req.CanceledAt != nil {
		sub.CanceledAt = req.CanceledAt
	}
	if req.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *req.CancelAtPeriodEnd
	}
	sub.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, &sub); err != nil {
		return nil, false, err
	}
	if sub.Status != existing.Status {
		s.logger(ctx).Info("subscription.status.changed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("from", string(existing.Status)),
			zap.String("to", string(sub.Status)),
		)
	}
	return &sub, false, nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func validStatus(status subscriptiondomain.SubscriptionStatus) bool {
	switch status {
	case subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusPastDue,
		subscriptiondomain.SubscriptionStatusCanceled:
		return true
	default:
		return false
	}
}

func orStatus(status, def subscriptiondomain.SubscriptionStatus) subscriptiondomain.SubscriptionStatus {
	if status == "" {
		return def
	}
	return status
}

func orDefault(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}
