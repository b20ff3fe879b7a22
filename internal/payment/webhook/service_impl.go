package webhook

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	"github.com/smallbiznis/usageledger/internal/config"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	"github.com/smallbiznis/usageledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	"github.com/smallbiznis/usageledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Adapters      *adapters.Registry
	Repo          paymentdomain.Repository
	Subscriptions subscriptiondomain.Service
	Invoices      invoicedomain.Service
	Credits       creditdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	adapters      *adapters.Registry
	adapter       paymentdomain.Adapter
	repo          paymentdomain.Repository
	subscriptions subscriptiondomain.Service
	invoices      invoicedomain.Service
	credits       creditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) (paymentdomain.WebhookService, error) {
	adapter, err := p.Adapters.FromStripeConfig(p.Cfg.Stripe)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.webhook"),
		genID:         p.GenID,
		clock:         p.Clock,
		adapters:      p.Adapters,
		adapter:       adapter,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		invoices:      p.Invoices,
		credits:       p.Credits,
		obsMetrics:    p.ObsMetrics,
	}, nil
}

// HandleWebhook verifies one provider delivery and applies it. Events whose
// tenant cannot be resolved are not recorded; ErrTenantUnresolved asks the
// provider to redeliver later.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*paymentdomain.WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	if s.adapter == nil {
		return nil, paymentdomain.ErrProviderNotConfigured
	}

	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))
	event, err := s.adapter.ParseWebhook(ctx, payload, signature)
	if err != nil {
		log.Warn("payment.webhook.rejected", zap.Error(err))
		s.obsMetrics.RecordProviderEvent(ctx, provider, "", "rejected")
		return nil, err
	}
	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	result := &paymentdomain.WebhookResult{EventID: event.ID}
	if event.Category == paymentdomain.WebhookIgnored {
		log.Debug("payment.webhook.ignored")
		s.obsMetrics.RecordProviderEvent(ctx, provider, event.Type, string(paymentdomain.WebhookSkipped))
		result.Status = paymentdomain.WebhookSkipped
		return result, nil
	}

	tenantID, err := s.resolveTenant(ctx, provider, event.Hints())
	if err != nil {
		return nil, err
	}
	if tenantID == 0 {
		hints := event.Hints()
		log.Warn("payment.webhook.tenant_unresolved",
			zap.String("provider_subscription_id", hints.ProviderSubscriptionID),
			zap.String("provider_customer_id", hints.ProviderCustomerID),
		)
		s.obsMetrics.RecordProviderEvent(ctx, provider, event.Type, "unresolved")
		return nil, paymentdomain.ErrTenantUnresolved
	}
	result.TenantID = tenantID
	log = log.With(zap.String("tenant_id", tenantID.String()))

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, tenantID); err != nil {
			return err
		}
		record := &paymentdomain.ProviderEvent{
			ID:              s.genID.Generate(),
			TenantID:        tenantID,
			Provider:        provider,
			ProviderEventID: event.ID,
			EventType:       event.Type,
			Status:          paymentdomain.ProviderEventReceived,
			Payload:         datatypes.JSON(event.Payload),
			ReceivedAt:      s.clock.Now(),
		}
		inserted, err := s.repo.InsertEvent(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			result.Status = paymentdomain.WebhookDuplicate
			return nil
		}
		if err := s.apply(ctx, tx, provider, tenantID, event); err != nil {
			return err
		}
		if err := s.repo.MarkProcessed(ctx, tx, record.ID, s.clock.Now()); err != nil {
			return err
		}
		result.Status = paymentdomain.WebhookProcessed
		return nil
	})
	if err != nil {
		log.Error("payment.webhook.failed", zap.Error(err))
		s.obsMetrics.RecordProviderEvent(ctx, provider, event.Type, "failed")
		return nil, err
	}

	log.Info("payment.webhook.handled", zap.String("status", string(result.Status)))
	s.obsMetrics.RecordProviderEvent(ctx, provider, event.Type, string(result.Status))
	return result, nil
}

// resolveTenant walks metadata, client reference, the subscription by
// provider id, the subscription by customer, then the billing customer.
// Zero means unresolved.
func (s *Service) resolveTenant(ctx context.Context, provider string, hints paymentdomain.TenantHints) (snowflake.ID, error) {
	if id, ok := parseTenant(hints.MetadataTenantID); ok {
		return id, nil
	}
	if id, ok := parseTenant(hints.ClientReferenceID); ok {
		return id, nil
	}
	if hints.ProviderSubscriptionID != "" {
		sub, err := s.subscriptions.FindByProviderSubscriptionID(ctx, s.db, provider, hints.ProviderSubscriptionID)
		if err != nil {
			return 0, err
		}
		if sub != nil {
			return sub.TenantID, nil
		}
	}
	if hints.ProviderCustomerID != "" {
		sub, err := s.subscriptions.FindByProviderCustomerID(ctx, s.db, provider, hints.ProviderCustomerID)
		if err != nil {
			return 0, err
		}
		if sub != nil {
			return sub.TenantID, nil
		}
		customer, err := s.repo.FindCustomerByProviderID(ctx, s.db, provider, hints.ProviderCustomerID)
		if err != nil {
			return 0, err
		}
		if customer != nil {
			return customer.TenantID, nil
		}
	}
	return 0, nil
}

func parseTenant(raw string) (snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, provider string, tenantID snowflake.ID, event *paymentdomain.WebhookEvent) error {
	switch event.Category {
	case paymentdomain.WebhookCheckoutCompleted:
		return s.applyCheckout(ctx, tx, provider, tenantID, event.Checkout)
	case paymentdomain.WebhookSubscription:
		return s.applySubscription(ctx, tx, provider, tenantID, event.Subscription)
	case paymentdomain.WebhookInvoice:
		return s.applyInvoice(ctx, tx, provider, tenantID, event.Invoice)
	default:
		return nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, tx *gorm.DB, provider string, tenantID snowflake.ID, checkout *paymentdomain.CheckoutCompletion) error {
	if checkout == nil {
		return paymentdomain.ErrInvalidPayload
	}
	if checkout.CustomerID != "" {
		if err := s.upsertCustomer(ctx, tx, provider, tenantID, checkout.CustomerID); err != nil {
			return err
		}
	}
	if checkout.SubscriptionID != "" {
		_, _, err := s.subscriptions.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
			TenantID:               tenantID,
			Provider:               provider,
			ProviderSubscriptionID: checkout.SubscriptionID,
			ProviderCustomerID:     checkout.CustomerID,
		})
		if err != nil {
			return err
		}
	}

	packCode := strings.TrimSpace(checkout.Metadata[paymentdomain.MetadataCreditPack])
	if packCode == "" || !checkoutPaid(checkout.PaymentStatus) {
		return nil
	}
	_, _, err := s.credits.Grant(ctx, tx, creditdomain.GrantRequest{
		TenantID:  tenantID,
		PackCode:  packCode,
		Source:    creditdomain.SourcePurchase,
		SourceRef: "checkout:" + checkout.SessionID,
	})
	return err
}

// Async payment methods complete the session unpaid and settle later
// with a second event.
func checkoutPaid(status string) bool {
	return status == "paid" || status == "no_payment_required"
}

func (s *Service) upsertCustomer(ctx context.Context, tx *gorm.DB, provider string, tenantID snowflake.ID, customerID string) error {
	now := s.clock.Now()
	return s.repo.UpsertCustomer(ctx, tx, &paymentdomain.BillingCustomer{
		ID:                 s.genID.Generate(),
		TenantID:           tenantID,
		Provider:           provider,
		ProviderCustomerID: customerID,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

func (s *Service) applySubscription(ctx context.Context, tx *gorm.DB, provider string, tenantID snowflake.ID, state *paymentdomain.SubscriptionState) error {
	if state == nil {
		return paymentdomain.ErrInvalidPayload
	}
	if state.CustomerID != "" {
		if err := s.upsertCustomer(ctx, tx, provider, tenantID, state.CustomerID); err != nil {
			return err
		}
	}
	_, _, err := s.subscriptions.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
		TenantID:               tenantID,
		Provider:               provider,
		ProviderSubscriptionID: state.ID,
		ProviderCustomerID:     state.CustomerID,
		ProviderPriceID:        state.PriceID,
		ProviderMeteredItemID:  state.MeteredItemID,
		Status:                 subscriptiondomain.SubscriptionStatus(state.Status),
		Currency:               state.Currency,
		BillingInterval:        state.Interval,
		CurrentPeriodStart:     state.CurrentPeriodStart,
		CurrentPeriodEnd:       state.CurrentPeriodEnd,
		CancelAtPeriodEnd:      &state.CancelAtPeriodEnd,
		StartedAt:              state.StartedAt,
		CanceledAt:             state.CanceledAt,
	})
	return err
}

func (s *Service) applyInvoice(ctx context.Context, tx *gorm.DB, provider string, tenantID snowflake.ID, state *paymentdomain.InvoiceState) error {
	if state == nil {
		return paymentdomain.ErrInvalidPayload
	}
	var subscriptionID *snowflake.ID
	if state.SubscriptionID != "" {
		sub, err := s.subscriptions.FindByProviderSubscriptionID(ctx, tx, provider, state.SubscriptionID)
		if err != nil {
			return err
		}
		if sub != nil && sub.TenantID == tenantID {
			subscriptionID = &sub.ID
		}
	}

	lines := make([]invoicedomain.LineInput, 0, len(state.Lines))
	for _, line := range state.Lines {
		lines = append(lines, invoicedomain.LineInput{
			ProviderLineID: line.ProviderLineID,
			Description:    line.Description,
			PriceID:        line.PriceID,
			Quantity:       line.Quantity,
			Amount:         line.Amount,
			Currency:       line.Currency,
			PeriodStart:    line.PeriodStart,
			PeriodEnd:      line.PeriodEnd,
		})
	}
	_, _, err := s.invoices.Upsert(ctx, tx, invoicedomain.UpsertRequest{
		TenantID:          tenantID,
		SubscriptionID:    subscriptionID,
		Provider:          provider,
		ProviderInvoiceID: state.ID,
		Number:            state.Number,
		Status:            state.Status,
		Currency:          state.Currency,
		Subtotal:          state.Subtotal,
		Tax:               state.Tax,
		Total:             state.Total,
		AmountDue:         state.AmountDue,
		AmountPaid:        state.AmountPaid,
		PeriodStart:       state.PeriodStart,
		PeriodEnd:         state.PeriodEnd,
		DueAt:             state.DueAt,
		PaidAt:            state.PaidAt,
		HostedInvoiceURL:  state.HostedURL,
		InvoicePDFURL:     state.PDFURL,
		Lines:             lines,
	})
	return err
}
