package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/usageledger/internal/clock"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type UsageRecordedParams struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          ledgerdomain.Repository
	UsageRepo     usagedomain.Repository
	Meters        meterdomain.Service
	Rating        ratingdomain.Service
	Subscriptions subscriptiondomain.Service
	Pusher        ledgerdomain.UsagePusher `optional:"true"`
	Metrics       *obsmetrics.Metrics      `optional:"true"`
}

// UsageRecordedHandler prices usage.recorded relay rows into ledger entries.
type UsageRecordedHandler struct {
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          ledgerdomain.Repository
	usageRepo     usagedomain.Repository
	meters        meterdomain.Service
	rating        ratingdomain.Service
	subscriptions subscriptiondomain.Service
	pusher        ledgerdomain.UsagePusher
	metrics       *obsmetrics.Metrics
}

func NewUsageRecordedHandler(p UsageRecordedParams) *UsageRecordedHandler {
	return &UsageRecordedHandler{
		log:           p.Log.Named("ledger.writer"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		usageRepo:     p.UsageRepo,
		meters:        p.Meters,
		rating:        p.Rating,
		subscriptions: p.Subscriptions,
		pusher:        p.Pusher,
		metrics:       p.Metrics,
	}
}

func (h *UsageRecordedHandler) EventType() string { return eventdomain.EventUsageRecorded }

func (h *UsageRecordedHandler) Handle(ctx context.Context, tx *gorm.DB, event *eventdomain.RelayEvent) (eventdomain.AfterCommit, error) {
	usageEventID, err := snowflake.ParseString(strings.TrimSpace(event.PayloadString("usage_event_id")))
	if err != nil || usageEventID == 0 {
		return nil, ledgerdomain.ErrInvalidPayload
	}
	usage, err := h.usageRepo.FindByID(ctx, tx, event.TenantID, usageEventID)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, ledgerdomain.ErrUsageEventNotFound
	}

	log := obslogger.WithContext(ctx, h.log).With(
		zap.String("usage_event_id", usage.ID.String()),
		zap.String("event_key", usage.EventKey),
	)

	key := ledgerdomain.IdempotencyKeyFor(usage.ID)
	existing, err := h.repo.FindByIdempotencyKey(ctx, tx, event.TenantID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		h.metrics.RecordLedgerEntry(ctx, existing.Currency, false)
		log.Debug("ledger.entry.replayed", zap.String("ledger_entry_id", existing.ID.String()))
		return nil, nil
	}

	resolved, err := h.meters.Resolve(ctx, tx, usage.EventKey, usage.OccurredAt)
	if err != nil {
		return nil, err
	}
	if resolved == nil || resolved.Meter == nil {
		log.Debug("ledger.entry.skipped", zap.String("reason", "no_active_meter"))
		return nil, nil
	}
	meter := resolved.Meter

	unitPrice := decimal.Zero
	currency := ""
	if resolved.Rate != nil {
		unitPrice = resolved.Rate.UnitPrice
		currency = resolved.Rate.Currency
	} else {
		log.Warn("ledger.rate.missing", zap.String("meter_id", meter.ID.String()))
	}

	result := h.rating.Rate(ratingdomain.Input{
		Rule:      meter.Rule(),
		Quantity:  usage.Quantity,
		Metadata:  map[string]any(usage.Metadata),
		UnitPrice: unitPrice,
		Currency:  currency,
	})

	sub, err := h.subscriptions.GetCurrent(ctx, tx, event.TenantID)
	if err != nil {
		return nil, err
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:             h.genID.Generate(),
		TenantID:       event.TenantID,
		MeterID:        meter.ID,
		UsageEventID:   usage.ID,
		RuleKind:       string(result.Rule),
		Units:          result.Units,
		UnitPrice:      result.UnitPrice,
		Amount:         result.Amount,
		Currency:       result.Currency,
		OccurredAt:     usage.OccurredAt,
		IdempotencyKey: key,
		CreatedAt:      h.clock.Now(),
	}
	if sub != nil {
		subID := sub.ID
		entry.SubscriptionID = &subID
	}

	inserted, err := h.repo.Insert(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	h.metrics.RecordLedgerEntry(ctx, entry.Currency, inserted)
	if !inserted {
		log.Debug("ledger.entry.replayed")
		return nil, nil
	}
	log.Info("ledger.entry.recorded",
		zap.String("ledger_entry_id", entry.ID.String()),
		zap.String("units", entry.Units.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("currency", entry.Currency),
	)

	if h.pusher == nil || sub == nil || !sub.Status.Billable() || !sub.HasMeteredItem() {
		return nil, nil
	}
	metered := paymentdomain.MeteredUsage{
		TenantID:               entry.TenantID,
		SubscriptionID:         sub.ID,
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		ProviderItemID:         sub.ProviderMeteredItemID,
		ProviderCustomerID:     sub.ProviderCustomerID,
		EventName:              providerEventName(meter),
		Units:                  entry.Units,
		Currency:               entry.Currency,
		OccurredAt:             entry.OccurredAt,
		IdempotencyKey:         entry.IdempotencyKey,
	}
	return func(ctx context.Context) {
		if err := h.pusher.PushUsage(ctx, metered); err != nil {
			log.Warn("ledger.push.failed", zap.String("ledger_entry_id", entry.ID.String()), zap.Error(err))
		}
	}, nil
}

func providerEventName(meter *meterdomain.Meter) string {
	if name := strings.TrimSpace(meter.ProviderEventName); name != "" {
		return name
	}
	return meter.EventKey
}
