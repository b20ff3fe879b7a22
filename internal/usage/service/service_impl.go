package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	"github.com/smallbiznis/usageledger/internal/events"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	obscontext "github.com/smallbiznis/usageledger/internal/observability/context"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/usageledger/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"github.com/smallbiznis/usageledger/internal/usage/liveevents"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"github.com/smallbiznis/usageledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxIdempotencyKeyLength = 255

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Outbox  *events.Outbox
	Metrics *obsmetrics.Metrics `optional:"true"`
	Live    *liveevents.Hub     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	outbox  *events.Outbox
	metrics *obsmetrics.Metrics
	live    *liveevents.Hub
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		outbox:  p.Outbox,
		metrics: p.Metrics,
		live:    p.Live,
	}
}

func (s *Service) Emit(ctx context.Context, req usagedomain.EmitRequest) (*usagedomain.EmitResult, error) {
	var result *usagedomain.EmitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.EmitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Only committed events reach live subscribers.
	s.live.Publish(req.TenantID, liveevents.FromUsageEvent(result.Event, result.Replayed))
	return result, nil
}

func (s *Service) EmitTx(ctx context.Context, tx *gorm.DB, req usagedomain.EmitRequest) (*usagedomain.EmitResult, error) {
	if req.TenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	eventKey := strings.TrimSpace(req.EventKey)
	if eventKey == "" {
		return nil, usagedomain.ErrInvalidEventKey
	}
	if req.Quantity.IsNegative() {
		return nil, usagedomain.ErrInvalidQuantity
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		return nil, usagedomain.ErrInvalidIdempotencyKey
	}

	if err := rls.WithTenant(tx, req.TenantID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	occurredAt := now
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.UTC()
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	event := &usagedomain.UsageEvent{
		ID:         s.genID.Generate(),
		TenantID:   req.TenantID,
		EventKey:   eventKey,
		Quantity:   req.Quantity,
		Metadata:   metadata,
		Actor:      resolveActor(ctx, req.Actor),
		OccurredAt: occurredAt,
		CreatedAt:  now,
	}
	if idempotencyKey != "" {
		event.IdempotencyKey = &idempotencyKey
	}

	inserted, err := s.repo.Insert(ctx, tx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, req.TenantID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, usagedomain.ErrNotFound
		}
		s.metrics.RecordUsageEmitted(ctx, eventKey, true)
		s.logger(ctx).Debug("usage.event.replayed",
			zap.String("usage_event_id", existing.ID.String()),
			zap.String("event_key", eventKey),
		)
		return &usagedomain.EmitResult{Event: existing, Replayed: true}, nil
	}

	dedupeKey := idempotencyKey
	if dedupeKey == "" {
		dedupeKey = event.ID.String()
	}
	_, _, err = s.outbox.Publish(ctx, tx, eventdomain.Event{
		TenantID:  req.TenantID,
		EventType: eventdomain.EventUsageRecorded,
		DedupeKey: dedupeKey,
		Payload: map[string]any{
			"usage_event_id": event.ID.String(),
			"event_key":      eventKey,
		},
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUsageEmitted(ctx, eventKey, false)
	s.logger(ctx).Debug("usage.event.recorded",
		zap.String("usage_event_id", event.ID.String()),
		zap.String("event_key", eventKey),
		zap.String("quantity", event.Quantity.String()),
	)
	return &usagedomain.EmitResult{Event: event}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*usagedomain.UsageEvent, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	event, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, usagedomain.ErrNotFound
	}
	return event, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	if req.TenantID == 0 {
		return usagedomain.ListResponse{}, usagedomain.ErrInvalidTenant
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return usagedomain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, usagedomain.ListFilter{
		TenantID: req.TenantID,
		EventKey: strings.TrimSpace(req.EventKey),
		From:     req.From,
		To:       req.To,
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return usagedomain.ListResponse{}, err
	}

	page, info := pagination.Page(items, limit, func(e *usagedomain.UsageEvent) pagination.Cursor {
		return pagination.Cursor{ID: e.ID, CreatedAt: e.CreatedAt}
	})
	return usagedomain.ListResponse{PageInfo: info, UsageEvents: page}, nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func resolveActor(ctx context.Context, actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	actorType, actorID := obscontext.ActorFromContext(ctx)
	switch {
	case actorID == "":
		return ""
	case actorType == "":
		return actorID
	default:
		return actorType + ":" + actorID
	}
}
