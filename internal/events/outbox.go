package events

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	"github.com/smallbiznis/usageledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  eventdomain.Repository
}

// Outbox writes relay events inside the caller's transaction. It never
// opens a transaction of its own.
type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  eventdomain.Repository
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Publish records event as pending and due now. When a row with the same
// dedupe key already exists for the tenant, that row is returned with
// inserted=false.
func (o *Outbox) Publish(ctx context.Context, tx *gorm.DB, event eventdomain.Event) (*eventdomain.RelayEvent, bool, error) {
	if event.TenantID == 0 {
		return nil, false, eventdomain.ErrInvalidTenant
	}
	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		return nil, false, eventdomain.ErrInvalidEventType
	}

	id := o.genID.Generate()
	dedupeKey := strings.TrimSpace(event.DedupeKey)
	if dedupeKey == "" {
		dedupeKey = id.String()
	}

	payload := make(map[string]any, len(event.Payload)+2)
	for k, v := range event.Payload {
		payload[k] = v
	}
	correlation.InjectIntoPayload(ctx, payload)

	now := o.clock.Now()
	row := &eventdomain.RelayEvent{
		ID:            id,
		TenantID:      event.TenantID,
		EventType:     eventType,
		Payload:       datatypes.JSONMap(payload),
		Status:        eventdomain.StatusPending,
		NextAttemptAt: now,
		DedupeKey:     dedupeKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted, err := o.repo.Insert(ctx, tx, row)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return row, true, nil
	}

	existing, err := o.repo.FindByDedupeKey(ctx, tx, event.TenantID, dedupeKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, eventdomain.ErrNotFound
	}
	o.log.Debug("outbox.event.deduplicated",
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("event_type", eventType),
		zap.String("dedupe_key", dedupeKey),
	)
	return existing, false, nil
}
