package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetry      Status = "retry"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

const EventUsageRecorded = "usage.recorded"

// RelayEvent is an outbox row written in the same transaction as the state
// change it announces. Rows are never deleted.
type RelayEvent struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID      `json:"tenant_id" gorm:"not null;uniqueIndex:ux_outbox_events_dedupe,priority:1;index:idx_outbox_events_due,priority:1"`
	EventType      string            `json:"event_type" gorm:"type:text;not null"`
	Payload        datatypes.JSONMap `json:"payload" gorm:"type:jsonb;not null"`
	Status         Status            `json:"status" gorm:"type:text;not null;index:idx_outbox_events_due,priority:2"`
	AttemptCount   int               `json:"attempt_count" gorm:"not null;default:0"`
	NextAttemptAt  time.Time         `json:"next_attempt_at" gorm:"not null;index:idx_outbox_events_due,priority:3"`
	LastError      *string           `json:"last_error,omitempty" gorm:"type:text"`
	DedupeKey      string            `json:"dedupe_key" gorm:"type:text;not null;uniqueIndex:ux_outbox_events_dedupe,priority:2"`
	ClaimToken     *int64            `json:"-" gorm:"index"`
	LeaseExpiresAt *time.Time        `json:"lease_expires_at,omitempty"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null"`
}

func (RelayEvent) TableName() string { return "outbox_events" }

// PayloadString reads a string field from the payload.
func (e *RelayEvent) PayloadString(key string) string {
	if e == nil || e.Payload == nil {
		return ""
	}
	v, _ := e.Payload[key].(string)
	return v
}

// AfterCommit runs once the handler's transaction has committed. Failures
// are the callback's own concern; they never affect the row outcome.
type AfterCommit func(ctx context.Context)

// Handler processes one relay event type inside the dispatcher's per-row
// transaction. The row is marked done in the same transaction, so a
// returned error rolls back everything the handler wrote.
type Handler interface {
	EventType() string
	Handle(ctx context.Context, tx *gorm.DB, event *RelayEvent) (AfterCommit, error)
}

// Event is the input to Outbox.Publish.
type Event struct {
	TenantID  snowflake.ID
	EventType string
	DedupeKey string
	Payload   map[string]any
}
