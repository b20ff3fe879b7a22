package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	"github.com/smallbiznis/usageledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() eventdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, event *eventdomain.RelayEvent) (bool, error) {
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByDedupeKey(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, dedupeKey string) (*eventdomain.RelayEvent, error) {
	return r.findOne(ctx, conn,
		`SELECT * FROM outbox_events WHERE tenant_id = ? AND dedupe_key = ?`,
		tenantID, dedupeKey,
	)
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID) (*eventdomain.RelayEvent, error) {
	return r.findOne(ctx, conn,
		`SELECT * FROM outbox_events WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*eventdomain.RelayEvent, error) {
	var event eventdomain.RelayEvent
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&event).Error; err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) DueTenants(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var tenants []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT tenant_id
		 FROM outbox_events
		 WHERE status IN (?, ?) AND next_attempt_at <= ?
		 GROUP BY tenant_id
		 ORDER BY MIN(created_at) ASC
		 LIMIT ?`,
		eventdomain.StatusPending,
		eventdomain.StatusRetry,
		now,
		limit,
	).Scan(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) Claim(ctx context.Context, conn *gorm.DB, req eventdomain.ClaimRequest) ([]*eventdomain.RelayEvent, error) {
	var claimed []*eventdomain.RelayEvent
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []snowflake.ID
		err := tx.Raw(
			`SELECT id
			 FROM outbox_events
			 WHERE tenant_id = ?
			   AND status IN (?, ?)
			   AND next_attempt_at <= ?
			 ORDER BY created_at ASC, id ASC
			 LIMIT ?`+db.LockSkipLocked(tx),
			req.TenantID,
			eventdomain.StatusPending,
			eventdomain.StatusRetry,
			req.Now,
			req.Limit,
		).Scan(&ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		// The status guard keeps the update safe on dialects without row locks.
		err = tx.Exec(
			`UPDATE outbox_events
			 SET status = ?, claim_token = ?, lease_expires_at = ?, updated_at = ?
			 WHERE id IN ? AND tenant_id = ? AND status IN (?, ?)`,
			eventdomain.StatusProcessing,
			req.ClaimToken,
			req.LeaseUntil,
			req.Now,
			ids,
			req.TenantID,
			eventdomain.StatusPending,
			eventdomain.StatusRetry,
		).Error
		if err != nil {
			return err
		}

		return tx.Raw(
			`SELECT * FROM outbox_events
			 WHERE tenant_id = ? AND claim_token = ? AND status = ?
			 ORDER BY created_at ASC, id ASC`,
			req.TenantID,
			req.ClaimToken,
			eventdomain.StatusProcessing,
		).Scan(&claimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) Complete(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID, claimToken int64, outcome eventdomain.Outcome) (bool, error) {
	var processedAt *time.Time
	if outcome.Status == eventdomain.StatusDone {
		processedAt = &outcome.Now
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_error = ?,
		     processed_at = ?,
		     claim_token = NULL,
		     lease_expires_at = NULL,
		     updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND claim_token = ? AND status = ?`,
		outcome.Status,
		outcome.AttemptCount,
		outcome.NextAttemptAt,
		outcome.LastError,
		processedAt,
		outcome.Now,
		tenantID,
		id,
		claimToken,
		eventdomain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExpiredLeases(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]*eventdomain.RelayEvent, error) {
	var items []*eventdomain.RelayEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM outbox_events
		 WHERE status = ? AND lease_expires_at < ?
		 ORDER BY lease_expires_at ASC
		 LIMIT ?`,
		eventdomain.StatusProcessing,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByStatus(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, status eventdomain.Status, limit int) ([]*eventdomain.RelayEvent, error) {
	var items []*eventdomain.RelayEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM outbox_events
		 WHERE tenant_id = ? AND status = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		tenantID,
		status,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Requeue(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?, attempt_count = 0, next_attempt_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND status = ?`,
		eventdomain.StatusRetry,
		now,
		now,
		tenantID,
		id,
		eventdomain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
