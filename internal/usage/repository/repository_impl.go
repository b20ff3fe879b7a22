package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*usagedomain.UsageEvent, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM usage_events WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*usagedomain.UsageEvent, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM usage_events WHERE tenant_id = ? AND idempotency_key = ?`,
		tenantID, key,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*usagedomain.UsageEvent, error) {
	var event usagedomain.UsageEvent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&event).Error; err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter usagedomain.ListFilter) ([]*usagedomain.UsageEvent, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{filter.TenantID}
	)
	if filter.EventKey != "" {
		where = append(where, "event_key = ?")
		args = append(args, filter.EventKey)
	}
	if filter.From != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, "occurred_at < ?")
		args = append(args, *filter.To)
	}
	if filter.Cursor != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	args = append(args, filter.Limit)

	var items []*usagedomain.UsageEvent
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM usage_events
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
