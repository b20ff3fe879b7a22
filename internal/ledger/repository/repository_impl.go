package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *ledgerdomain.LedgerEntry) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_entries WHERE tenant_id = ? AND idempotency_key = ?`,
		tenantID, key,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter ledgerdomain.ListFilter) ([]*ledgerdomain.LedgerEntry, error) {
	where, args := window(filter.TenantID, filter.From, filter.To)
	if filter.MeterID != 0 {
		where = append(where, "meter_id = ?")
		args = append(args, filter.MeterID)
	}
	if filter.Cursor != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	args = append(args, filter.Limit)

	var items []*ledgerdomain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_entries
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

func (r *repo) Totals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to *time.Time) ([]ledgerdomain.Total, error) {
	where, args := window(tenantID, from, to)

	var totals []ledgerdomain.Total
	err := db.WithContext(ctx).Raw(
		`SELECT currency,
			COALESCE(SUM(units), 0) AS units,
			COALESCE(SUM(amount), 0) AS amount,
			COUNT(*) AS entries
		 FROM ledger_entries
		 WHERE `+strings.Join(where, " AND ")+`
		 GROUP BY currency
		 ORDER BY currency`,
		args...,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func window(tenantID snowflake.ID, from, to *time.Time) ([]string, []any) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if from != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, "occurred_at < ?")
		args = append(args, *to)
	}
	return where, args
}
