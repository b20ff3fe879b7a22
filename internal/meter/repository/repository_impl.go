package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	"gorm.io/gorm"
)

const meterColumns = `id, event_key, name, unit, aggregation, rating_rule, provider_event_name, active, created_at, updated_at`

const rateColumns = `id, meter_id, currency, unit_price, effective_from, effective_until, is_active, created_at`

type repo struct{}

func Provide() meterdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *meterdomain.Meter) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO meters (`+meterColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.EventKey,
		m.Name,
		m.Unit,
		m.Aggregation,
		m.RatingRule,
		m.ProviderEventName,
		m.Active,
		m.CreatedAt,
		m.UpdatedAt,
	).Error
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE meters SET active = ?, updated_at = ? WHERE id = ?`,
		active,
		updatedAt,
		id,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*meterdomain.Meter, error) {
	return r.findOne(ctx, db, `SELECT `+meterColumns+` FROM meters WHERE id = ?`, id)
}

func (r *repo) FindByEventKey(ctx context.Context, db *gorm.DB, eventKey string) (*meterdomain.Meter, error) {
	return r.findOne(ctx, db, `SELECT `+meterColumns+` FROM meters WHERE event_key = ?`, eventKey)
}

func (r *repo) FindActiveByEventKey(ctx context.Context, db *gorm.DB, eventKey string) (*meterdomain.Meter, error) {
	return r.findOne(ctx, db, `SELECT `+meterColumns+` FROM meters WHERE event_key = ? AND active = ?`, eventKey, true)
}

func (r *repo) FindVersion(ctx context.Context, db *gorm.DB, id snowflake.ID) (*meterdomain.MeterVersion, error) {
	var version meterdomain.MeterVersion
	err := db.WithContext(ctx).Raw(
		`SELECT id, active, updated_at FROM meters WHERE id = ?`,
		id,
	).Scan(&version).Error
	if err != nil {
		return nil, err
	}
	if version.ID == 0 {
		return nil, nil
	}
	return &version, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*meterdomain.Meter, error) {
	var meter meterdomain.Meter
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&meter).Error; err != nil {
		return nil, err
	}
	if meter.ID == 0 {
		return nil, nil
	}
	return &meter, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]*meterdomain.Meter, error) {
	var items []*meterdomain.Meter
	err := db.WithContext(ctx).Raw(
		`SELECT ` + meterColumns + ` FROM meters ORDER BY event_key ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertRate(ctx context.Context, db *gorm.DB, rate *meterdomain.MeterRate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO meter_rates (`+rateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rate.ID,
		rate.MeterID,
		rate.Currency,
		rate.UnitPrice,
		rate.EffectiveFrom,
		rate.EffectiveUntil,
		rate.IsActive,
		rate.CreatedAt,
	).Error
}

func (r *repo) ListRates(ctx context.Context, db *gorm.DB, meterID snowflake.ID) ([]*meterdomain.MeterRate, error) {
	var items []*meterdomain.MeterRate
	err := db.WithContext(ctx).Raw(
		`SELECT `+rateColumns+`
		 FROM meter_rates
		 WHERE meter_id = ?
		 ORDER BY effective_from ASC, id ASC`,
		meterID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FindEffectiveRate returns the active rate whose window contains at. When
// windows overlap the most recently started one wins.
func (r *repo) FindEffectiveRate(ctx context.Context, db *gorm.DB, meterID snowflake.ID, at time.Time) (*meterdomain.MeterRate, error) {
	var rate meterdomain.MeterRate
	err := db.WithContext(ctx).Raw(
		`SELECT `+rateColumns+`
		 FROM meter_rates
		 WHERE meter_id = ?
		   AND is_active = ?
		   AND effective_from <= ?
		   AND (effective_until IS NULL OR effective_until >= ?)
		 ORDER BY effective_from DESC, id DESC
		 LIMIT 1`,
		meterID,
		true,
		at,
		at,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) FindOverlappingRates(ctx context.Context, db *gorm.DB, rate *meterdomain.MeterRate) ([]*meterdomain.MeterRate, error) {
	query := `SELECT ` + rateColumns + `
		 FROM meter_rates
		 WHERE meter_id = ?
		   AND currency = ?
		   AND is_active = ?
		   AND (effective_until IS NULL OR effective_until >= ?)`
	args := []any{rate.MeterID, rate.Currency, true, rate.EffectiveFrom}
	if rate.EffectiveUntil != nil {
		query += ` AND effective_from <= ?`
		args = append(args, *rate.EffectiveUntil)
	}

	var items []*meterdomain.MeterRate
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
