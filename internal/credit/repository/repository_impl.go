package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	"github.com/smallbiznis/usageledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() creditdomain.Repository {
	return &repo{}
}

func (r *repo) InsertPack(ctx context.Context, conn *gorm.DB, pack *creditdomain.CreditPack) error {
	return conn.WithContext(ctx).Create(pack).Error
}

func (r *repo) FindPackByCode(ctx context.Context, conn *gorm.DB, code string) (*creditdomain.CreditPack, error) {
	var pack creditdomain.CreditPack
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM credit_packs WHERE code = ?`,
		code,
	).Scan(&pack).Error
	if err != nil {
		return nil, err
	}
	if pack.ID == 0 {
		return nil, nil
	}
	return &pack, nil
}

func (r *repo) ListPacks(ctx context.Context, conn *gorm.DB) ([]*creditdomain.CreditPack, error) {
	var packs []*creditdomain.CreditPack
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM credit_packs ORDER BY code ASC`,
	).Scan(&packs).Error
	if err != nil {
		return nil, err
	}
	return packs, nil
}

func (r *repo) InsertGrant(ctx context.Context, conn *gorm.DB, grant *creditdomain.CreditGrant) (bool, error) {
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindGrantBySourceRef(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, sourceRef string) (*creditdomain.CreditGrant, error) {
	var grant creditdomain.CreditGrant
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM credit_grants WHERE tenant_id = ? AND source_ref = ?`,
		tenantID, sourceRef,
	).Scan(&grant).Error
	if err != nil {
		return nil, err
	}
	if grant.ID == 0 {
		return nil, nil
	}
	return &grant, nil
}

func (r *repo) ListUsable(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, at time.Time, lock bool) ([]*creditdomain.CreditGrant, error) {
	suffix := ""
	if lock {
		suffix = db.LockForUpdate(conn)
	}
	var grants []*creditdomain.CreditGrant
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM credit_grants
		 WHERE tenant_id = ?
		   AND remaining_credits > 0
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY (expires_at IS NULL) ASC, expires_at ASC, created_at ASC, id ASC`+suffix,
		tenantID, at,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) ListGrants(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]*creditdomain.CreditGrant, error) {
	var grants []*creditdomain.CreditGrant
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM credit_grants WHERE tenant_id = ? ORDER BY created_at DESC, id DESC`,
		tenantID,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) SetRemaining(ctx context.Context, conn *gorm.DB, tenantID, id snowflake.ID, remaining decimal.Decimal, updatedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE credit_grants SET remaining_credits = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		remaining, updatedAt, tenantID, id,
	).Error
}
