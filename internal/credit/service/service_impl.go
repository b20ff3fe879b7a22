package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/usageledger/internal/clock"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	"github.com/smallbiznis/usageledger/pkg/db"
	"github.com/smallbiznis/usageledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  creditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  creditdomain.Repository
}

func New(p Params) creditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreatePack(ctx context.Context, req creditdomain.CreatePackRequest) (*creditdomain.CreditPack, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, creditdomain.ErrInvalidPackCode
	}
	if !req.Credits.IsPositive() || req.ValidityDays < 0 {
		return nil, creditdomain.ErrInvalidCredits
	}
	priceID := strings.TrimSpace(req.ProviderPriceID)
	if priceID == "" {
		return nil, creditdomain.ErrInvalidPriceID
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = "stripe"
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = code
	}

	now := s.clock.Now()
	pack := &creditdomain.CreditPack{
		ID:              s.genID.Generate(),
		Code:            code,
		Name:            name,
		Credits:         req.Credits,
		Provider:        provider,
		ProviderPriceID: priceID,
		ValidityDays:    req.ValidityDays,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertPack(ctx, s.db, pack); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, creditdomain.ErrPackExists
		}
		return nil, err
	}
	return pack, nil
}

func (s *Service) ListPacks(ctx context.Context) ([]*creditdomain.CreditPack, error) {
	return s.repo.ListPacks(ctx, s.db)
}

func (s *Service) GetPack(ctx context.Context, code string) (*creditdomain.CreditPack, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, creditdomain.ErrInvalidPackCode
	}
	pack, err := s.repo.FindPackByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if pack == nil || !pack.Active {
		return nil, creditdomain.ErrPackNotFound
	}
	return pack, nil
}

func (s *Service) Grant(ctx context.Context, tx *gorm.DB, req creditdomain.GrantRequest) (*creditdomain.CreditGrant, bool, error) {
	if req.TenantID == 0 {
		return nil, false, creditdomain.ErrInvalidTenant
	}
	sourceRef := strings.TrimSpace(req.SourceRef)
	if sourceRef == "" {
		return nil, false, creditdomain.ErrInvalidSourceRef
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now()
	credits := req.Credits
	expiresAt := req.ExpiresAt
	var packID *snowflake.ID
	if code := strings.ToLower(strings.TrimSpace(req.PackCode)); code != "" {
		pack, err := s.repo.FindPackByCode(ctx, tx, code)
		if err != nil {
			return nil, false, err
		}
		if pack == nil {
			return nil, false, creditdomain.ErrPackNotFound
		}
		packID = &pack.ID
		credits = pack.Credits
		if exp := expiryFor(pack, now); exp != nil {
			expiresAt = exp
		}
	}
	if !credits.IsPositive() {
		return nil, false, creditdomain.ErrInvalidCredits
	}
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = creditdomain.SourceManual
	}

	grant := &creditdomain.CreditGrant{
		ID:               s.genID.Generate(),
		TenantID:         req.TenantID,
		PackID:           packID,
		Source:           source,
		SourceRef:        sourceRef,
		GrantedCredits:   credits,
		RemainingCredits: credits,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	inserted, err := s.repo.InsertGrant(ctx, tx, grant)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindGrantBySourceRef(ctx, tx, req.TenantID, sourceRef)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, creditdomain.ErrInvalidSourceRef
		}
		return existing, false, nil
	}

	obslogger.WithContext(ctx, s.log).Info("credit.granted",
		zap.String("grant_id", grant.ID.String()),
		zap.String("source", source),
		zap.String("source_ref", sourceRef),
		zap.String("credits", credits.String()),
	)
	return grant, true, nil
}

func (s *Service) ListGrants(ctx context.Context, tenantID snowflake.ID) ([]*creditdomain.CreditGrant, error) {
	if tenantID == 0 {
		return nil, creditdomain.ErrInvalidTenant
	}
	return s.repo.ListGrants(ctx, s.db, tenantID)
}

func (s *Service) Balance(ctx context.Context, tenantID snowflake.ID) (*creditdomain.Balance, error) {
	if tenantID == 0 {
		return nil, creditdomain.ErrInvalidTenant
	}
	grants, err := s.repo.ListUsable(ctx, s.db, tenantID, s.clock.Now(), false)
	if err != nil {
		return nil, err
	}
	balance := &creditdomain.Balance{TenantID: tenantID, Available: decimal.Zero, Grants: len(grants)}
	for _, g := range grants {
		balance.Available = balance.Available.Add(g.RemainingCredits)
		if g.ExpiresAt != nil && balance.NextExpiry == nil {
			exp := *g.ExpiresAt
			balance.NextExpiry = &exp
		}
	}
	return balance, nil
}

func (s *Service) Consume(ctx context.Context, tenantID snowflake.ID, amount decimal.Decimal) (*creditdomain.ConsumeResult, error) {
	if tenantID == 0 {
		return nil, creditdomain.ErrInvalidTenant
	}
	if !amount.IsPositive() {
		return nil, creditdomain.ErrInvalidCredits
	}

	var result *creditdomain.ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, tenantID); err != nil {
			return err
		}
		now := s.clock.Now()
		grants, err := s.repo.ListUsable(ctx, tx, tenantID, now, true)
		if err != nil {
			return err
		}

		available := decimal.Zero
		for _, g := range grants {
			available = available.Add(g.RemainingCredits)
		}
		if available.LessThan(amount) {
			return creditdomain.ErrInsufficientCredits
		}

		left := amount
		for _, g := range grants {
			if !left.IsPositive() {
				break
			}
			take := decimal.Min(left, g.RemainingCredits)
			if err := s.repo.SetRemaining(ctx, tx, tenantID, g.ID, g.RemainingCredits.Sub(take), now); err != nil {
				return err
			}
			left = left.Sub(take)
		}
		result = &creditdomain.ConsumeResult{Consumed: amount, Remaining: available.Sub(amount)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func expiryFor(pack *creditdomain.CreditPack, t time.Time) *time.Time {
	if pack == nil || pack.ValidityDays <= 0 {
		return nil
	}
	exp := t.AddDate(0, 0, pack.ValidityDays)
	return &exp
}
