package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/usageledger/internal/ledger/domain"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo ledgerdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo ledgerdomain.Repository
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("ledger.service"),
		repo: p.Repo,
	}
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListRequest) (ledgerdomain.ListResponse, error) {
	if req.TenantID == 0 {
		return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidTenant
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, ledgerdomain.ListFilter{
		TenantID: req.TenantID,
		MeterID:  req.MeterID,
		From:     req.From,
		To:       req.To,
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	page, info := pagination.Page(items, limit, func(e *ledgerdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID, CreatedAt: e.CreatedAt}
	})
	return ledgerdomain.ListResponse{PageInfo: info, Entries: page}, nil
}

func (s *Service) Totals(ctx context.Context, tenantID snowflake.ID, from, to *time.Time) ([]ledgerdomain.Total, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	return s.repo.Totals(ctx, s.db, tenantID, from, to)
}
