package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	"github.com/smallbiznis/usageledger/internal/invoice/format"
	obslogger "github.com/smallbiznis/usageledger/internal/observability/logger"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
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
	Repo  invoicedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  invoicedomain.Repository
}

func New(p Params) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Upsert(ctx context.Context, tx *gorm.DB, req invoicedomain.UpsertRequest) (*invoicedomain.Invoice, bool, error) {
	if req.TenantID == 0 {
		return nil, false, invoicedomain.ErrInvalidTenant
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, false, invoicedomain.ErrInvalidProvider
	}
	providerInvoiceID := strings.TrimSpace(req.ProviderInvoiceID)
	if providerInvoiceID == "" {
		return nil, false, invoicedomain.ErrInvalidInvoiceID
	}
	status, err := normalizeStatus(req.Status)
	if err != nil {
		return nil, false, err
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	now := s.clock.Now()
	invoice, err := s.repo.FindByProviderID(ctx, tx, req.TenantID, provider, providerInvoiceID)
	if err != nil {
		return nil, false, err
	}
	created := invoice == nil
	if created {
		invoice = &invoicedomain.Invoice{
			ID:                s.genID.Generate(),
			TenantID:          req.TenantID,
			Provider:          provider,
			ProviderInvoiceID: providerInvoiceID,
			CreatedAt:         now,
		}
	}

	invoice.SubscriptionID = req.SubscriptionID
	invoice.Status = status
	invoice.Currency = currency
	invoice.Subtotal = req.Subtotal
	invoice.Tax = req.Tax
	invoice.Total = req.Total
	invoice.AmountDue = req.AmountDue
	invoice.AmountPaid = req.AmountPaid
	invoice.PeriodStart = req.PeriodStart
	invoice.PeriodEnd = req.PeriodEnd
	invoice.DueAt = req.DueAt
	invoice.PaidAt = req.PaidAt
	invoice.HostedInvoiceURL = strings.TrimSpace(req.HostedInvoiceURL)
	invoice.InvoicePDFURL = strings.TrimSpace(req.InvoicePDFURL)
	invoice.UpdatedAt = now

	if number := strings.TrimSpace(req.Number); number != "" {
		invoice.Number = number
	} else if invoice.Number == "" {
		number, err := s.draftNumber(ctx, tx, req.TenantID)
		if err != nil {
			return nil, false, err
		}
		invoice.Number = number
	}

	if created {
		err = s.repo.Insert(ctx, tx, invoice)
	} else {
		err = s.repo.Update(ctx, tx, invoice)
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.repo.DeleteLines(ctx, tx, invoice.TenantID, invoice.ID); err != nil {
		return nil, false, err
	}
	lines := make([]invoicedomain.InvoiceLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		lineCurrency := strings.ToLower(strings.TrimSpace(in.Currency))
		if lineCurrency == "" {
			lineCurrency = currency
		}
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:             s.genID.Generate(),
			TenantID:       invoice.TenantID,
			InvoiceID:      invoice.ID,
			Position:       i,
			ProviderLineID: strings.TrimSpace(in.ProviderLineID),
			Description:    in.Description,
			PriceID:        strings.TrimSpace(in.PriceID),
			Quantity:       in.Quantity,
			Amount:         in.Amount,
			Currency:       lineCurrency,
			PeriodStart:    in.PeriodStart,
			PeriodEnd:      in.PeriodEnd,
			CreatedAt:      now,
		})
	}
	if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
		return nil, false, err
	}
	invoice.Lines = lines

	obslogger.WithContext(ctx, s.log).Info("invoice.reconciled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("provider_invoice_id", providerInvoiceID),
		zap.String("status", string(status)),
		zap.Int("lines", len(lines)),
		zap.Bool("created", created),
	)
	return invoice, created, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) (invoicedomain.ListResponse, error) {
	if req.TenantID == 0 {
		return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidTenant
	}
	var status invoicedomain.InvoiceStatus
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := normalizeStatus(req.Status)
		if err != nil {
			return invoicedomain.ListResponse{}, err
		}
		status = parsed
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, invoicedomain.ListFilter{
		TenantID: req.TenantID,
		Status:   status,
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}
	page, info := pagination.Page(items, limit, func(i *invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: i.ID, CreatedAt: i.CreatedAt}
	})
	return invoicedomain.ListResponse{PageInfo: info, Invoices: page}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if tenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}
	invoice, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	lines, err := s.repo.ListLines(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines
	return invoice, nil
}

func (s *Service) draftNumber(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (string, error) {
	count, err := s.repo.CountByTenant(ctx, tx, tenantID)
	if err != nil {
		return "", err
	}
	return format.Number(format.DefaultNumberTemplate, s.clock.Now(), count+1)
}

func normalizeStatus(raw string) (invoicedomain.InvoiceStatus, error) {
	status := invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case "":
		return invoicedomain.InvoiceStatusDraft, nil
	case invoicedomain.InvoiceStatusDraft,
		invoicedomain.InvoiceStatusOpen,
		invoicedomain.InvoiceStatusPaid,
		invoicedomain.InvoiceStatusVoid,
		invoicedomain.InvoiceStatusUncollectible:
		return status, nil
	default:
		return "", invoicedomain.ErrInvalidStatus
	}
}
