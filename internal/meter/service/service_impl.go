package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/cache"
	"github.com/smallbiznis/usageledger/internal/clock"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	"github.com/smallbiznis/usageledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  meterdomain.Repository
	Cache cache.MeterCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  meterdomain.Repository
	cache cache.MeterCache
}

func New(p Params) meterdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("meter.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) CreateMeter(ctx context.Context, req meterdomain.CreateMeterRequest) (*meterdomain.Meter, error) {
	eventKey := strings.TrimSpace(req.EventKey)
	if eventKey == "" {
		return nil, meterdomain.ErrInvalidEventKey
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, meterdomain.ErrInvalidName
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		return nil, meterdomain.ErrInvalidUnit
	}
	aggregation, err := normalizeAggregation(req.Aggregation)
	if err != nil {
		return nil, err
	}
	rule, err := encodeRule(req.Rule)
	if err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	m := &meterdomain.Meter{
		ID:                s.genID.Generate(),
		EventKey:          eventKey,
		Name:              name,
		Unit:              unit,
		Aggregation:       aggregation,
		RatingRule:        rule,
		ProviderEventName: strings.TrimSpace(req.ProviderEventName),
		Active:            active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, m); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, meterdomain.ErrEventKeyExists
		}
		return nil, err
	}

	s.log.Info("meter created",
		zap.String("meter_id", m.ID.String()),
		zap.String("event_key", m.EventKey),
		zap.String("rule", string(m.Rule().Kind())),
	)
	return m, nil
}

func (s *Service) SetActive(ctx context.Context, id snowflake.ID, active bool) (*meterdomain.Meter, error) {
	m, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, meterdomain.ErrNotFound
	}

	now := s.clock.Now()
	if err := s.repo.SetActive(ctx, s.db, id, active, now); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(m.EventKey)
	}

	m.Active = active
	m.UpdatedAt = now
	return m, nil
}

func (s *Service) GetMeter(ctx context.Context, id snowflake.ID) (*meterdomain.Meter, error) {
	m, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, meterdomain.ErrNotFound
	}
	return m, nil
}

func (s *Service) ListMeters(ctx context.Context) ([]*meterdomain.Meter, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) AddRate(ctx context.Context, req meterdomain.AddRateRequest) (*meterdomain.MeterRate, error) {
	if req.MeterID == 0 {
		return nil, meterdomain.ErrNotFound
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, meterdomain.ErrInvalidCurrency
	}
	if req.UnitPrice.IsNegative() {
		return nil, meterdomain.ErrInvalidUnitPrice
	}
	if req.EffectiveFrom.IsZero() {
		return nil, meterdomain.ErrInvalidWindow
	}
	from := req.EffectiveFrom.UTC()
	var until *time.Time
	if req.EffectiveUntil != nil {
		u := req.EffectiveUntil.UTC()
		if !u.After(from) {
			return nil, meterdomain.ErrInvalidWindow
		}
		until = &u
	}

	m, err := s.repo.FindByID(ctx, s.db, req.MeterID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, meterdomain.ErrNotFound
	}

	rate := &meterdomain.MeterRate{
		ID:             s.genID.Generate(),
		MeterID:        m.ID,
		Currency:       currency,
		UnitPrice:      req.UnitPrice,
		EffectiveFrom:  from,
		EffectiveUntil: until,
		IsActive:       true,
		CreatedAt:      s.clock.Now(),
	}

	overlapping, err := s.repo.FindOverlappingRates(ctx, s.db, rate)
	if err != nil {
		return nil, err
	}
	if len(overlapping) > 0 {
		// Overlaps are allowed; the latest effective_from wins at lookup.
		s.log.Warn("meter rate overlaps existing window",
			zap.String("meter_id", m.ID.String()),
			zap.String("currency", currency),
			zap.Int("overlapping", len(overlapping)),
		)
	}

	if err := s.repo.InsertRate(ctx, s.db, rate); err != nil {
		return nil, err
	}
	return rate, nil
}

func (s *Service) ListRates(ctx context.Context, meterID snowflake.ID) ([]*meterdomain.MeterRate, error) {
	return s.repo.ListRates(ctx, s.db, meterID)
}

func (s *Service) Resolve(ctx context.Context, tx *gorm.DB, eventKey string, at time.Time) (*meterdomain.Resolution, error) {
	if tx == nil {
		tx = s.db
	}
	eventKey = strings.TrimSpace(eventKey)
	if eventKey == "" {
		return &meterdomain.Resolution{}, nil
	}

	m, err := s.lookupMeter(ctx, tx, eventKey)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &meterdomain.Resolution{}, nil
	}

	rate, err := s.repo.FindEffectiveRate(ctx, tx, m.ID, at.UTC())
	if err != nil {
		return nil, err
	}
	return &meterdomain.Resolution{Meter: m, Rate: rate}, nil
}

// lookupMeter serves the meter from cache only after checking its version
// against the row, so a meter deactivated by another process is never used.
func (s *Service) lookupMeter(ctx context.Context, tx *gorm.DB, eventKey string) (*meterdomain.Meter, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(eventKey); ok {
			version, err := s.repo.FindVersion(ctx, tx, cached.ID)
			if err != nil {
				return nil, err
			}
			if version != nil && version.Active && version.Matches(cached) {
				return cached, nil
			}
			s.cache.Invalidate(eventKey)
		}
	}
	m, err := s.repo.FindActiveByEventKey(ctx, tx, eventKey)
	if err != nil {
		return nil, err
	}
	if m != nil && s.cache != nil {
		s.cache.Set(m)
	}
	return m, nil
}

func normalizeAggregation(raw string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return meterdomain.AggregationSum, nil
	case meterdomain.AggregationSum, meterdomain.AggregationCount, meterdomain.AggregationMax, meterdomain.AggregationLast:
		return value, nil
	default:
		return "", meterdomain.ErrInvalidAggregation
	}
}

// encodeRule validates the descriptor up front so a malformed rule is
// rejected at creation instead of silently rating as a simple count.
func encodeRule(desc *ratingdomain.Descriptor) (datatypes.JSON, error) {
	var rule ratingdomain.Rule = ratingdomain.SimpleCount{}
	if desc != nil {
		parsed, ok := desc.Rule()
		if !ok {
			return nil, meterdomain.ErrInvalidRule
		}
		rule = parsed
	}
	raw, err := ratingdomain.EncodeRule(rule)
	if err != nil {
		return nil, errors.Join(meterdomain.ErrInvalidRule, err)
	}
	return datatypes.JSON(raw), nil
}
