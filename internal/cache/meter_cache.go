package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultMeterTTL = 5 * time.Minute

// MeterCache stores active meters by event key for the ledger hot path.
// Only positive lookups are cached.
type MeterCache interface {
	Get(eventKey string) (*meterdomain.Meter, bool)
	Set(meter *meterdomain.Meter)
	Invalidate(eventKey string)
}

type meterCache struct {
	store *bigcache.BigCache
	log   *zap.Logger
}

// NewMeterCache builds a bigcache-backed MeterCache with entries living ttl.
func NewMeterCache(ttl time.Duration, log *zap.Logger) (MeterCache, func() error, error) {
	if ttl <= 0 {
		ttl = defaultMeterTTL
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.CleanWindow = ttl
	cfg.Verbose = false
	cfg.HardMaxCacheSize = 32

	store, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return &meterCache{store: store, log: log}, store.Close, nil
}

func (c *meterCache) Get(eventKey string) (*meterdomain.Meter, bool) {
	raw, err := c.store.Get(cacheKey(eventKey))
	if err != nil {
		return nil, false
	}
	var meter meterdomain.Meter
	if err := json.Unmarshal(raw, &meter); err != nil {
		_ = c.store.Delete(cacheKey(eventKey))
		return nil, false
	}
	return &meter, true
}

func (c *meterCache) Set(meter *meterdomain.Meter) {
	if meter == nil || meter.ID == 0 {
		return
	}
	raw, err := json.Marshal(meter)
	if err != nil {
		return
	}
	if err := c.store.Set(cacheKey(meter.EventKey), raw); err != nil {
		c.log.Debug("meter cache set failed", zap.String("event_key", meter.EventKey), zap.Error(err))
	}
}

func (c *meterCache) Invalidate(eventKey string) {
	_ = c.store.Delete(cacheKey(eventKey))
}

func cacheKey(eventKey string) string {
	return "meter:" + strings.TrimSpace(eventKey)
}

type meterCacheParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
}

func provideMeterCache(p meterCacheParams) (MeterCache, error) {
	cache, closeFn, err := NewMeterCache(defaultMeterTTL, p.Log.Named("cache.meter"))
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closeFn()
		},
	})
	return cache, nil
}

var Module = fx.Module("cache",
	fx.Provide(provideMeterCache),
)
