package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DispatcherConfig tunes the outbox dispatcher. It is reloaded without a restart
// whenever dispatcher.yml changes.
type DispatcherConfig struct {
	BatchSize     int           `mapstructure:"batchSize"`
	TenantLimit   int           `mapstructure:"tenantLimit"`
	RunInterval   time.Duration `mapstructure:"runInterval"`
	LeaseDuration time.Duration `mapstructure:"leaseDuration"`
	RowTimeout    time.Duration `mapstructure:"rowTimeout"`
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:     100,
		TenantLimit:   500,
		RunInterval:   15 * time.Second,
		LeaseDuration: 5 * time.Minute,
		RowTimeout:    30 * time.Second,
	}
}

type DispatcherConfigHolder struct {
	current atomic.Value // holds DispatcherConfig
}

// NewStaticDispatcherConfigHolder returns a holder that never reloads.
func NewStaticDispatcherConfigHolder(cfg DispatcherConfig) *DispatcherConfigHolder {
	holder := &DispatcherConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewDispatcherConfigHolder reads dispatcher.yml when present and watches it
// for edits. Invalid reloads keep the previous config.
func NewDispatcherConfigHolder(log *zap.Logger) (*DispatcherConfigHolder, error) {
	log = log.Named("config.dispatcher")
	v := viper.New()

	v.SetConfigName("dispatcher")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/usageledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("USAGELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDispatcherConfig()
	v.SetDefault("dispatcher.batchSize", defaults.BatchSize)
	v.SetDefault("dispatcher.tenantLimit", defaults.TenantLimit)
	v.SetDefault("dispatcher.runInterval", defaults.RunInterval)
	v.SetDefault("dispatcher.leaseDuration", defaults.LeaseDuration)
	v.SetDefault("dispatcher.rowTimeout", defaults.RowTimeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg := readDispatcherConfig(v)
	if err := validateDispatcherConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticDispatcherConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := readDispatcherConfig(v)
		if err := validateDispatcherConfig(updated); err != nil {
			log.Warn("config.dispatcher.invalid", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("config.dispatcher.reloaded",
			zap.String("file", e.Name),
			zap.Int("batch_size", updated.BatchSize),
			zap.Int("tenant_limit", updated.TenantLimit),
			zap.Duration("run_interval", updated.RunInterval),
		)
	})

	return holder, nil
}

// readDispatcherConfig reads key by key. Unmarshalling the "dispatcher" map
// would drop the defaults of any key the file leaves out.
func readDispatcherConfig(v *viper.Viper) DispatcherConfig {
	return DispatcherConfig{
		BatchSize:     v.GetInt("dispatcher.batchSize"),
		TenantLimit:   v.GetInt("dispatcher.tenantLimit"),
		RunInterval:   v.GetDuration("dispatcher.runInterval"),
		LeaseDuration: v.GetDuration("dispatcher.leaseDuration"),
		RowTimeout:    v.GetDuration("dispatcher.rowTimeout"),
	}
}

func (h *DispatcherConfigHolder) Get() DispatcherConfig {
	return h.current.Load().(DispatcherConfig)
}

func validateDispatcherConfig(cfg DispatcherConfig) error {
	if cfg.BatchSize <= 0 {
		return errors.New("dispatcher.batchSize must be positive")
	}
	if cfg.TenantLimit <= 0 {
		return errors.New("dispatcher.tenantLimit must be positive")
	}
	if cfg.RunInterval <= 0 {
		return errors.New("dispatcher.runInterval must be positive")
	}
	if cfg.LeaseDuration <= 0 {
		return errors.New("dispatcher.leaseDuration must be positive")
	}
	if cfg.RowTimeout <= 0 {
		return errors.New("dispatcher.rowTimeout must be positive")
	}
	return nil
}
