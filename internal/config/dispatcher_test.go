package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestValidateDispatcherConfig(t *testing.T) {
	if err := validateDispatcherConfig(DefaultDispatcherConfig()); err != nil {
		t.Fatalf("expected defaults to be valid, got %v", err)
	}

	bad := DefaultDispatcherConfig()
	bad.BatchSize = 0
	if err := validateDispatcherConfig(bad); err == nil {
		t.Fatalf("expected zero batch size to be rejected")
	}

	bad = DefaultDispatcherConfig()
	bad.TenantLimit = 0
	if err := validateDispatcherConfig(bad); err == nil {
		t.Fatalf("expected zero tenant limit to be rejected")
	}

	bad = DefaultDispatcherConfig()
	bad.RowTimeout = 0
	if err := validateDispatcherConfig(bad); err == nil {
		t.Fatalf("expected zero row timeout to be rejected")
	}

	bad = DefaultDispatcherConfig()
	bad.LeaseDuration = -time.Second
	if err := validateDispatcherConfig(bad); err == nil {
		t.Fatalf("expected negative lease to be rejected")
	}
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.BatchSize = 7
	holder := NewStaticDispatcherConfigHolder(cfg)
	if got := holder.Get().BatchSize; got != 7 {
		t.Fatalf("expected batch size 7, got %d", got)
	}
}

func TestLoadReadsStripeSettings(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", " sk_test_123 ")
	t.Setenv("APP_MODE", "dispatcher")
	cfg := Load()
	if !cfg.Stripe.Configured() {
		t.Fatalf("expected stripe to be configured")
	}
	if cfg.Stripe.SecretKey != "sk_test_123" {
		t.Fatalf("expected trimmed secret key, got %q", cfg.Stripe.SecretKey)
	}
	if !cfg.RunsDispatcher() {
		t.Fatalf("expected dispatcher mode to run dispatcher")
	}
}

func TestDispatcherHolderDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewDispatcherConfigHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := holder.Get(); got != DefaultDispatcherConfig() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestDispatcherHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	body := "dispatcher:\n  batchSize: 25\n  runInterval: 5s\n"
	if err := os.WriteFile(filepath.Join(dir, "dispatcher.yml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	holder, err := NewDispatcherConfigHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := holder.Get()
	if got.BatchSize != 25 || got.RunInterval != 5*time.Second {
		t.Fatalf("file values not applied: %+v", got)
	}
	defaults := DefaultDispatcherConfig()
	if got.LeaseDuration != defaults.LeaseDuration {
		t.Fatalf("expected default lease, got %s", got.LeaseDuration)
	}
	if got.TenantLimit != defaults.TenantLimit || got.RowTimeout != defaults.RowTimeout {
		t.Fatalf("expected defaults for keys missing from the file, got %+v", got)
	}
}

func TestDispatcherHolderKeepsDefaultsForPartialFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	body := "dispatcher:\n  batchSize: 25\n  runInterval: 5s\n  leaseDuration: 5m\n"
	if err := os.WriteFile(filepath.Join(dir, "dispatcher.yml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	holder, err := NewDispatcherConfigHolder(zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := DefaultDispatcherConfig()
	want.BatchSize = 25
	want.RunInterval = 5 * time.Second
	if got := holder.Get(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestDispatcherHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "dispatcher.yml"), []byte("dispatcher:\n  batchSize: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewDispatcherConfigHolder(zap.NewNop()); err == nil {
		t.Fatalf("expected zero batch size to be rejected")
	}
}
