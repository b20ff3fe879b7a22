package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsTenantLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "123"),
		attribute.String("event_key", "ai.tokens"),
		attribute.String("outcome", "created"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" {
			t.Fatalf("expected tenant_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordUsageEmitted(context.Background(), "api.calls", false)
	m.RecordProviderPush(context.Background(), "stripe", errors.New("boom"))

	var d *DispatcherMetrics
	d.ObserveEvent("usage.recorded", OutcomeDone, time.Second)
	d.AddClaimed(3)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "usageledger"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("expected instruments, got %v", err)
	}
	m.RecordLedgerEntry(context.Background(), "usd", true)
}

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("row: %w", context.DeadlineExceeded), want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}

	if !IsRetryable(context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be retryable")
	}
	if IsRetryable(gorm.ErrDuplicatedKey) {
		t.Fatalf("expected unique violation to be terminal")
	}
}

func TestObserveEventCountsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newDispatcherMetrics(registry, Config{ServiceName: "usageledger", Environment: "test"})

	m.ObserveEvent("usage.recorded", OutcomeDone, 10*time.Millisecond)
	m.ObserveEvent("usage.recorded", OutcomeDone, 10*time.Millisecond)
	m.ObserveEvent("usage.recorded", OutcomeRetry, 10*time.Millisecond)
	m.AddClaimed(3)

	if got := testutil.ToFloat64(m.eventsOutcome.WithLabelValues("usage.recorded", OutcomeDone)); got != 2 {
		t.Fatalf("expected 2 done events, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventsClaimed); got != 3 {
		t.Fatalf("expected 3 claimed events, got %v", got)
	}
}
