package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/usageledger/internal/clock"
	"github.com/smallbiznis/usageledger/internal/config"
	"github.com/smallbiznis/usageledger/internal/events"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	"github.com/smallbiznis/usageledger/internal/events/repository"
	"github.com/smallbiznis/usageledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingHandler struct {
	eventType string

	mu        sync.Mutex
	calls     map[snowflake.ID]int
	tenants   []snowflake.ID
	failWith  error
	committed []snowflake.ID
}

func newRecordingHandler(eventType string) *recordingHandler {
	return &recordingHandler{eventType: eventType, calls: map[snowflake.ID]int{}}
}

func (h *recordingHandler) EventType() string { return h.eventType }

func (h *recordingHandler) Handle(_ context.Context, _ *gorm.DB, event *eventdomain.RelayEvent) (eventdomain.AfterCommit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[event.ID]++
	h.tenants = append(h.tenants, event.TenantID)
	if h.failWith != nil {
		return nil, h.failWith
	}
	return func(context.Context) {
		h.mu.Lock()
		h.committed = append(h.committed, event.ID)
		h.mu.Unlock()
	}, nil
}

type fixture struct {
	sched  *Scheduler
	db     *gorm.DB
	clock  *clock.FakeClock
	outbox *events.Outbox
}

func newFixture(t *testing.T, handlers ...eventdomain.Handler) fixture {
	t.Helper()
	conn := dbtest.Open(t, &eventdomain.RelayEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	registry, err := NewRegistry(handlers...)
	require.NoError(t, err)

	cfg := config.DefaultDispatcherConfig()
	sched, err := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Registry: registry,
		Config:   config.NewStaticDispatcherConfigHolder(cfg),
	})
	require.NoError(t, err)

	outbox := events.NewOutbox(events.OutboxParams{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return fixture{sched: sched, db: conn, clock: clk, outbox: outbox}
}

func (f fixture) publish(t *testing.T, tenantID snowflake.ID, eventType string) *eventdomain.RelayEvent {
	t.Helper()
	row, _, err := f.outbox.Publish(context.Background(), f.db, eventdomain.Event{
		TenantID:  tenantID,
		EventType: eventType,
	})
	require.NoError(t, err)
	return row
}

func (f fixture) load(t *testing.T, id snowflake.ID) eventdomain.RelayEvent {
	t.Helper()
	var row eventdomain.RelayEvent
	require.NoError(t, f.db.First(&row, "id = ?", id).Error)
	return row
}

func TestProcessDueOutboxEventsMarksDone(t *testing.T) {
	handler := newRecordingHandler("usage.recorded")
	f := newFixture(t, handler)
	ctx := context.Background()

	a := f.publish(t, 1, "usage.recorded")
	b := f.publish(t, 2, "usage.recorded")

	n, err := f.sched.ProcessDueOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []snowflake.ID{a.ID, b.ID} {
		row := f.load(t, id)
		assert.Equal(t, eventdomain.StatusDone, row.Status)
		assert.Nil(t, row.LastError)
		assert.Nil(t, row.ClaimToken)
		require.NotNil(t, row.ProcessedAt)
	}
	assert.ElementsMatch(t, []snowflake.ID{a.ID, b.ID}, handler.committed)
	assert.ElementsMatch(t, []snowflake.ID{1, 2}, handler.tenants)

	// Already-done rows are never picked up again.
	n, err = f.sched.ProcessDueOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, handler.calls[a.ID])
	assert.Equal(t, 1, handler.calls[b.ID])
}

func TestProcessDueOutboxEventsRetriesWithBackoffThenFails(t *testing.T) {
	handler := newRecordingHandler("usage.recorded")
	handler.failWith = errors.New("provider unavailable")
	f := newFixture(t, handler)
	ctx := context.Background()

	event := f.publish(t, 1, "usage.recorded")

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		n, err := f.sched.ProcessDueOutboxEvents(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, n, "attempt %d", attempt)

		row := f.load(t, event.ID)
		assert.Equal(t, attempt, row.AttemptCount)
		require.NotNil(t, row.LastError)
		assert.Equal(t, "provider unavailable", *row.LastError)

		if attempt < MaxAttempts {
			assert.Equal(t, eventdomain.StatusRetry, row.Status)
			want := f.clock.Now().Add(Backoff(attempt))
			assert.True(t, want.Equal(row.NextAttemptAt), "want %s got %s", want, row.NextAttemptAt)

			// Not due yet.
			n, err = f.sched.ProcessDueOutboxEvents(ctx, 10)
			require.NoError(t, err)
			assert.Zero(t, n)

			f.clock.Set(row.NextAttemptAt)
			continue
		}
		assert.Equal(t, eventdomain.StatusFailed, row.Status)
	}

	f.clock.Advance(24 * time.Hour)
	n, err := f.sched.ProcessDueOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, MaxAttempts, handler.calls[event.ID])
	assert.Empty(t, handler.committed)
}

func TestUnknownEventTypeFollowsRetryPath(t *testing.T) {
	f := newFixture(t)
	event := f.publish(t, 1, "invoice.sent")

	n, err := f.sched.ProcessDueOutboxEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row := f.load(t, event.ID)
	assert.Equal(t, eventdomain.StatusRetry, row.Status)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, ErrUnknownEventType.Error())
}

func TestConcurrentDispatchersNeverDoubleProcess(t *testing.T) {
	handler := newRecordingHandler("usage.recorded")
	f := newFixture(t, handler)

	const total = 40
	for i := 0; i < total; i++ {
		f.publish(t, snowflake.ID(1+i%3), "usage.recorded")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.sched.ProcessDueOutboxEvents(context.Background(), 5)
			assert.NoError(t, err)
			mu.Lock()
			processed += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Drain whatever the concurrent round left behind.
	for {
		n, err := f.sched.ProcessDueOutboxEvents(context.Background(), 5)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		processed += n
	}

	assert.Equal(t, total, processed)
	require.Len(t, handler.calls, total)
	for id, calls := range handler.calls {
		assert.Equal(t, 1, calls, "event %s", id)
	}
}

func TestRecoverExpiredLeases(t *testing.T) {
	f := newFixture(t, newRecordingHandler("usage.recorded"))
	ctx := context.Background()
	event := f.publish(t, 1, "usage.recorded")

	// A worker claims the row and dies before finishing it.
	now := f.clock.Now()
	claimed, err := repository.Provide().Claim(ctx, f.db, eventdomain.ClaimRequest{
		TenantID:   1,
		Now:        now,
		Limit:      10,
		ClaimToken: 99,
		LeaseUntil: now.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := f.sched.RecoverExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lease still valid")

	f.clock.Advance(2 * time.Minute)
	n, err = f.sched.RecoverExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row := f.load(t, event.ID)
	assert.Equal(t, eventdomain.StatusRetry, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Nil(t, row.ClaimToken)

	// The stale claim can no longer complete the row.
	ok, err := repository.Provide().Complete(ctx, f.db, 1, event.ID, 99, eventdomain.Outcome{
		Status: eventdomain.StatusDone,
		Now:    f.clock.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequeueFailedEvent(t *testing.T) {
	handler := newRecordingHandler("usage.recorded")
	handler.failWith = errors.New("boom")
	f := newFixture(t, handler)
	ctx := context.Background()
	event := f.publish(t, 1, "usage.recorded")

	for i := 0; i < MaxAttempts; i++ {
		_, err := f.sched.ProcessDueOutboxEvents(ctx, 10)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}
	failed, err := f.sched.ListFailed(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	none, err := f.sched.ListFailed(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.sched.Requeue(ctx, 2, event.ID)
	assert.ErrorIs(t, err, eventdomain.ErrNotFound)

	handler.mu.Lock()
	handler.failWith = nil
	handler.mu.Unlock()

	row, err := f.sched.Requeue(ctx, 1, event.ID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.StatusRetry, row.Status)
	assert.Zero(t, row.AttemptCount)

	n, err := f.sched.ProcessDueOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, eventdomain.StatusDone, f.load(t, event.ID).Status)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(newRecordingHandler("a"), newRecordingHandler("a"))
	assert.Error(t, err)

	r, err := NewRegistry(newRecordingHandler("b"), newRecordingHandler("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Types())
}
