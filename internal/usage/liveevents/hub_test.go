package liveevents

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubIsolatesTenants(t *testing.T) {
	hub := NewHub()

	subA, backlog, err := hub.Subscribe(1, "")
	require.NoError(t, err)
	require.Empty(t, backlog)
	defer subA.Close()

	subB, _, err := hub.Subscribe(2, "")
	require.NoError(t, err)
	defer subB.Close()

	hub.Publish(1, LiveEvent{UsageEventID: "10", EventKey: "api_call"})

	select {
	case ev := <-subA.Events():
		assert.Equal(t, "10", ev.UsageEventID)
	case <-time.After(time.Second):
		t.Fatal("tenant 1 subscriber did not receive event")
	}

	select {
	case ev := <-subB.Events():
		t.Fatalf("tenant 2 received foreign event %+v", ev)
	default:
	}
}

func TestHubFiltersByEventKeyAndReplaysBacklog(t *testing.T) {
	hub := NewHub()

	keep, _, err := hub.Subscribe(7, "")
	require.NoError(t, err)
	defer keep.Close()

	hub.Publish(7, LiveEvent{UsageEventID: "1", EventKey: "api_call"})
	hub.Publish(7, LiveEvent{UsageEventID: "2", EventKey: "storage_gb"})

	filtered, backlog, err := hub.Subscribe(7, "storage_gb")
	require.NoError(t, err)
	defer filtered.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, "2", backlog[0].UsageEventID)

	hub.Publish(7, LiveEvent{UsageEventID: "3", EventKey: "api_call"})
	select {
	case ev := <-filtered.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubBufferIsBounded(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(3, "")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish(3, LiveEvent{EventKey: "api_call"})
	}

	late, backlog, err := hub.Subscribe(3, "")
	require.NoError(t, err)
	defer late.Close()
	assert.Len(t, backlog, DefaultBufferSize)
}

func TestHubCloseDropsEmptyStream(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(4, "")
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	hub.mu.RLock()
	_, ok := hub.streams[4]
	hub.mu.RUnlock()
	assert.False(t, ok)
}

func TestSubscribeRejectsZeroTenant(t *testing.T) {
	_, _, err := NewHub().Subscribe(0, "")
	assert.ErrorIs(t, err, ErrInvalidTenant)

	var hub *Hub
	_, _, err = hub.Subscribe(1, "")
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestFromUsageEvent(t *testing.T) {
	key := "req-1"
	event := &usagedomain.UsageEvent{
		ID:             snowflake.ID(42),
		EventKey:       "api_call",
		Quantity:       decimal.RequireFromString("2.5"),
		OccurredAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		IdempotencyKey: &key,
	}

	live := FromUsageEvent(event, true)
	assert.Equal(t, "42", live.UsageEventID)
	assert.Equal(t, "2.5", live.Quantity)
	assert.Equal(t, "2026-01-02T03:04:05Z", live.OccurredAt)
	assert.Equal(t, "req-1", live.IdempotencyKey)
	assert.Equal(t, StatusReplayed, live.Status)
}
