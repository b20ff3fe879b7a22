package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "01HZX")
	payload := map[string]any{"usage_event_id": "1"}
	InjectIntoPayload(ctx, payload)
	require.Equal(t, "01HZX", payload[PayloadKey])

	restored := ContextFromPayload(context.Background(), payload)
	require.Equal(t, "01HZX", ExtractCorrelationID(restored))
}

func TestEnsureGeneratesID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, cid)
	require.Equal(t, cid, ExtractCorrelationID(ctx))

	_, again := EnsureCorrelationID(ctx)
	require.Equal(t, cid, again)
}
