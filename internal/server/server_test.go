package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/usageledger/internal/observability"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	"github.com/smallbiznis/usageledger/internal/ratelimit"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeUsageService struct {
	emitted []usagedomain.EmitRequest
	seen    map[string]*usagedomain.UsageEvent
}

func newFakeUsageService() *fakeUsageService {
	return &fakeUsageService{seen: map[string]*usagedomain.UsageEvent{}}
}

func (f *fakeUsageService) Emit(_ context.Context, req usagedomain.EmitRequest) (*usagedomain.EmitResult, error) {
	if req.EventKey == "" {
		return nil, usagedomain.ErrInvalidEventKey
	}
	f.emitted = append(f.emitted, req)
	if event, ok := f.seen[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &usagedomain.EmitResult{Event: event, Replayed: true}, nil
	}
	event := &usagedomain.UsageEvent{
		ID:       snowflake.ID(len(f.emitted)),
		TenantID: req.TenantID,
		EventKey: req.EventKey,
		Quantity: req.Quantity,
	}
	f.seen[req.IdempotencyKey] = event
	return &usagedomain.EmitResult{Event: event}, nil
}

func (f *fakeUsageService) EmitTx(ctx context.Context, _ *gorm.DB, req usagedomain.EmitRequest) (*usagedomain.EmitResult, error) {
	return f.Emit(ctx, req)
}

func (f *fakeUsageService) Get(context.Context, snowflake.ID, snowflake.ID) (*usagedomain.UsageEvent, error) {
	return nil, usagedomain.ErrNotFound
}

func (f *fakeUsageService) List(context.Context, usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	return usagedomain.ListResponse{UsageEvents: []*usagedomain.UsageEvent{}}, nil
}

type fakeWebhookService struct {
	result    *paymentdomain.WebhookResult
	err       error
	signature string
	provider  string
}

func (f *fakeWebhookService) HandleWebhook(_ context.Context, provider string, _ []byte, signature string) (*paymentdomain.WebhookResult, error) {
	f.provider = provider
	f.signature = signature
	return f.result, f.err
}

type fakePaymentService struct{}

func (fakePaymentService) CreateCheckoutSession(context.Context, paymentdomain.CreateCheckoutRequest) (*paymentdomain.Session, error) {
	return nil, paymentdomain.ErrProviderNotConfigured
}

func (fakePaymentService) CreatePortalSession(context.Context, paymentdomain.CreatePortalRequest) (*paymentdomain.Session, error) {
	return nil, paymentdomain.ErrCustomerNotFound
}

func (fakePaymentService) PushUsage(context.Context, paymentdomain.MeteredUsage) error {
	return paymentdomain.ErrProviderNotConfigured
}

func (fakePaymentService) Configured() bool { return false }

// denyingScripter answers every token bucket call with an empty bucket.
type denyingScripter struct{}

func (denyingScripter) result() *redis.Cmd {
	return redis.NewCmdResult([]any{int64(0), "0", int64(1700000000000)}, nil)
}

func (d denyingScripter) Eval(context.Context, string, []string, ...any) *redis.Cmd {
	return d.result()
}

func (d denyingScripter) EvalSha(context.Context, string, []string, ...any) *redis.Cmd {
	return d.result()
}

func (d denyingScripter) EvalRO(context.Context, string, []string, ...any) *redis.Cmd {
	return d.result()
}

func (d denyingScripter) EvalShaRO(context.Context, string, []string, ...any) *redis.Cmd {
	return d.result()
}

func (denyingScripter) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (denyingScripter) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

type testServer struct {
	engine  *gin.Engine
	usage   *fakeUsageService
	webhook *fakeWebhookService
}

func newTestServer(t *testing.T, limiter *ratelimit.UsageEmitLimiter) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	usage := newFakeUsageService()
	webhook := &fakeWebhookService{}
	engine := NewEngine(observability.Config{})
	NewServer(ServerParams{
		Gin:          engine,
		UsageSvc:     usage,
		PaymentSvc:   fakePaymentService{},
		WebhookSvc:   webhook,
		UsageLimiter: limiter,
	})
	return testServer{engine: engine, usage: usage, webhook: webhook}
}

func (ts testServer) do(t *testing.T, method, path, tenant string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/usage", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "tenant_required", payload.Errors[0].Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage", "acme", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_tenant", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage", "42", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmitUsage(t *testing.T) {
	ts := newTestServer(t, nil)
	body := map[string]any{"event_key": "api_calls", "quantity": "3", "idempotency_key": "req-1"}

	rec := ts.do(t, http.MethodPost, "/v1/usage", "42", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp emitUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Replayed)
	assert.True(t, decimal.NewFromInt(3).Equal(resp.Event.Quantity))

	rec = ts.do(t, http.MethodPost, "/v1/usage", "42", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Replayed)

	require.Len(t, ts.usage.emitted, 2)
	assert.Equal(t, int64(42), ts.usage.emitted[0].TenantID.Int64())
}

func TestEmitUsageTakesIdempotencyHeader(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/v1/usage", "42",
		map[string]any{"event_key": "api_calls", "quantity": "1"},
		idempotencyHeader, "hdr-1",
	)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, ts.usage.emitted, 1)
	assert.Equal(t, "hdr-1", ts.usage.emitted[0].IdempotencyKey)
}

func TestEmitUsageValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/usage", "42", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(t, http.MethodPost, "/v1/usage", "42", map[string]any{"quantity": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Equal(t, "invalid_event_key", payload.Errors[0].Code)
	assert.Equal(t, "event_key", payload.Errors[0].Field)
}

func TestEmitUsageRateLimited(t *testing.T) {
	limiter := ratelimit.NewUsageEmitLimiterWithClient(denyingScripter{}, 1, 1)
	ts := newTestServer(t, limiter)

	rec := ts.do(t, http.MethodPost, "/v1/usage", "42", map[string]any{"event_key": "api_calls", "quantity": "1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, rateLimitReasonTenantRate, rec.Header().Get("X-Rate-Limited-Reason"))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Empty(t, ts.usage.emitted)
}

func TestListUsageRejectsBadRange(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/v1/usage?from=2025-02-01&to=2025-01-01", "42", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(t, http.MethodGet, "/v1/usage?from=yesterday", "42", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUsageNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/v1/usage/123", "42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestPaymentWebhookStatuses(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.webhook.result = &paymentdomain.WebhookResult{Status: paymentdomain.WebhookDuplicate, EventID: "evt_1"}
	rec := ts.do(t, http.MethodPost, "/webhooks/stripe", "", `{"id":"evt_1"}`, stripeSignatureHeader, "t=1,v1=abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stripe", ts.webhook.provider)
	assert.Equal(t, "t=1,v1=abc", ts.webhook.signature)

	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{paymentdomain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{paymentdomain.ErrProviderNotFound, http.StatusNotFound, "not_found"},
		{paymentdomain.ErrProviderNotConfigured, http.StatusServiceUnavailable, "provider_not_configured"},
		{paymentdomain.ErrTenantUnresolved, http.StatusServiceUnavailable, "tenant_unresolved"},
	}
	for _, tc := range cases {
		ts.webhook.result, ts.webhook.err = nil, tc.err
		rec = ts.do(t, http.MethodPost, "/webhooks/stripe", "", `{}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.kind, decodeError(t, rec).Type)
	}
}

func TestPaymentWebhookRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.webhook.result = &paymentdomain.WebhookResult{Status: paymentdomain.WebhookDuplicate}

	body := strings.Repeat("x", maxWebhookBodyBytes+1)
	rec := ts.do(t, http.MethodPost, "/webhooks/stripe", "", body, stripeSignatureHeader, "t=1,v1=abc")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec).Type)
	assert.Empty(t, ts.webhook.provider)

	body = strings.Repeat("x", maxWebhookBodyBytes)
	rec = ts.do(t, http.MethodPost, "/webhooks/stripe", "", body, stripeSignatureHeader, "t=1,v1=abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stripe", ts.webhook.provider)
}

func TestCheckoutWithoutProvider(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/billing/checkout", "42", map[string]any{"plan_code": "pro"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "provider_not_configured", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPost, "/v1/billing/portal", "42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOutboxRoutesNeedScheduler(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/admin/outbox/failed", "42", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
