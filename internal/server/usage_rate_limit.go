package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/usageledger/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonTenantRate     = "tenant-rate"
	rateLimitReasonKeyConcurrency = "idempotency-key-concurrency"
)

type usageEmitRateLimitKey struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// UsageEmitRateLimit throttles emission per tenant and rejects a second
// in-flight request carrying the same idempotency key. Redis failures
// answer 503 rather than letting traffic through unchecked.
func (s *Server) UsageEmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		tenant := tenantID(c).String()
		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		result, err := s.usageLimiter.AllowTenant(ctx, tenant)
		if err != nil {
			logger.FromContext(ctx).Warn("usage.ratelimit.check_failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			s.denyUsageEmit(c, endpoint, rateLimitReasonTenantRate, retryAfter)
			return
		}

		key, err := readIdempotencyKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("usage.ratelimit.read_body_failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if key != "" {
			token, locked, err := s.usageLimiter.TryLockKey(ctx, tenant, key)
			if err != nil {
				logger.FromContext(ctx).Warn("usage.ratelimit.lock_failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !locked {
				s.denyUsageEmit(c, endpoint, rateLimitReasonKeyConcurrency, 1)
				return
			}
			defer func() {
				if err := s.usageLimiter.ReleaseKey(ctx, tenant, key, token); err != nil {
					logger.FromContext(ctx).Warn("usage.ratelimit.unlock_failed", zap.Error(err))
				}
			}()
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func (s *Server) denyUsageEmit(c *gin.Context, endpoint, reason string, retryAfter int) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("usage.ratelimit.exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

// readIdempotencyKey peeks at the body and restores it for the handler. The
// body key wins over the header, matching EmitUsage.
func readIdempotencyKey(c *gin.Context) (string, error) {
	header := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return header, nil
	}

	var payload usageEmitRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return header, nil
	}
	if key := strings.TrimSpace(payload.IdempotencyKey); key != "" {
		return key, nil
	}
	return header, nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
