package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	errLeaseKeyEmpty = errors.New("lease_key_empty")
	errLeaseTTL      = errors.New("lease_ttl_not_positive")
)

const leaseAcquireScript = `
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
return 0
`

const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// keyLease grants one holder per key at a time. Both halves run as scripts
// so any redis.Scripter (client, ring or cluster) can back it.
type keyLease struct {
	client  redis.Scripter
	acquire *redis.Script
	release *redis.Script
	ttl     time.Duration
}

func newKeyLease(client redis.Scripter, ttl time.Duration) *keyLease {
	if client == nil {
		return nil
	}
	return &keyLease{
		client:  client,
		acquire: redis.NewScript(leaseAcquireScript),
		release: redis.NewScript(leaseReleaseScript),
		ttl:     ttl,
	}
}

// Acquire returns the holder token, or ok=false when someone else holds key.
func (k *keyLease) Acquire(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, errLeaseKeyEmpty
	}
	if k.ttl <= 0 {
		return "", false, errLeaseTTL
	}

	token := uuid.NewString()
	ttlMillis := strconv.FormatInt(k.ttl.Milliseconds(), 10)
	got, err := k.acquire.Run(ctx, k.client, []string{key}, token, ttlMillis).Int64()
	if err != nil {
		return "", false, err
	}
	if got != 1 {
		return "", false, nil
	}
	return token, true, nil
}

// Release is a no-op when the lease already expired or changed hands.
func (k *keyLease) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return k.release.Run(ctx, k.client, []string{key}, token).Err()
}
