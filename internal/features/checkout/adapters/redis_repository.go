package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tryonx-checkout/internal/core/cache"
	"tryonx-checkout/internal/features/checkout/domain"
)

const (
	attemptLockKeyPrefix    = "checkout:lock:"
	attemptArchiveKeyPrefix = "checkout:attempt:"
)

// RedisAttemptLock implements ports.AttemptLock on the cache adapter. The lock
// guarantees at most one active checkout attempt per cart across service
// instances; the TTL bounds how long a crashed instance can hold a cart.
type RedisAttemptLock struct {
	cache cache.Cache
}

// NewRedisAttemptLock creates a new RedisAttemptLock.
func NewRedisAttemptLock(c cache.Cache) *RedisAttemptLock {
	return &RedisAttemptLock{cache: c}
}

// Acquire takes the per-cart lock. Returns false when another attempt holds it.
func (r *RedisAttemptLock) Acquire(ctx context.Context, cartID, merchantOrderRef string, ttl time.Duration) (bool, error) {
	ok, err := r.cache.SetNX(ctx, attemptLockKeyPrefix+cartID, []byte(merchantOrderRef), ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire attempt lock for cart %s: %w", cartID, err)
	}
	return ok, nil
}

// Release frees the per-cart lock.
func (r *RedisAttemptLock) Release(ctx context.Context, cartID string) error {
	if err := r.cache.Delete(ctx, attemptLockKeyPrefix+cartID); err != nil {
		return fmt.Errorf("failed to release attempt lock for cart %s: %w", cartID, err)
	}
	return nil
}

// RedisAttemptArchive implements ports.AttemptArchive on the cache adapter.
// Terminal attempts are kept, keyed by merchant order reference, so support
// can reconcile a charged-but-unrecorded transaction after the fact.
type RedisAttemptArchive struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisAttemptArchive creates a new RedisAttemptArchive with the given retention.
func NewRedisAttemptArchive(c cache.Cache, ttl time.Duration) *RedisAttemptArchive {
	return &RedisAttemptArchive{cache: c, ttl: ttl}
}

// Save stores the terminal attempt record.
func (r *RedisAttemptArchive) Save(ctx context.Context, record domain.AttemptRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}

	key := attemptArchiveKeyPrefix + record.MerchantOrderRef
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		return fmt.Errorf("failed to save attempt record: %w", err)
	}
	return nil
}

// Get retrieves an archived attempt by merchant order reference.
// Returns nil, nil when no record exists.
func (r *RedisAttemptArchive) Get(ctx context.Context, merchantOrderRef string) (*domain.AttemptRecord, error) {
	data, err := r.cache.Get(ctx, attemptArchiveKeyPrefix+merchantOrderRef)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get attempt record: %w", err)
	}

	var record domain.AttemptRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt record: %w", err)
	}
	return &record, nil
}
