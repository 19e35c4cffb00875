package distlock

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// Provider hands out per-key leases from one configured backend.
// Workers hold a Provider and ask it for a fresh lock per campaign.
type Provider struct {
	redis *redis.Client
	db    *sql.DB
	local *LocalRegistry
}

// NewProvider picks Redis when available, then PostgreSQL, then an
// in-process registry (single-process development mode).
func NewProvider(redisClient *redis.Client, db *sql.DB) *Provider {
	p := &Provider{redis: redisClient, db: db}
	if redisClient == nil && db == nil {
		p.local = NewLocalRegistry()
	}
	return p
}

// NewLocalProvider returns a Provider backed only by process memory.
func NewLocalProvider() *Provider {
	return &Provider{local: NewLocalRegistry()}
}

// Backend names the lock implementation in use, for startup logs.
func (p *Provider) Backend() string {
	switch {
	case p.local != nil:
		return "local"
	case p.redis != nil:
		return "redis"
	default:
		return "postgres"
	}
}

// Lock returns a new, unacquired lock for key.
func (p *Provider) Lock(key string, ttl time.Duration) DistLock {
	if p.local != nil {
		return p.local.NewLock(key, ttl)
	}
	return NewLock(p.redis, p.db, key, ttl)
}

// AcquireWithRetry polls Acquire up to attempts times, waiting between
// tries. It returns false without error if the lock stayed held.
func AcquireWithRetry(ctx context.Context, l DistLock, attempts int, wait time.Duration) (bool, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return false, nil
}
