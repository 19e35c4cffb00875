package distlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalRegistry is an in-process lease table. It gives the same
// expiry semantics as RedisLock for a single process.
type LocalRegistry struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

type localLease struct {
	owner   string
	expires time.Time
}

// NewLocalRegistry creates an empty lease table.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{leases: make(map[string]localLease), now: time.Now}
}

// NewLock returns a lock on key that expires ttl after acquisition.
func (r *LocalRegistry) NewLock(key string, ttl time.Duration) *LocalLock {
	return &LocalLock{reg: r, key: key, owner: uuid.NewString(), ttl: ttl}
}

// LocalLock is a lease in a LocalRegistry.
type LocalLock struct {
	reg   *LocalRegistry
	key   string
	owner string
	ttl   time.Duration
}

// Acquire takes the lease if it is free or expired.
func (l *LocalLock) Acquire(_ context.Context) (bool, error) {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	now := l.reg.now()
	if cur, ok := l.reg.leases[l.key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	l.reg.leases[l.key] = localLease{owner: l.owner, expires: now.Add(l.ttl)}
	return true, nil
}

// Release drops the lease if this lock still owns it.
func (l *LocalLock) Release(_ context.Context) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if cur, ok := l.reg.leases[l.key]; ok && cur.owner == l.owner {
		delete(l.reg.leases, l.key)
	}
	return nil
}
