package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// releaseScript deletes a lease only when the caller still owns it, so a
// run that outlived its lease cannot release a successor's lease.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Lease provides short-lived distributed locks over the cache store.
// Scheduled jobs use it to skip a cycle while the previous run is still in
// flight, including runs held by another process.
type Lease struct {
	store *Store
}

// NewLease creates a lease manager backed by the given store.
func NewLease(store *Store) *Lease {
	return &Lease{store: store}
}

// TryRun executes fn while holding the named lease. Returns false without
// running fn when the lease is already held. The ttl bounds how long a
// crashed holder can block successors; pick it longer than the job's worst
// expected runtime.
func (l *Lease) TryRun(ctx context.Context, name string, ttl time.Duration, fn func() error) (bool, error) {
	token := uuid.NewString()

	acquired, err := l.acquire(ctx, name, token, ttl)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	// Release with a fresh context: fn may have consumed the deadline.
	defer l.release(name, token)

	return true, fn()
}

func (l *Lease) acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key := l.store.prefix + "lease:" + name

	ok, err := l.store.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	return ok, nil
}

func (l *Lease) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := l.store.prefix + "lease:" + name
	if err := l.store.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		l.store.log.Warn().Err(err).Str("lease", name).Msg("Failed to release lease")
	}
}
