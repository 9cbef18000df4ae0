package coordstore

import (
	"context"
	"time"
)

// Lock is a held distributed lock. Release must be called on every exit path of the critical
// section (§5 locking discipline, testable property 5); Release is itself safe to call more
// than once.
type Lock struct {
	facade   *Facade
	key      string
	lease    LeaseID
	released bool
}

// TryLock attempts to acquire key with the given ttl. ok is false (err nil) if the lock is
// already held — per §4.1/§7, contention is never an error.
func TryLock(ctx context.Context, f *Facade, key string, ttl time.Duration) (*Lock, bool, error) {
	lease, ok, err := f.TryAcquireLock(ctx, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lock{facade: f, key: key, lease: lease}, true, nil
}

// Release revokes the lease, falling back to a direct key delete if revocation fails (§4.3.4:
// "fall through to key-delete as a backup; log an error — the lease TTL will ultimately clean up").
// The caller is expected to log the returned error; Release never panics.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := l.facade.RevokeLease(ctx, l.lease); err != nil {
		return l.facade.Delete(ctx, l.key)
	}
	return nil
}
