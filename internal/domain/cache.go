package domain

import (
	"context"
	"time"
)

// SnapshotCache holds the most recent latest-per-key result so read paths
// can skip the store. GetLatest returns ErrNotFound on a miss.
//
// Every Invalidate bumps a generation counter. A reader takes Generation
// before querying the store and hands it to SetLatest, which stores nothing
// when an invalidation happened in between.
type SnapshotCache interface {
	Generation(ctx context.Context) (int64, error)
	SetLatest(ctx context.Context, gen int64, snaps []Snapshot) (stored bool, err error)
	GetLatest(ctx context.Context) ([]Snapshot, error)
	Invalidate(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Acquire fails with ErrLockHeld
// when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock. Extend pushes the expiry ttl into the future and
// fails with ErrLockLost once the hold has expired or passed to another
// holder. Release is idempotent.
type Lock interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}
