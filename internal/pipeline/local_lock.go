package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// LocalLock is an in-process domain.LockManager used when Redis is not
// configured. Locks expire after their ttl like the Redis ones do.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]localHold
	now  func() time.Time
	seq  uint64
}

type localHold struct {
	token   uint64
	expires time.Time
}

// NewLocalLock creates an empty LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localHold), now: time.Now}
}

// Acquire implements domain.LockManager.
func (l *LocalLock) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, fmt.Errorf("pipeline: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	l.seq++
	l.held[key] = localHold{token: l.seq, expires: now.Add(ttl)}
	return &localLease{l: l, key: key, token: l.seq}, nil
}

type localLease struct {
	l     *LocalLock
	key   string
	token uint64
	once  sync.Once
}

func (h *localLease) Extend(_ context.Context, ttl time.Duration) error {
	h.l.mu.Lock()
	defer h.l.mu.Unlock()

	now := h.l.now()
	cur, ok := h.l.held[h.key]
	if !ok || cur.token != h.token || !now.Before(cur.expires) {
		return fmt.Errorf("pipeline: extend lock %s: %w", h.key, domain.ErrLockLost)
	}
	cur.expires = now.Add(ttl)
	h.l.held[h.key] = cur
	return nil
}

func (h *localLease) Release() {
	h.once.Do(func() {
		h.l.mu.Lock()
		defer h.l.mu.Unlock()
		if cur, ok := h.l.held[h.key]; ok && cur.token == h.token {
			delete(h.l.held, h.key)
		}
	})
}

var _ domain.LockManager = (*LocalLock)(nil)
