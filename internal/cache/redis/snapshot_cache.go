package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. The latest-per-key set is
// stored as one JSON blob so a read never mixes two pipeline runs.
//
// Key schema:
//
//	evemarket:snapshots:latest - JSON array of domain.Snapshot
//	evemarket:snapshots:gen    - invalidation counter
type SnapshotCache struct {
	rdb   *redis.Client
	ttl   time.Duration
	setSc *redis.Script
}

// setIfGenLua writes the set only while the counter still holds the
// generation the reader observed before querying the store.
//
// KEYS[1] = generation key
// KEYS[2] = latest key
// ARGV[1] = observed generation
// ARGV[2] = JSON payload
// ARGV[3] = ttl in milliseconds
const setIfGenLua = `
local cur = redis.call('GET', KEYS[1])
if cur == false then
    cur = '0'
end
if cur ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`

// NewSnapshotCache creates a SnapshotCache whose entries expire after ttl
// (five minutes when ttl is not positive).
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl, setSc: redis.NewScript(setIfGenLua)}
}

func latestSnapshotsKey() string { return keyPrefix + "snapshots:latest" }

func snapshotGenKey() string { return keyPrefix + "snapshots:gen" }

// Generation returns the current invalidation counter, 0 before the first
// invalidation.
func (sc *SnapshotCache) Generation(ctx context.Context) (int64, error) {
	gen, err := sc.rdb.Get(ctx, snapshotGenKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: get snapshot generation: %w", err)
	}
	return gen, nil
}

// SetLatest replaces the cached latest-per-key set unless the cache was
// invalidated after gen was read.
func (sc *SnapshotCache) SetLatest(ctx context.Context, gen int64, snaps []domain.Snapshot) (bool, error) {
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	data, err := json.Marshal(snaps)
	if err != nil {
		return false, fmt.Errorf("redis: marshal latest snapshots: %w", err)
	}
	res, err := sc.setSc.Run(ctx, sc.rdb,
		[]string{snapshotGenKey(), latestSnapshotsKey()},
		strconv.FormatInt(gen, 10), data, sc.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: set latest snapshots: %w", err)
	}
	return res == 1, nil
}

// GetLatest returns the cached set or domain.ErrNotFound on a miss.
func (sc *SnapshotCache) GetLatest(ctx context.Context) ([]domain.Snapshot, error) {
	data, err := sc.rdb.Get(ctx, latestSnapshotsKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get latest snapshots: %w", err)
	}

	var snaps []domain.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("redis: unmarshal latest snapshots: %w", err)
	}
	return snaps, nil
}

// Invalidate bumps the generation and drops the cached set. It is called
// after every committed batch.
func (sc *SnapshotCache) Invalidate(ctx context.Context) error {
	_, err := sc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, snapshotGenKey())
		pipe.Del(ctx, latestSnapshotsKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: invalidate latest snapshots: %w", err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
