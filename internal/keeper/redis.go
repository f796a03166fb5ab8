package keeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another keeper instance holds the run lock.
var ErrLockHeld = errors.New("keeper: lock held")

const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisStore keeps the run lock, per-series sweep cursors and settled
// markers in Redis so several replicas can share one schedule.
type RedisStore struct {
	rdb      redis.UniversalClient
	prefix   string
	unlockSc *redis.Script
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "optsettle:keeper"
	}
	return &RedisStore{
		rdb:      rdb,
		prefix:   prefix,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Acquire takes the named lock for ttl. The returned unlock is safe to call
// more than once and only deletes the key while it still holds our token.
func (s *RedisStore) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := s.key("lock", name)

	ok, err := s.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("keeper: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.unlockSc.Run(unlockCtx, s.rdb, []string{lk}, token).Err()
	}, nil
}

// Cursor returns the next holder index to sweep, 0 when unset.
func (s *RedisStore) Cursor(ctx context.Context, series common.Hash) (int, error) {
	v, err := s.rdb.Get(ctx, s.key("cursor", series.Hex())).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("keeper: read cursor %s: %w", series.Hex(), err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("keeper: cursor %s: %w", series.Hex(), err)
	}
	return n, nil
}

func (s *RedisStore) SetCursor(ctx context.Context, series common.Hash, next int) error {
	if err := s.rdb.Set(ctx, s.key("cursor", series.Hex()), next, 0).Err(); err != nil {
		return fmt.Errorf("keeper: write cursor %s: %w", series.Hex(), err)
	}
	return nil
}

// MarkSettled records that the statement of series was archived. It
// reports false when the marker already existed.
func (s *RedisStore) MarkSettled(ctx context.Context, series common.Hash) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key("settled", series.Hex()), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, fmt.Errorf("keeper: mark settled %s: %w", series.Hex(), err)
	}
	return ok, nil
}

// ClearSettled drops the settled marker so the next run archives again.
func (s *RedisStore) ClearSettled(ctx context.Context, series common.Hash) error {
	if err := s.rdb.Del(ctx, s.key("settled", series.Hex())).Err(); err != nil {
		return fmt.Errorf("keeper: clear settled %s: %w", series.Hex(), err)
	}
	return nil
}
