package keeper_test

import (
	"OptionSettle/internal/keeper"
	"OptionSettle/internal/testutil"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *keeper.RedisStore {
	t.Helper()
	testutil.RequireIntegration(t)

	rdb := redis.NewClient(&redis.Options{Addr: testutil.TestRedisAddr()})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("test redis not available: %v", err)
	}

	prefix := fmt.Sprintf("optsettle-test:%d", time.Now().UnixNano())
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})
	return keeper.NewRedisStore(rdb, prefix)
}

func TestRedisStore_LockIsExclusive(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	unlock, err := s.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := s.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, keeper.ErrLockHeld) {
		t.Fatalf("second acquire: %v", err)
	}

	unlock()
	unlock()

	again, err := s.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	again()
}

func TestRedisStore_CursorAndSettled(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	id := testutil.SeriesID()

	if n, err := s.Cursor(ctx, id); err != nil || n != 0 {
		t.Fatalf("unset cursor = %d, %v", n, err)
	}
	if err := s.SetCursor(ctx, id, 42); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if n, err := s.Cursor(ctx, id); err != nil || n != 42 {
		t.Fatalf("cursor = %d, %v", n, err)
	}

	first, err := s.MarkSettled(ctx, id)
	if err != nil || !first {
		t.Fatalf("first mark = %v, %v", first, err)
	}
	if again, _ := s.MarkSettled(ctx, id); again {
		t.Error("second mark should report false")
	}
	if err := s.ClearSettled(ctx, id); err != nil {
		t.Fatalf("ClearSettled: %v", err)
	}
	if first, _ := s.MarkSettled(ctx, id); !first {
		t.Error("mark after clear should report true")
	}
}
