package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JeanGrijp/request-limit/internal/adapters/storage/memory"
	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryStorage(t *testing.T) (*memory.Storage, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return memory.New(memory.WithClock(clock.Now)), clock
}

// unavailableStorage falha toda chamada como se o Redis estivesse fora.
type unavailableStorage struct {
	ports.Storage
	calls atomic.Int64
}

func (s *unavailableStorage) fail(op string) error {
	s.calls.Add(1)
	return fmt.Errorf("redis %s: %w: connection refused", op, domain.ErrStoreUnavailable)
}

func (s *unavailableStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, s.fail("get")
}

func (s *unavailableStorage) Increment(context.Context, string) (int64, error) {
	return 0, s.fail("incr")
}

func (s *unavailableStorage) ZRangeByScore(context.Context, string, int64, int64) ([]string, error) {
	return nil, s.fail("zrangebyscore")
}

func (s *unavailableStorage) ListLen(context.Context, string) (int64, error) {
	return 0, s.fail("llen")
}

// blockingStorage segura Get e Increment até o contexto da chamada expirar.
type blockingStorage struct {
	ports.Storage
	gets  atomic.Int64
	incrs atomic.Int64
}

func (s *blockingStorage) Get(ctx context.Context, _ string) (string, bool, error) {
	s.gets.Add(1)
	<-ctx.Done()
	return "", false, ctx.Err()
}

func (s *blockingStorage) Increment(ctx context.Context, _ string) (int64, error) {
	s.incrs.Add(1)
	<-ctx.Done()
	return 0, ctx.Err()
}
