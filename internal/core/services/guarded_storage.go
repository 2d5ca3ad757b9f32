package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

const (
	DefaultStoreTimeout = 100 * time.Millisecond
	DefaultStoreRetries = 1
)

// GuardedConfig define o timeout por chamada e quantas vezes leituras são repetidas.
type GuardedConfig struct {
	Timeout time.Duration
	Retries int
}

// GuardedStorage limita cada chamada ao storage com um timeout. Apenas leituras são
// repetidas após falha de disponibilidade; escritas não, para não contar duas vezes.
type GuardedStorage struct {
	next    ports.Storage
	timeout time.Duration
	retries int
	backoff backoff.Backoff
}

var _ ports.Storage = (*GuardedStorage)(nil)

func NewGuardedStorage(next ports.Storage, cfg GuardedConfig) (*GuardedStorage, error) {
	if next == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStoreTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return &GuardedStorage{
		next:    next,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		backoff: backoff.Backoff{
			Min:    10 * time.Millisecond,
			Max:    cfg.Timeout,
			Factor: 2,
			Jitter: true,
		},
	}, nil
}

// guard executa fn com timeout. Com retry=true, falhas de disponibilidade são
// repetidas até g.retries vezes enquanto o contexto do chamador seguir vivo.
func guard[T any](ctx context.Context, g *GuardedStorage, retry bool, fn func(context.Context) (T, error)) (T, error) {
	attempts := 1
	if retry {
		attempts += g.retries
	}

	var (
		result T
		err    error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// ForAttempt não altera estado, então o backoff pode ser compartilhado
			timer := time.NewTimer(g.backoff.ForAttempt(float64(attempt - 1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		result, err = fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return result, nil
		}
		if timedOut && !domain.IsStoreUnavailable(err) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		if !domain.IsStoreUnavailable(err) || ctx.Err() != nil {
			return result, err
		}
	}
	return result, err
}

func guardErr(ctx context.Context, g *GuardedStorage, retry bool, fn func(context.Context) error) error {
	_, err := guard(ctx, g, retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type lookup struct {
	value string
	found bool
}

type ttlLookup struct {
	ttl time.Duration
	ok  bool
}

func (g *GuardedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := guard(ctx, g, true, func(ctx context.Context) (lookup, error) {
		v, found, err := g.next.Get(ctx, key)
		return lookup{v, found}, err
	})
	return res.value, res.found, err
}

func (g *GuardedStorage) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return guardErr(ctx, g, false, func(ctx context.Context) error {
		return g.next.SetWithTTL(ctx, key, value, ttl)
	})
}

func (g *GuardedStorage) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return guard(ctx, g, false, func(ctx context.Context) (bool, error) {
		return g.next.SetNX(ctx, key, value, ttl)
	})
}

func (g *GuardedStorage) Increment(ctx context.Context, key string) (int64, error) {
	return guard(ctx, g, false, func(ctx context.Context) (int64, error) {
		return g.next.Increment(ctx, key)
	})
}

func (g *GuardedStorage) Exists(ctx context.Context, key string) (bool, error) {
	return guard(ctx, g, true, func(ctx context.Context) (bool, error) {
		return g.next.Exists(ctx, key)
	})
}

func (g *GuardedStorage) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	res, err := guard(ctx, g, true, func(ctx context.Context) (ttlLookup, error) {
		ttl, ok, err := g.next.TTL(ctx, key)
		return ttlLookup{ttl, ok}, err
	})
	return res.ttl, res.ok, err
}

func (g *GuardedStorage) ZAdd(ctx context.Context, key, member string, score int64) error {
	return guardErr(ctx, g, false, func(ctx context.Context) error {
		return g.next.ZAdd(ctx, key, member, score)
	})
}

func (g *GuardedStorage) ZRangeByScore(ctx context.Context, key string, min, max int64) ([]string, error) {
	return guard(ctx, g, true, func(ctx context.Context) ([]string, error) {
		return g.next.ZRangeByScore(ctx, key, min, max)
	})
}

func (g *GuardedStorage) ZCard(ctx context.Context, key string) (int64, error) {
	return guard(ctx, g, true, func(ctx context.Context) (int64, error) {
		return g.next.ZCard(ctx, key)
	})
}

// ZRemRangeByScore é idempotente e pode ser repetido.
func (g *GuardedStorage) ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int64, error) {
	return guard(ctx, g, true, func(ctx context.Context) (int64, error) {
		return g.next.ZRemRangeByScore(ctx, key, min, max)
	})
}

func (g *GuardedStorage) ListPush(ctx context.Context, key, value string) error {
	return guardErr(ctx, g, false, func(ctx context.Context) error {
		return g.next.ListPush(ctx, key, value)
	})
}

func (g *GuardedStorage) ListPopFront(ctx context.Context, key string) (string, bool, error) {
	res, err := guard(ctx, g, false, func(ctx context.Context) (lookup, error) {
		v, found, err := g.next.ListPopFront(ctx, key)
		return lookup{v, found}, err
	})
	return res.value, res.found, err
}

func (g *GuardedStorage) ListLen(ctx context.Context, key string) (int64, error) {
	return guard(ctx, g, true, func(ctx context.Context) (int64, error) {
		return g.next.ListLen(ctx, key)
	})
}
