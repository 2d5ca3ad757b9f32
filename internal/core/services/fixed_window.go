package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

const firstHitValue = "1"

// FixedWindowOption customiza o FixedWindowLimiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithAtomicFirstHit usa SetNX na primeira requisição da janela. Sem ela, duas
// requisições simultâneas podem ambas semear o contador com 1.
func WithAtomicFirstHit() FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.atomicFirstHit = true
	}
}

// FixedWindowLimiter conta requisições por chave numa janela fixa que começa na
// primeira requisição e expira junto com o TTL do contador.
type FixedWindowLimiter struct {
	storage        ports.Storage
	atomicFirstHit bool
}

var _ ports.RateLimiter = (*FixedWindowLimiter)(nil)

func NewFixedWindowLimiter(storage ports.Storage, opts ...FixedWindowOption) (*FixedWindowLimiter, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	l := &FixedWindowLimiter{storage: storage}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow aplica a política à chave. Ao negar, o contador não é incrementado.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, policy domain.LimitPolicy) (domain.Decision, error) {
	if err := policy.Validate(); err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Decision{Key: key, Limit: int64(policy.MaxCount)}

	raw, found, err := l.storage.Get(ctx, key)
	if err != nil {
		return domain.Decision{}, err
	}

	if !found {
		seeded, err := l.seed(ctx, key, policy)
		if err != nil {
			return domain.Decision{}, err
		}
		if seeded {
			decision.Allowed = true
			decision.Count = 1
			return decision, nil
		}

		// outra requisição semeou a janela entre o Get e o SetNX
		raw, found, err = l.storage.Get(ctx, key)
		if err != nil {
			return domain.Decision{}, err
		}
		if !found {
			raw = "0"
		}
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("counter %s holds non-numeric value %q", key, raw)
	}

	if count >= int64(policy.MaxCount) {
		decision.Count = count
		decision.RetryAfter = l.retryAfter(ctx, key, policy)
		return decision, nil
	}

	next, err := l.storage.Increment(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		// a janela expirou entre o Get e o Increment
		if err := l.storage.SetWithTTL(ctx, key, firstHitValue, policy.Window()); err != nil {
			return domain.Decision{}, err
		}
		next = 1
	} else if err != nil {
		return domain.Decision{}, err
	}

	decision.Allowed = true
	decision.Count = next
	return decision, nil
}

func (l *FixedWindowLimiter) seed(ctx context.Context, key string, policy domain.LimitPolicy) (bool, error) {
	if !l.atomicFirstHit {
		if err := l.storage.SetWithTTL(ctx, key, firstHitValue, policy.Window()); err != nil {
			return false, err
		}
		return true, nil
	}
	return l.storage.SetNX(ctx, key, firstHitValue, policy.Window())
}

// retryAfter usa o TTL restante do contador e cai para a janela inteira se ele não
// estiver disponível.
func (l *FixedWindowLimiter) retryAfter(ctx context.Context, key string, policy domain.LimitPolicy) time.Duration {
	ttl, ok, err := l.storage.TTL(ctx, key)
	if err != nil || !ok || ttl <= 0 {
		return policy.Window()
	}
	return ttl
}
