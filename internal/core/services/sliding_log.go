package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

// SlidingLogOption customiza o SlidingLogLimiter.
type SlidingLogOption func(*SlidingLogLimiter)

// WithPrune remove as entradas anteriores à janela a cada acesso. Sem ela o sorted
// set cresce indefinidamente.
func WithPrune() SlidingLogOption {
	return func(l *SlidingLogLimiter) {
		l.prune = true
	}
}

// WithSlidingLogClock troca o relógio usado para gerar os scores.
func WithSlidingLogClock(now func() time.Time) SlidingLogOption {
	return func(l *SlidingLogLimiter) {
		l.now = now
	}
}

// SlidingLogLimiter guarda um registro por requisição admitida num sorted set, com
// score em epoch millis, e conta os registros dentro de [t-janela, t].
type SlidingLogLimiter struct {
	storage ports.Storage
	now     func() time.Time
	newID   func() string
	prune   bool
}

var _ ports.RateLimiter = (*SlidingLogLimiter)(nil)

func NewSlidingLogLimiter(storage ports.Storage, opts ...SlidingLogOption) (*SlidingLogLimiter, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	l := &SlidingLogLimiter{
		storage: storage,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow nega quando já existem MaxCount registros na janela. Requisições negadas
// não são registradas.
func (l *SlidingLogLimiter) Allow(ctx context.Context, key string, policy domain.LimitPolicy) (domain.Decision, error) {
	if err := policy.Validate(); err != nil {
		return domain.Decision{}, err
	}

	now := l.now().UnixMilli()
	windowStart := now - policy.Window().Milliseconds()

	if l.prune {
		if _, err := l.storage.ZRemRangeByScore(ctx, key, 0, windowStart-1); err != nil {
			return domain.Decision{}, err
		}
	}

	entries, err := l.storage.ZRangeByScore(ctx, key, windowStart, now)
	if err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Decision{
		Key:   key,
		Count: int64(len(entries)),
		Limit: int64(policy.MaxCount),
	}

	if decision.Count >= decision.Limit {
		decision.RetryAfter = policy.Window()
		return decision, nil
	}

	if err := l.storage.ZAdd(ctx, key, l.newID(), now); err != nil {
		return domain.Decision{}, err
	}

	decision.Allowed = true
	decision.Count++
	return decision, nil
}
