package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

const (
	DefaultTokenBucketKey      = "goods:limit:list"
	DefaultTokenBucketCapacity = 60
	DefaultTokenBucketInterval = time.Second
)

// TokenBucketConfig descreve a fila de tokens.
type TokenBucketConfig struct {
	Key      string
	Capacity int64
	Interval time.Duration
}

// TokenBucket mantém uma fila de tokens no storage. Um laço em segundo plano repõe
// um token por intervalo até a capacidade e cada requisição consome um token.
type TokenBucket struct {
	storage ports.Storage
	cfg     TokenBucketConfig
	logger  *zap.Logger
	newID   func() string
}

func NewTokenBucket(storage ports.Storage, cfg TokenBucketConfig, logger *zap.Logger) (*TokenBucket, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Key == "" {
		cfg.Key = DefaultTokenBucketKey
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultTokenBucketCapacity
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultTokenBucketInterval
	}
	if cfg.Capacity < 0 || cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: token bucket capacity and interval must be positive", domain.ErrPolicyMisconfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenBucket{
		storage: storage,
		cfg:     cfg,
		logger:  logger,
		newID:   uuid.NewString,
	}, nil
}

func (b *TokenBucket) Config() TokenBucketConfig {
	return b.cfg
}

// Refill adiciona um token se a fila estiver abaixo da capacidade. A leitura do
// tamanho e o push não são atômicos, então reposições concorrentes podem passar
// da capacidade por pouco.
func (b *TokenBucket) Refill(ctx context.Context) (bool, error) {
	size, err := b.storage.ListLen(ctx, b.cfg.Key)
	if err != nil {
		return false, err
	}
	if size >= b.cfg.Capacity {
		return false, nil
	}

	if err := b.storage.ListPush(ctx, b.cfg.Key, b.newID()); err != nil {
		return false, err
	}
	return true, nil
}

// Run repõe tokens a cada Interval, começando imediatamente, até ctx ser cancelado.
// Falhas de reposição são registradas e o laço continua.
func (b *TokenBucket) Run(ctx context.Context) error {
	ticker := rate.NewLimiter(rate.Every(b.cfg.Interval), 1)

	b.logger.Info("token refill started",
		zap.String("key", b.cfg.Key),
		zap.Int64("capacity", b.cfg.Capacity),
		zap.Duration("interval", b.cfg.Interval),
	)

	for {
		if err := ticker.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				b.logger.Info("token refill stopped", zap.String("key", b.cfg.Key))
				return nil
			}
			return err
		}

		if _, err := b.Refill(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("token refill failed", zap.String("key", b.cfg.Key), zap.Error(err))
		}
	}
}

// Take consome um token. Fila vazia nega a requisição.
func (b *TokenBucket) Take(ctx context.Context) (domain.Decision, error) {
	_, ok, err := b.storage.ListPopFront(ctx, b.cfg.Key)
	if err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Decision{Key: b.cfg.Key, Allowed: ok, Limit: b.cfg.Capacity}
	if !ok {
		decision.RetryAfter = b.cfg.Interval
	}
	return decision, nil
}
