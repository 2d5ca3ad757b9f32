// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"
)

// Storage é a fachada sobre o key-value store compartilhado. Falhas de rede ou de
// timeout chegam embrulhadas em domain.ErrStoreUnavailable.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Increment falha com domain.ErrKeyNotFound se a chave não existir.
	Increment(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	ZAdd(ctx context.Context, key, member string, score int64) error
	ZRangeByScore(ctx context.Context, key string, min, max int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int64, error)

	ListPush(ctx context.Context, key, value string) error
	ListPopFront(ctx context.Context, key string) (string, bool, error)
	ListLen(ctx context.Context, key string) (int64, error)
}
