// Package redis disponibiliza a implementação do storage baseada em Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

// INCR cria chaves ausentes; o script devolve nil nesse caso para que Increment
// consiga reportar domain.ErrKeyNotFound de forma atômica.
const incrementExistingLua = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return false
end
return redis.call("INCR", KEYS[1])
`

type Storage struct {
	client          *redis.Client
	incrementScript *redis.Script
}

var _ ports.Storage = (*Storage)(nil)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout limita leitura e escrita no socket; zero mantém o padrão do cliente.
	Timeout time.Duration
}

func New(cfg Config) (*Storage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(client), nil
}

// newClient liga ContextTimeoutEnabled para que o deadline de cada chamada
// chegue ao socket; sem isso o go-redis ignora o contexto durante o I/O.
func newClient(cfg Config) *redis.Client {
	opts := &redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	}
	if cfg.Timeout > 0 {
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	return redis.NewClient(opts)
}

// NewFromClient reaproveita um cliente já configurado.
func NewFromClient(client *redis.Client) *Storage {
	return &Storage{
		client:          client,
		incrementScript: redis.NewScript(incrementExistingLua),
	}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", err)
	}
	return value, true, nil
}

func (s *Storage) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr("set", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Storage) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapErr("setnx", err)
	}
	return ok, nil
}

func (s *Storage) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.incrementScript.Run(ctx, s.client, []string{key}).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("incr %s: %w", key, domain.ErrKeyNotFound)
	}
	if err != nil {
		return 0, wrapErr("incr", err)
	}
	return n, nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapErr("exists", err)
	}
	return exists > 0, nil
}

// TTL devolve false quando a chave não existe ou não tem expiração.
func (s *Storage) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, wrapErr("pttl", err)
	}
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (s *Storage) ZAdd(ctx context.Context, key, member string, score int64) error {
	return wrapErr("zadd", s.client.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member}).Err())
}

func (s *Storage) ZRangeByScore(ctx context.Context, key string, min, max int64) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(min, 10),
		Max: strconv.FormatInt(max, 10),
	}).Result()
	if err != nil {
		return nil, wrapErr("zrangebyscore", err)
	}
	return members, nil
}

func (s *Storage) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("zcard", err)
	}
	return n, nil
}

func (s *Storage) ZRemRangeByScore(ctx context.Context, key string, min, max int64) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, key, strconv.FormatInt(min, 10), strconv.FormatInt(max, 10)).Result()
	if err != nil {
		return 0, wrapErr("zremrangebyscore", err)
	}
	return n, nil
}

func (s *Storage) ListPush(ctx context.Context, key, value string) error {
	return wrapErr("rpush", s.client.RPush(ctx, key, value).Err())
}

func (s *Storage) ListPopFront(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("lpop", err)
	}
	return value, true, nil
}

func (s *Storage) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("llen", err)
	}
	return n, nil
}

// wrapErr separa respostas de erro do servidor (comando inválido, tipo errado) de
// falhas de transporte, que viram domain.ErrStoreUnavailable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
