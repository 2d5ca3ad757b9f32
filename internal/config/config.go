// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
)

const (
	StorageRedis  = "redis"
	StorageMemory = "memory"

	StrategyFixedWindow = "fixed_window"
	StrategySlidingLog  = "sliding_log"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	TokenBucket TokenBucketConfig
	SlidingLog  SlidingLogConfig
	Goods       GoodsConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	Type            string
	Timeout         time.Duration
	Retries         int
	CleanupInterval time.Duration
	Redis           RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RateLimiterConfig struct {
	Strategy          string
	AtomicFirstHit    bool
	Prune             bool
	FailOpen          bool
	RejectStatus      int
	TrustForwardedFor bool
	// RouteOverrides substitui ou acrescenta políticas à tabela de rotas.
	RouteOverrides map[domain.Route]domain.LimitPolicy
}

type TokenBucketConfig struct {
	Key      string
	Capacity int64
	Interval time.Duration
}

type SlidingLogConfig struct {
	Key    string
	Policy domain.LimitPolicy
}

// GoodsConfig define a política padrão do grupo /goods. Nil deixa cada rota
// com a própria configuração.
type GoodsConfig struct {
	GroupPolicy *domain.LimitPolicy
}

type LogConfig struct {
	Level  string
	Format string
}

// env espelha as variáveis de ambiente lidas pelo envconfig.
type env struct {
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`

	StorageType           string        `envconfig:"STORAGE_TYPE" default:"redis"`
	StoreTimeout          time.Duration `envconfig:"STORE_TIMEOUT" default:"100ms"`
	StoreRetries          int           `envconfig:"STORE_RETRIES" default:"1"`
	MemoryCleanupInterval time.Duration `envconfig:"MEMORY_CLEANUP_INTERVAL" default:"1m"`
	RedisHost             string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort             int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword         string        `envconfig:"REDIS_PASSWORD"`
	RedisDB               int           `envconfig:"REDIS_DB" default:"0"`

	LimiterStrategy   string `envconfig:"LIMITER_STRATEGY" default:"fixed_window"`
	AtomicFirstHit    bool   `envconfig:"LIMITER_ATOMIC_FIRST_HIT" default:"false"`
	Prune             bool   `envconfig:"LIMITER_PRUNE" default:"false"`
	FailOpen          bool   `envconfig:"FAIL_OPEN" default:"false"`
	RejectStatus      int    `envconfig:"REJECT_STATUS" default:"429"`
	TrustForwardedFor bool   `envconfig:"TRUST_FORWARDED_FOR" default:"false"`
	Routes            string `envconfig:"RATE_LIMIT_ROUTES"`

	TokenBucketKey      string        `envconfig:"TOKEN_BUCKET_KEY" default:"goods:limit:list"`
	TokenBucketCapacity int64         `envconfig:"TOKEN_BUCKET_CAPACITY" default:"60"`
	TokenBucketInterval time.Duration `envconfig:"TOKEN_BUCKET_INTERVAL" default:"1s"`

	SlidingLogKey           string `envconfig:"SLIDING_LOG_KEY" default:"goods:limit:zset"`
	SlidingLogWindowSeconds int    `envconfig:"SLIDING_LOG_WINDOW_SECONDS" default:"10"`
	SlidingLogMaxCount      int    `envconfig:"SLIDING_LOG_MAX_COUNT" default:"5"`

	GoodsGroupPolicy string `envconfig:"GOODS_GROUP_POLICY"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return Config{}, fmt.Errorf("invalid environment: %w", err)
	}

	overrides, err := buildRouteOverrides(e.Routes)
	if err != nil {
		return Config{}, err
	}

	groupPolicy, err := parseGroupPolicy(e.GoodsGroupPolicy)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{Port: e.ServerPort},
		Storage: StorageConfig{
			Type:            strings.ToLower(strings.TrimSpace(e.StorageType)),
			Timeout:         e.StoreTimeout,
			Retries:         e.StoreRetries,
			CleanupInterval: e.MemoryCleanupInterval,
			Redis: RedisConfig{
				Host:     e.RedisHost,
				Port:     e.RedisPort,
				Password: e.RedisPassword,
				DB:       e.RedisDB,
			},
		},
		RateLimiter: RateLimiterConfig{
			Strategy:          strings.ToLower(strings.TrimSpace(e.LimiterStrategy)),
			AtomicFirstHit:    e.AtomicFirstHit,
			Prune:             e.Prune,
			FailOpen:          e.FailOpen,
			RejectStatus:      e.RejectStatus,
			TrustForwardedFor: e.TrustForwardedFor,
			RouteOverrides:    overrides,
		},
		TokenBucket: TokenBucketConfig{
			Key:      e.TokenBucketKey,
			Capacity: e.TokenBucketCapacity,
			Interval: e.TokenBucketInterval,
		},
		SlidingLog: SlidingLogConfig{
			Key:    e.SlidingLogKey,
			Policy: domain.LimitPolicy{Second: e.SlidingLogWindowSeconds, MaxCount: e.SlidingLogMaxCount},
		},
		Goods: GoodsConfig{GroupPolicy: groupPolicy},
		Log:   LogConfig{Level: e.LogLevel, Format: e.LogFormat},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Type {
	case StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.RateLimiter.Strategy {
	case StrategyFixedWindow, StrategySlidingLog:
	default:
		return fmt.Errorf("%w: unsupported limiter strategy %q", domain.ErrPolicyMisconfigured, c.RateLimiter.Strategy)
	}

	if c.RateLimiter.RejectStatus < 100 || c.RateLimiter.RejectStatus > 599 {
		return fmt.Errorf("invalid REJECT_STATUS: %d", c.RateLimiter.RejectStatus)
	}
	if c.TokenBucket.Capacity <= 0 || c.TokenBucket.Interval <= 0 {
		return fmt.Errorf("%w: token bucket capacity and interval must be positive", domain.ErrPolicyMisconfigured)
	}
	if err := c.SlidingLog.Policy.Validate(); err != nil {
		return fmt.Errorf("sliding log: %w", err)
	}
	return nil
}

// buildRouteOverrides lê RATE_LIMIT_ROUTES no formato
// "METHOD /path:SECOND:MAX_COUNT,...". O método é opcional.
func buildRouteOverrides(raw string) (map[domain.Route]domain.LimitPolicy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[domain.Route]domain.LimitPolicy{}, nil
	}

	overrides := make(map[domain.Route]domain.LimitPolicy)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.Split(item, ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("route override must follow [METHOD ]PATH:SECOND:MAX_COUNT: %s", item)
		}

		target := strings.Join(parts[:len(parts)-2], ":")
		route, err := parseRoute(target)
		if err != nil {
			return nil, err
		}

		policy, err := parsePolicy(parts[len(parts)-2], parts[len(parts)-1])
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route, err)
		}
		overrides[route] = policy
	}

	return overrides, nil
}

// parseGroupPolicy lê GOODS_GROUP_POLICY no formato "SECOND:MAX_COUNT".
func parseGroupPolicy(raw string) (*domain.LimitPolicy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("GOODS_GROUP_POLICY must follow SECOND:MAX_COUNT: %s", raw)
	}

	policy, err := parsePolicy(parts[0], parts[1])
	if err != nil {
		return nil, fmt.Errorf("goods group: %w", err)
	}
	return &policy, nil
}

func parsePolicy(rawSecond, rawMaxCount string) (domain.LimitPolicy, error) {
	second, err := strconv.Atoi(strings.TrimSpace(rawSecond))
	if err != nil {
		return domain.LimitPolicy{}, fmt.Errorf("invalid second: %w", err)
	}
	maxCount, err := strconv.Atoi(strings.TrimSpace(rawMaxCount))
	if err != nil {
		return domain.LimitPolicy{}, fmt.Errorf("invalid maxCount: %w", err)
	}

	policy := domain.LimitPolicy{Second: second, MaxCount: maxCount}
	if err := policy.Validate(); err != nil {
		return domain.LimitPolicy{}, err
	}
	return policy, nil
}

func parseRoute(target string) (domain.Route, error) {
	fields := strings.Fields(target)
	switch len(fields) {
	case 1:
		if !strings.HasPrefix(fields[0], "/") {
			return domain.Route{}, fmt.Errorf("route path must start with '/': %s", target)
		}
		return domain.Route{Path: fields[0]}, nil
	case 2:
		if !strings.HasPrefix(fields[1], "/") {
			return domain.Route{}, fmt.Errorf("route path must start with '/': %s", target)
		}
		return domain.Route{Method: strings.ToUpper(fields[0]), Path: fields[1]}, nil
	default:
		return domain.Route{}, fmt.Errorf("invalid route in override: %q", target)
	}
}
