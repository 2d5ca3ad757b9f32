package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpHandlers "github.com/JeanGrijp/request-limit/internal/adapters/http/handlers"
	httpMiddleware "github.com/JeanGrijp/request-limit/internal/adapters/http/middleware"
	memorystorage "github.com/JeanGrijp/request-limit/internal/adapters/storage/memory"
	redisstorage "github.com/JeanGrijp/request-limit/internal/adapters/storage/redis"
	"github.com/JeanGrijp/request-limit/internal/config"
	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
	"github.com/JeanGrijp/request-limit/internal/core/services"
	"github.com/JeanGrijp/request-limit/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	rawStorage, closeFn, err := initStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer closeFn()

	storage, err := services.NewGuardedStorage(rawStorage, services.GuardedConfig{
		Timeout: cfg.Storage.Timeout,
		Retries: cfg.Storage.Retries,
	})
	if err != nil {
		return err
	}

	gateLimiter, err := initLimiter(storage, cfg.RateLimiter)
	if err != nil {
		return fmt.Errorf("failed to create limiter: %w", err)
	}

	var slidingOpts []services.SlidingLogOption
	if cfg.RateLimiter.Prune {
		slidingOpts = append(slidingOpts, services.WithPrune())
	}
	slidingLog, err := services.NewSlidingLogLimiter(storage, slidingOpts...)
	if err != nil {
		return err
	}

	bucket, err := services.NewTokenBucket(storage, services.TokenBucketConfig{
		Key:      cfg.TokenBucket.Key,
		Capacity: cfg.TokenBucket.Capacity,
		Interval: cfg.TokenBucket.Interval,
	}, logger.Named("token_bucket"))
	if err != nil {
		return err
	}

	goods, err := httpHandlers.NewGoodsHandler(slidingLog, bucket, httpHandlers.GoodsConfig{
		SlidingLogKey:    cfg.SlidingLog.Key,
		SlidingLogPolicy: cfg.SlidingLog.Policy,
		RejectStatus:     cfg.RateLimiter.RejectStatus,
		FailOpen:         cfg.RateLimiter.FailOpen,
		GroupPolicy:      cfg.Goods.GroupPolicy,
	}, logger.Named("goods"))
	if err != nil {
		return err
	}
	routes := goods.GoodsRoutes()

	gate, err := services.NewGate(gateLimiter, services.GateConfig{
		Policies: mergePolicies(httpHandlers.Policies(routes), cfg.RateLimiter.RouteOverrides),
		FailOpen: cfg.RateLimiter.FailOpen,
	}, logger.Named("gate"))
	if err != nil {
		return fmt.Errorf("failed to create gate: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(httpMiddleware.NewAccessLogMiddleware(logger.Named("http")))
	r.Get("/healthz", httpHandlers.NewHealthHandler(storage))
	r.Group(func(r chi.Router) {
		r.Use(httpMiddleware.NewRequestLimitMiddleware(gate, httpMiddleware.Options{
			RejectStatus:      cfg.RateLimiter.RejectStatus,
			TrustForwardedFor: cfg.RateLimiter.TrustForwardedFor,
		}))
		for _, rt := range routes {
			r.Method(rt.Method, rt.Path, rt.Handler)
		}
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bucket.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Type),
			zap.String("strategy", cfg.RateLimiter.Strategy),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func initStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ports.Storage, func(), error) {
	switch cfg.Type {
	case config.StorageRedis:
		redisCfg := redisstorage.Config{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Timeout,
		}
		storage, err := redisstorage.New(redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return storage, func() {
			if err := storage.Close(); err != nil {
				logger.Error("failed to close redis storage", zap.Error(err))
			}
		}, nil
	case config.StorageMemory:
		storage := memorystorage.New()
		storage.StartJanitor(ctx, cfg.CleanupInterval)
		logger.Warn("using in-memory storage; limits are not shared between instances")
		return storage, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func initLimiter(storage ports.Storage, cfg config.RateLimiterConfig) (ports.RateLimiter, error) {
	switch cfg.Strategy {
	case config.StrategyFixedWindow:
		var opts []services.FixedWindowOption
		if cfg.AtomicFirstHit {
			opts = append(opts, services.WithAtomicFirstHit())
		}
		limiter, err := services.NewFixedWindowLimiter(storage, opts...)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	case config.StrategySlidingLog:
		var opts []services.SlidingLogOption
		if cfg.Prune {
			opts = append(opts, services.WithPrune())
		}
		limiter, err := services.NewSlidingLogLimiter(storage, opts...)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	default:
		return nil, fmt.Errorf("%w: unsupported limiter strategy %q", domain.ErrPolicyMisconfigured, cfg.Strategy)
	}
}

// mergePolicies aplica os overrides do ambiente por cima da tabela de rotas.
func mergePolicies(base, overrides map[domain.Route]domain.LimitPolicy) map[domain.Route]domain.LimitPolicy {
	merged := make(map[domain.Route]domain.LimitPolicy, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
