// Package handlers agrupa os handlers HTTP de exemplo protegidos pelo limiter.
package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JeanGrijp/request-limit/internal/adapters/http/response"
	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
	"github.com/JeanGrijp/request-limit/internal/core/services"
)

const (
	DefaultSlidingLogKey = "goods:limit:zset"

	testSucceeded  = "request succeeded"
	goodsRetrieved = "goods retrieved"
)

// DefaultSlidingLogPolicy admite 5 requisições a cada 10 segundos em /goods/findAll.
func DefaultSlidingLogPolicy() domain.LimitPolicy {
	return domain.LimitPolicy{Second: 10, MaxCount: 5}
}

// Route associa um handler ao caminho e, quando Policy não é nil, à política do gate.
type Route struct {
	Method  string
	Path    string
	Policy  *domain.LimitPolicy
	Handler http.HandlerFunc
}

// RouteGroup monta rotas sob um prefixo comum. Policy vale para toda rota do
// grupo que não declara a própria.
type RouteGroup struct {
	Prefix string
	Policy *domain.LimitPolicy
	Routes []Route
}

// Expand devolve as rotas com o prefixo aplicado e a política do grupo herdada.
func (g RouteGroup) Expand() []Route {
	routes := make([]Route, 0, len(g.Routes))
	for _, rt := range g.Routes {
		rt.Path = g.Prefix + rt.Path
		if rt.Policy == nil && g.Policy != nil {
			policy := *g.Policy
			rt.Policy = &policy
		}
		routes = append(routes, rt)
	}
	return routes
}

// GoodsConfig configura os limites aplicados dentro dos próprios handlers.
type GoodsConfig struct {
	SlidingLogKey    string
	SlidingLogPolicy domain.LimitPolicy
	RejectStatus     int
	// FailOpen deixa a requisição passar quando o storage falha, como no gate.
	FailOpen bool
	// GroupPolicy, quando definida, protege pelo gate toda rota /goods sem política própria.
	GroupPolicy *domain.LimitPolicy
}

type GoodsHandler struct {
	slidingLog ports.RateLimiter
	bucket     *services.TokenBucket
	cfg        GoodsConfig
	logger     *zap.Logger
}

func NewGoodsHandler(slidingLog ports.RateLimiter, bucket *services.TokenBucket, cfg GoodsConfig, logger *zap.Logger) (*GoodsHandler, error) {
	if slidingLog == nil || bucket == nil {
		return nil, fmt.Errorf("sliding log limiter and token bucket are required")
	}
	if cfg.SlidingLogKey == "" {
		cfg.SlidingLogKey = DefaultSlidingLogKey
	}
	if cfg.SlidingLogPolicy == (domain.LimitPolicy{}) {
		cfg.SlidingLogPolicy = DefaultSlidingLogPolicy()
	}
	if err := cfg.SlidingLogPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("sliding log: %w", err)
	}
	if cfg.GroupPolicy != nil {
		if err := cfg.GroupPolicy.Validate(); err != nil {
			return nil, fmt.Errorf("goods group: %w", err)
		}
	}
	if cfg.RejectStatus == 0 {
		cfg.RejectStatus = http.StatusTooManyRequests
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GoodsHandler{slidingLog: slidingLog, bucket: bucket, cfg: cfg, logger: logger}, nil
}

// GoodsRoutes é a tabela de rotas. /goods/test é protegida pelo gate com a
// política padrão; as outras aplicam o próprio limite e só passam pelo gate
// quando GroupPolicy está definida.
func (h *GoodsHandler) GoodsRoutes() []Route {
	testPolicy := domain.DefaultLimitPolicy()

	return RouteGroup{
		Prefix: "/goods",
		Policy: h.cfg.GroupPolicy,
		Routes: []Route{
			{Method: http.MethodGet, Path: "/test", Policy: &testPolicy, Handler: h.Test},
			{Method: http.MethodGet, Path: "/findAll", Handler: h.FindAll},
			{Method: http.MethodGet, Path: "/findAll2", Handler: h.FindAllWithToken},
		},
	}.Expand()
}

// Policies extrai as políticas declaradas na tabela de rotas.
func Policies(routes []Route) map[domain.Route]domain.LimitPolicy {
	policies := make(map[domain.Route]domain.LimitPolicy)
	for _, rt := range routes {
		if rt.Policy == nil {
			continue
		}
		policies[domain.Route{Method: rt.Method, Path: rt.Path}] = *rt.Policy
	}
	return policies
}

func (h *GoodsHandler) Test(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, http.StatusOK, response.Success(testSucceeded))
}

// FindAll usa um sliding log compartilhado por todos os clientes.
func (h *GoodsHandler) FindAll(w http.ResponseWriter, r *http.Request) {
	decision, err := h.slidingLog.Allow(r.Context(), h.cfg.SlidingLogKey, h.cfg.SlidingLogPolicy)
	if err != nil {
		h.logger.Error("sliding log check failed", zap.String("key", h.cfg.SlidingLogKey), zap.Error(err))
		h.storeFailure(w)
		return
	}
	if !decision.Allowed {
		h.reject(w, decision)
		return
	}

	response.Write(w, http.StatusOK, response.Success(goodsRetrieved))
}

// FindAllWithToken consome um token da fila abastecida pelo refill.
func (h *GoodsHandler) FindAllWithToken(w http.ResponseWriter, r *http.Request) {
	decision, err := h.bucket.Take(r.Context())
	if err != nil {
		h.logger.Error("token take failed", zap.String("key", h.bucket.Config().Key), zap.Error(err))
		h.storeFailure(w)
		return
	}
	if !decision.Allowed {
		h.reject(w, decision)
		return
	}

	response.Write(w, http.StatusOK, response.Success(goodsRetrieved))
}

// storeFailure segue a mesma política de falha do gate.
func (h *GoodsHandler) storeFailure(w http.ResponseWriter) {
	if h.cfg.FailOpen {
		response.Write(w, http.StatusOK, response.Success(goodsRetrieved))
		return
	}
	response.Write(w, http.StatusServiceUnavailable, response.Fail(domain.StatusFailure))
}

func (h *GoodsHandler) reject(w http.ResponseWriter, decision domain.Decision) {
	h.logger.Info("request limited",
		zap.String("key", decision.Key),
		zap.Duration("retry_after", decision.RetryAfter),
		zap.Error(decision.Err()),
	)
	response.SetRetryAfter(w, decision.RetryAfter)
	response.Write(w, h.cfg.RejectStatus, response.Fail(domain.StatusRequestLimit))
}
