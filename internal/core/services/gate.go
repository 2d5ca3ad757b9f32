package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

// GateConfig agrega as políticas por rota e o comportamento quando o storage falha.
type GateConfig struct {
	Policies map[domain.Route]domain.LimitPolicy
	// FailOpen libera a requisição quando o storage está indisponível. O padrão é
	// negar.
	FailOpen bool
}

// Gate decide, antes do handler, se uma requisição segue adiante.
type Gate struct {
	limiter  ports.RateLimiter
	policies map[domain.Route]domain.LimitPolicy
	failOpen bool
	logger   *zap.Logger
}

var _ ports.DecisionGate = (*Gate)(nil)

// NewGate valida todas as políticas e falha na primeira inválida.
func NewGate(limiter ports.RateLimiter, cfg GateConfig, logger *zap.Logger) (*Gate, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policies := make(map[domain.Route]domain.LimitPolicy, len(cfg.Policies))
	for route, policy := range cfg.Policies {
		if route.Path == "" {
			return nil, fmt.Errorf("%w: route with empty path", domain.ErrPolicyMisconfigured)
		}
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", route, err)
		}
		policies[route] = policy
	}

	return &Gate{
		limiter:  limiter,
		policies: policies,
		failOpen: cfg.FailOpen,
		logger:   logger,
	}, nil
}

// PolicyFor procura a política pelo método exato e depois pela rota sem método.
func (g *Gate) PolicyFor(method, path string) (domain.Route, domain.LimitPolicy, bool) {
	route := domain.Route{Method: method, Path: path}
	if policy, ok := g.policies[route]; ok {
		return route, policy, true
	}

	route.Method = ""
	if policy, ok := g.policies[route]; ok {
		return route, policy, true
	}
	return domain.Route{}, domain.LimitPolicy{}, false
}

// Evaluate nunca devolve erro: falhas do storage viram fail_open ou fail_closed e
// ficam em Verdict.Err. Requisições negadas levam ErrLimitExceeded no mesmo campo.
func (g *Gate) Evaluate(ctx context.Context, req domain.Request) domain.Verdict {
	route, policy, ok := g.PolicyFor(req.Method, req.Path)
	if !ok {
		// rota sem política não toca no storage
		verdict := domain.Verdict{Outcome: domain.OutcomeBypassed}
		g.log(domain.Route{Method: req.Method, Path: req.Path}, verdict)
		return verdict
	}

	key := domain.BuildLimiterKey(req.Path, req.ClientAddr)
	verdict := domain.Verdict{Policy: policy}

	decision, err := g.limiter.Allow(ctx, key, policy)
	switch {
	case err != nil:
		verdict.Decision = domain.Decision{Key: key, Limit: int64(policy.MaxCount)}
		verdict.Err = err
		if g.failOpen {
			verdict.Outcome = domain.OutcomeFailOpen
		} else {
			verdict.Outcome = domain.OutcomeFailClosed
		}
	case decision.Allowed:
		verdict.Decision = decision
		verdict.Outcome = domain.OutcomeAllowed
	default:
		verdict.Decision = decision
		verdict.Outcome = domain.OutcomeLimited
		verdict.Err = decision.Err()
	}

	g.log(route, verdict)
	return verdict
}

func (g *Gate) log(route domain.Route, v domain.Verdict) {
	fields := []zap.Field{
		zap.String("key", v.Key),
		zap.String("route", route.String()),
		zap.String("outcome", string(v.Outcome)),
		zap.Int64("count", v.Count),
		zap.Int64("limit", v.Limit),
	}

	switch v.Outcome {
	case domain.OutcomeFailOpen, domain.OutcomeFailClosed:
		g.logger.Error("rate limit store failure", append(fields, zap.Error(v.Err))...)
	case domain.OutcomeLimited:
		g.logger.Info("request limited", append(fields, zap.Duration("retry_after", v.RetryAfter))...)
	case domain.OutcomeBypassed:
		g.logger.Debug("request bypassed", fields...)
	default:
		g.logger.Debug("request allowed", fields...)
	}
}
