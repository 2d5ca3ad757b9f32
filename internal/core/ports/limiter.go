package ports

import (
	"context"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
)

// RateLimiter decide se uma requisição identificada por key cabe na política.
type RateLimiter interface {
	Allow(ctx context.Context, key string, policy domain.LimitPolicy) (domain.Decision, error)
}

// DecisionGate resolve a política da rota e devolve o veredito para a requisição.
type DecisionGate interface {
	Evaluate(ctx context.Context, req domain.Request) domain.Verdict
}
