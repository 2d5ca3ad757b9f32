package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

// countingLimiter conta chamadas para provar que rotas sem política não chegam ao limiter.
type countingLimiter struct {
	next  ports.RateLimiter
	calls int
}

func (l *countingLimiter) Allow(ctx context.Context, key string, policy domain.LimitPolicy) (domain.Decision, error) {
	l.calls++
	return l.next.Allow(ctx, key, policy)
}

func newTestGate(t *testing.T, cfg GateConfig) (*Gate, *countingLimiter, *observer.ObservedLogs) {
	t.Helper()

	storage, _ := newMemoryStorage(t)
	fixed, err := NewFixedWindowLimiter(storage)
	require.NoError(t, err)

	limiter := &countingLimiter{next: fixed}
	core, logs := observer.New(zapcore.DebugLevel)

	gate, err := NewGate(limiter, cfg, zap.New(core))
	if err != nil {
		t.Fatalf("failed to create gate: %v", err)
	}
	return gate, limiter, logs
}

func TestNewGate_RejectsInvalidPolicy(t *testing.T) {
	storage, _ := newMemoryStorage(t)
	fixed, _ := NewFixedWindowLimiter(storage)

	_, err := NewGate(fixed, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Path: "/goods/test"}: {Second: 1, MaxCount: 0},
	}}, nil)
	assert.True(t, errors.Is(err, domain.ErrPolicyMisconfigured))

	_, err = NewGate(fixed, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Path: ""}: domain.DefaultLimitPolicy(),
	}}, nil)
	assert.True(t, errors.Is(err, domain.ErrPolicyMisconfigured))

	_, err = NewGate(nil, GateConfig{}, nil)
	assert.Error(t, err)
}

func TestGate_SecondRequestWithin500msIsLimited(t *testing.T) {
	gate, _, logs := newTestGate(t, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Method: "GET", Path: "/goods/test"}: domain.DefaultLimitPolicy(),
	}})
	ctx := context.Background()
	req := domain.Request{Method: "GET", Path: "/goods/test", ClientAddr: "127.0.0.1"}

	first := gate.Evaluate(ctx, req)
	assert.Equal(t, domain.OutcomeAllowed, first.Outcome)
	assert.True(t, first.Permitted())
	assert.NoError(t, first.Err)
	assert.Equal(t, "request:limit:/goods/test:127.0.0.1", first.Key)

	second := gate.Evaluate(ctx, req)
	assert.Equal(t, domain.OutcomeLimited, second.Outcome)
	assert.False(t, second.Permitted())
	assert.Equal(t, int64(1), second.Count)
	assert.True(t, errors.Is(second.Err, domain.ErrLimitExceeded))

	limited := logs.FilterMessage("request limited").All()
	require.Len(t, limited, 1)
	fields := limited[0].ContextMap()
	assert.Equal(t, "request:limit:/goods/test:127.0.0.1", fields["key"])
	assert.Equal(t, "GET /goods/test", fields["route"])
	assert.Equal(t, "limited", fields["outcome"])
}

func TestGate_RouteWithoutPolicyAlwaysBypasses(t *testing.T) {
	gate, limiter, _ := newTestGate(t, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Path: "/goods/test"}: domain.DefaultLimitPolicy(),
	}})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		verdict := gate.Evaluate(ctx, domain.Request{Method: "GET", Path: "/goods/free", ClientAddr: "10.0.0.1"})
		if verdict.Outcome != domain.OutcomeBypassed || !verdict.Permitted() {
			t.Fatalf("request %d not bypassed: %+v", i, verdict)
		}
	}
	assert.Equal(t, 0, limiter.calls)
}

func TestGate_MethodSpecificPolicy(t *testing.T) {
	gate, _, _ := newTestGate(t, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Method: "POST", Path: "/goods"}: domain.DefaultLimitPolicy(),
	}})

	_, _, ok := gate.PolicyFor("GET", "/goods")
	assert.False(t, ok)

	route, policy, ok := gate.PolicyFor("POST", "/goods")
	assert.True(t, ok)
	assert.Equal(t, domain.Route{Method: "POST", Path: "/goods"}, route)
	assert.Equal(t, domain.DefaultLimitPolicy(), policy)
}

func TestGate_AnyMethodPolicy(t *testing.T) {
	gate, _, _ := newTestGate(t, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Path: "/goods/test"}: {Second: 5, MaxCount: 2},
	}})

	route, policy, ok := gate.PolicyFor("DELETE", "/goods/test")
	assert.True(t, ok)
	assert.Equal(t, domain.Route{Path: "/goods/test"}, route)
	assert.Equal(t, 2, policy.MaxCount)
}

func TestGate_DistinctClientsHaveSeparateBuckets(t *testing.T) {
	gate, _, _ := newTestGate(t, GateConfig{Policies: map[domain.Route]domain.LimitPolicy{
		{Path: "/goods/test"}: domain.DefaultLimitPolicy(),
	}})
	ctx := context.Background()

	a := gate.Evaluate(ctx, domain.Request{Method: "GET", Path: "/goods/test", ClientAddr: "::1"})
	b := gate.Evaluate(ctx, domain.Request{Method: "GET", Path: "/goods/test", ClientAddr: "10.0.0.2"})

	assert.Equal(t, domain.OutcomeAllowed, a.Outcome)
	assert.Equal(t, domain.OutcomeAllowed, b.Outcome)
	assert.Equal(t, "request:limit:/goods/test:--1", a.Key)
}

func TestGate_FailPolicy(t *testing.T) {
	policies := map[domain.Route]domain.LimitPolicy{{Path: "/goods/test"}: domain.DefaultLimitPolicy()}
	req := domain.Request{Method: "GET", Path: "/goods/test", ClientAddr: "127.0.0.1"}

	for _, tc := range []struct {
		name     string
		failOpen bool
		outcome  domain.Outcome
	}{
		{name: "closed by default", failOpen: false, outcome: domain.OutcomeFailClosed},
		{name: "open when configured", failOpen: true, outcome: domain.OutcomeFailOpen},
	} {
		t.Run(tc.name, func(t *testing.T) {
			limiter, err := NewFixedWindowLimiter(&unavailableStorage{})
			require.NoError(t, err)
			core, logs := observer.New(zapcore.ErrorLevel)

			gate, err := NewGate(limiter, GateConfig{Policies: policies, FailOpen: tc.failOpen}, zap.New(core))
			require.NoError(t, err)

			verdict := gate.Evaluate(context.Background(), req)
			assert.Equal(t, tc.outcome, verdict.Outcome)
			assert.Equal(t, tc.failOpen, verdict.Permitted())
			assert.True(t, domain.IsStoreUnavailable(verdict.Err))
			assert.Equal(t, 1, logs.FilterMessage("rate limit store failure").Len())
		})
	}
}
