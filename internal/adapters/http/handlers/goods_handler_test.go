package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JeanGrijp/request-limit/internal/adapters/storage/memory"
	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
	"github.com/JeanGrijp/request-limit/internal/core/services"
)

type brokenStorage struct {
	ports.Storage
}

func (brokenStorage) Exists(context.Context, string) (bool, error) {
	return false, domain.ErrStoreUnavailable
}

func (brokenStorage) ZRangeByScore(context.Context, string, int64, int64) ([]string, error) {
	return nil, domain.ErrStoreUnavailable
}

func (brokenStorage) ListPopFront(context.Context, string) (string, bool, error) {
	return "", false, domain.ErrStoreUnavailable
}

func newTestGoodsHandler(t *testing.T, storage ports.Storage) *GoodsHandler {
	t.Helper()
	return newConfiguredGoodsHandler(t, storage, GoodsConfig{}, nil)
}

func newConfiguredGoodsHandler(t *testing.T, storage ports.Storage, cfg GoodsConfig, logger *zap.Logger) *GoodsHandler {
	t.Helper()

	sliding, err := services.NewSlidingLogLimiter(storage)
	require.NoError(t, err)
	bucket, err := services.NewTokenBucket(storage, services.TokenBucketConfig{Capacity: 2}, nil)
	require.NoError(t, err)

	h, err := NewGoodsHandler(sliding, bucket, cfg, logger)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	return h
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestGoodsHandler_Test(t *testing.T) {
	h := newTestGoodsHandler(t, memory.New())

	rec := serve(h.Test)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":20000,"message":"success","data":"request succeeded"}`, rec.Body.String())
}

func TestGoodsHandler_FindAllLimitsAfterFive(t *testing.T) {
	h := newTestGoodsHandler(t, memory.New())

	for i := 1; i <= 5; i++ {
		rec := serve(h.FindAll)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := serve(h.FindAll)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"code":40003,"message":"request limited"}`, rec.Body.String())
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestGoodsHandler_FindAllWithToken(t *testing.T) {
	storage := memory.New()
	h := newTestGoodsHandler(t, storage)

	rec := serve(h.FindAllWithToken)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	_, err := h.bucket.Refill(context.Background())
	require.NoError(t, err)

	rec = serve(h.FindAllWithToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":20000,"message":"success","data":"goods retrieved"}`, rec.Body.String())
}

func TestGoodsRoutes_Policies(t *testing.T) {
	h := newTestGoodsHandler(t, memory.New())

	policies := Policies(h.GoodsRoutes())

	assert.Equal(t, map[domain.Route]domain.LimitPolicy{
		{Method: http.MethodGet, Path: "/goods/test"}: {Second: 1, MaxCount: 1},
	}, policies)
}

func TestGoodsRoutes_GroupPolicyCoversRoutesWithoutOwnPolicy(t *testing.T) {
	group := domain.LimitPolicy{Second: 10, MaxCount: 20}
	h := newConfiguredGoodsHandler(t, memory.New(), GoodsConfig{GroupPolicy: &group}, nil)

	policies := Policies(h.GoodsRoutes())

	assert.Equal(t, map[domain.Route]domain.LimitPolicy{
		{Method: http.MethodGet, Path: "/goods/test"}:     {Second: 1, MaxCount: 1},
		{Method: http.MethodGet, Path: "/goods/findAll"}:  group,
		{Method: http.MethodGet, Path: "/goods/findAll2"}: group,
	}, policies)
}

func TestRouteGroup_Expand(t *testing.T) {
	own := domain.LimitPolicy{Second: 1, MaxCount: 1}
	group := domain.LimitPolicy{Second: 60, MaxCount: 100}

	routes := RouteGroup{
		Prefix: "/orders",
		Policy: &group,
		Routes: []Route{
			{Method: http.MethodGet, Path: "/list"},
			{Method: http.MethodPost, Path: "/create", Policy: &own},
		},
	}.Expand()

	require.Len(t, routes, 2)
	assert.Equal(t, "/orders/list", routes[0].Path)
	assert.Equal(t, group, *routes[0].Policy)
	assert.Equal(t, "/orders/create", routes[1].Path)
	assert.Equal(t, own, *routes[1].Policy)

	// alterar a política herdada não afeta o grupo
	routes[0].Policy.MaxCount = 1
	assert.Equal(t, 100, group.MaxCount)
}

func TestGoodsHandler_StoreFailureFollowsFailPolicy(t *testing.T) {
	for _, tc := range []struct {
		name     string
		failOpen bool
		status   int
		body     string
	}{
		{"fail closed", false, http.StatusServiceUnavailable, `{"code":50000,"message":"system error"}`},
		{"fail open", true, http.StatusOK, `{"code":20000,"message":"success","data":"goods retrieved"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newConfiguredGoodsHandler(t, brokenStorage{}, GoodsConfig{FailOpen: tc.failOpen}, nil)

			for _, handler := range []http.HandlerFunc{h.FindAll, h.FindAllWithToken} {
				rec := serve(handler)
				assert.Equal(t, tc.status, rec.Code)
				assert.JSONEq(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestGoodsHandler_RejectLogsLimitExceeded(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newConfiguredGoodsHandler(t, memory.New(), GoodsConfig{}, zap.New(core))

	rec := serve(h.FindAllWithToken)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	limited := logs.FilterMessage("request limited").All()
	require.Len(t, limited, 1)
	fields := limited[0].ContextMap()
	assert.Equal(t, "goods:limit:list", fields["key"])
	assert.Equal(t, domain.ErrLimitExceeded.Error(), fields["error"])
}

func TestNewGoodsHandler_InvalidGroupPolicy(t *testing.T) {
	storage := memory.New()
	sliding, _ := services.NewSlidingLogLimiter(storage)
	bucket, _ := services.NewTokenBucket(storage, services.TokenBucketConfig{}, nil)

	_, err := NewGoodsHandler(sliding, bucket, GoodsConfig{GroupPolicy: &domain.LimitPolicy{Second: 10}}, nil)
	assert.True(t, errors.Is(err, domain.ErrPolicyMisconfigured))
}

func TestNewGoodsHandler_InvalidPolicy(t *testing.T) {
	storage := memory.New()
	sliding, _ := services.NewSlidingLogLimiter(storage)
	bucket, _ := services.NewTokenBucket(storage, services.TokenBucketConfig{}, nil)

	_, err := NewGoodsHandler(sliding, bucket, GoodsConfig{SlidingLogPolicy: domain.LimitPolicy{Second: 10}}, nil)
	assert.True(t, errors.Is(err, domain.ErrPolicyMisconfigured))
}

func TestHealthHandler(t *testing.T) {
	rec := serve(NewHealthHandler(memory.New()))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(NewHealthHandler(brokenStorage{}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"code":50000,"message":"system error"}`, rec.Body.String())
}

func TestDefaultSlidingLogPolicy(t *testing.T) {
	assert.Equal(t, 10*time.Second, DefaultSlidingLogPolicy().Window())
}
