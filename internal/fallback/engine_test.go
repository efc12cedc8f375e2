package fallback

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermaglow/resolve/internal/models"
)

func policyWith(strategy models.FallbackStrategyID) models.ServiceTimeoutPolicy {
	return models.ServiceTimeoutPolicy{
		ServiceType:      "skin-analysis",
		SyncLimit:        time.Second,
		AsyncLimit:       5 * time.Second,
		FallbackStrategy: strategy,
	}
}

func TestCacheRoundTrip(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{}, nil)
	ctx := context.Background()

	payload := json.RawMessage(`{"image_id":"abc"}`)
	hash := InputHash(payload)
	result := json.RawMessage(`{"skin_score":0.82}`)

	engine.CacheResult(ctx, "skin-analysis", hash, result, time.Minute)

	got, found := engine.CachedResultFor(ctx, "skin-analysis", hash)
	require.True(t, found)
	assert.JSONEq(t, string(result), string(got))
}

func TestCacheMissIsNotAnError(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{}, nil)

	_, found := engine.CachedResultFor(context.Background(), "skin-analysis", "deadbeef")

	assert.False(t, found)
}

func TestCacheEntryExpires(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "skin-analysis", "h1", json.RawMessage(`{}`), 10*time.Millisecond))

	_, found, err := cache.Get(ctx, "skin-analysis", "h1")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(20 * time.Millisecond)

	_, found, err = cache.Get(ctx, "skin-analysis", "h1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInputHashStable(t *testing.T) {
	a := InputHash([]byte(`{"image_id":"abc"}`))
	b := InputHash([]byte(`{"image_id":"abc"}`))
	c := InputHash([]byte(`{"image_id":"xyz"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestExecutePrefersCache(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{
		Defaults: map[string]json.RawMessage{
			"skin-analysis": json.RawMessage(`{"skin_score":null}`),
		},
	}, nil)
	ctx := context.Background()

	req := models.NewExecutionRequest("skin-analysis", json.RawMessage(`{"image_id":"abc"}`))
	cached := json.RawMessage(`{"skin_score":0.9}`)
	engine.CacheResult(ctx, "skin-analysis", InputHash(req.Payload), cached, time.Minute)

	// Policy configures the default strategy, but the cache entry must win
	result, err := engine.Execute(ctx, req, policyWith(models.FallbackDefault))

	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.True(t, result.FromCache)
	assert.Equal(t, models.FallbackCachedResult, result.Strategy)
	assert.JSONEq(t, string(cached), string(result.Payload))
}

func TestExecuteFallsBackToConfiguredStrategy(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{
		Simplified: map[string]SimplifiedFunc{
			"skin-analysis": func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"skin_score":0.5,"method":"coarse"}`), nil
			},
		},
	}, nil)

	req := models.NewExecutionRequest("skin-analysis", json.RawMessage(`{"image_id":"new"}`))
	result, err := engine.Execute(context.Background(), req, policyWith(models.FallbackSimplified))

	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.False(t, result.FromCache)
	assert.Equal(t, models.FallbackSimplified, result.Strategy)
}

func TestExecuteCacheOnlyPolicyExhaustsOnMiss(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{}, nil)

	req := models.NewExecutionRequest("skin-analysis", json.RawMessage(`{"image_id":"new"}`))
	_, err := engine.Execute(context.Background(), req, policyWith(models.FallbackCachedResult))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllFallbacksExhausted)
}

func TestExecuteExhaustsWhenNoProviderRegistered(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{}, nil)

	tests := []models.FallbackStrategyID{
		models.FallbackSimplified,
		models.FallbackDefault,
		models.FallbackPartial,
	}
	for _, strategy := range tests {
		t.Run(string(strategy), func(t *testing.T) {
			req := models.NewExecutionRequest("skin-analysis", json.RawMessage(`{"image_id":"new"}`))
			_, err := engine.Execute(context.Background(), req, policyWith(strategy))
			assert.ErrorIs(t, err, ErrAllFallbacksExhausted)
		})
	}
}

func TestStrategyVariants(t *testing.T) {
	engine := NewEngine(NewMemoryCache(), Providers{
		Simplified: map[string]SimplifiedFunc{
			"skin-analysis": func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"coarse":true}`), nil
			},
		},
		Partial: map[string]PartialFunc{
			"skin-analysis": func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"partial":true}`), nil
			},
		},
		Defaults: map[string]json.RawMessage{
			"skin-analysis": json.RawMessage(`{"default":true}`),
		},
	}, nil)

	req := models.NewExecutionRequest("skin-analysis", json.RawMessage(`{}`))

	for _, id := range []models.FallbackStrategyID{
		models.FallbackCachedResult,
		models.FallbackSimplified,
		models.FallbackDefault,
		models.FallbackPartial,
	} {
		strategy, ok := engine.StrategyFor(id)
		require.True(t, ok, "strategy %s must be registered", id)
		assert.Equal(t, id, strategy.Name())
	}

	// Every non-cache variant produces a degraded result
	for _, id := range []models.FallbackStrategyID{
		models.FallbackSimplified,
		models.FallbackDefault,
		models.FallbackPartial,
	} {
		strategy, _ := engine.StrategyFor(id)
		result, err := strategy.Execute(context.Background(), req)
		require.NoError(t, err, "strategy %s", id)
		assert.True(t, result.Degraded, "strategy %s must mark results degraded", id)
	}
}
