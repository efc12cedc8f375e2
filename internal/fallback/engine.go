// Package fallback executes alternative strategies when a primary service
// call cannot complete within its timeout policy.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dermaglow/resolve/internal/models"
)

// ErrAllFallbacksExhausted is returned when neither the cache nor the
// configured strategy can produce a usable result
var ErrAllFallbacksExhausted = errors.New("all fallbacks exhausted")

// Engine selects and runs fallback strategies. The cache is always tried
// first; the policy's configured strategy is the second resort.
type Engine struct {
	cache      ResultCache
	strategies map[models.FallbackStrategyID]Strategy
	logger     *slog.Logger
}

// NewEngine creates an engine over the given cache and providers
func NewEngine(cache ResultCache, providers Providers, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Engine{
		cache: cache,
		strategies: map[models.FallbackStrategyID]Strategy{
			models.FallbackCachedResult: &cachedStrategy{cache: cache},
			models.FallbackSimplified:   &simplifiedStrategy{fns: providers.Simplified},
			models.FallbackDefault:      &defaultStrategy{defaults: providers.Defaults},
			models.FallbackPartial:      &partialStrategy{fns: providers.Partial},
		},
		logger: logger.With("component", "fallback_engine"),
	}
}

// StrategyFor returns the strategy registered under id
func (e *Engine) StrategyFor(id models.FallbackStrategyID) (Strategy, bool) {
	s, ok := e.strategies[id]
	return s, ok
}

// Execute produces a fallback result for req under policy. The cache is
// attempted first regardless of the configured strategy; on a miss the
// policy's strategy runs. Every produced result is marked degraded.
func (e *Engine) Execute(ctx context.Context, req models.ExecutionRequest, policy models.ServiceTimeoutPolicy) (models.FallbackResult, error) {
	inputHash := InputHash(req.Payload)

	if result, found := e.CachedResultFor(ctx, req.ServiceType, inputHash); found {
		e.logger.Debug("fallback served from cache",
			"service_type", req.ServiceType,
			"request_id", req.RequestID,
			"input_hash", inputHash,
		)
		return models.FallbackResult{
			Payload:   result,
			Degraded:  true,
			Strategy:  models.FallbackCachedResult,
			FromCache: true,
		}, nil
	}

	if policy.FallbackStrategy == models.FallbackCachedResult {
		// Cache was the only configured path and it missed
		return models.FallbackResult{}, fmt.Errorf("%w: cache miss for %s", ErrAllFallbacksExhausted, req.ServiceType)
	}

	strategy, ok := e.strategies[policy.FallbackStrategy]
	if !ok {
		return models.FallbackResult{}, fmt.Errorf("%w: unknown strategy %s", ErrAllFallbacksExhausted, policy.FallbackStrategy)
	}

	result, err := strategy.Execute(ctx, req)
	if err != nil {
		e.logger.Warn("fallback strategy failed",
			"service_type", req.ServiceType,
			"request_id", req.RequestID,
			"strategy", policy.FallbackStrategy,
			"error", err,
		)
		return models.FallbackResult{}, fmt.Errorf("%w: %v", ErrAllFallbacksExhausted, err)
	}

	e.logger.Debug("fallback produced",
		"service_type", req.ServiceType,
		"request_id", req.RequestID,
		"strategy", result.Strategy,
	)
	return result, nil
}

// CacheResult stores a primary result for future structurally identical
// requests. Cache failures are logged, never propagated.
func (e *Engine) CacheResult(ctx context.Context, serviceType, inputHash string, result json.RawMessage, ttl time.Duration) {
	if err := e.cache.Set(ctx, serviceType, inputHash, result, ttl); err != nil {
		e.logger.Warn("failed to cache result",
			"service_type", serviceType,
			"input_hash", inputHash,
			"error", err,
		)
	}
}

// CachedResultFor looks up a non-expired cached result. Absence is not an
// error; backend failures degrade to a miss.
func (e *Engine) CachedResultFor(ctx context.Context, serviceType, inputHash string) (json.RawMessage, bool) {
	result, found, err := e.cache.Get(ctx, serviceType, inputHash)
	if err != nil {
		e.logger.Warn("cache lookup failed",
			"service_type", serviceType,
			"input_hash", inputHash,
			"error", err,
		)
		return nil, false
	}
	return result, found
}
