package fallback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dermaglow/resolve/internal/models"
)

// Strategy produces an alternative, faster result when the primary call
// cannot complete in time
type Strategy interface {
	Name() models.FallbackStrategyID
	Execute(ctx context.Context, req models.ExecutionRequest) (models.FallbackResult, error)
}

// SimplifiedFunc computes a cheaper approximation of the primary result
type SimplifiedFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// PartialFunc extracts whatever partial result is available for the request
type PartialFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Providers supplies the per-service-type collaborators the non-cache
// strategies delegate to
type Providers struct {
	Simplified map[string]SimplifiedFunc
	Partial    map[string]PartialFunc
	Defaults   map[string]json.RawMessage
}

// cachedStrategy serves a previously cached primary result
type cachedStrategy struct {
	cache ResultCache
}

func (s *cachedStrategy) Name() models.FallbackStrategyID {
	return models.FallbackCachedResult
}

func (s *cachedStrategy) Execute(ctx context.Context, req models.ExecutionRequest) (models.FallbackResult, error) {
	result, found, err := s.cache.Get(ctx, req.ServiceType, InputHash(req.Payload))
	if err != nil || !found {
		return models.FallbackResult{}, fmt.Errorf("no cached result for %s", req.ServiceType)
	}
	return models.FallbackResult{
		Payload:   result,
		Degraded:  true,
		Strategy:  models.FallbackCachedResult,
		FromCache: true,
	}, nil
}

// simplifiedStrategy runs a registered cheaper computation
type simplifiedStrategy struct {
	fns map[string]SimplifiedFunc
}

func (s *simplifiedStrategy) Name() models.FallbackStrategyID {
	return models.FallbackSimplified
}

func (s *simplifiedStrategy) Execute(ctx context.Context, req models.ExecutionRequest) (models.FallbackResult, error) {
	fn, ok := s.fns[req.ServiceType]
	if !ok {
		return models.FallbackResult{}, fmt.Errorf("no simplified computation registered for %s", req.ServiceType)
	}
	payload, err := fn(ctx, req.Payload)
	if err != nil {
		return models.FallbackResult{}, fmt.Errorf("simplified computation failed for %s: %w", req.ServiceType, err)
	}
	return models.FallbackResult{
		Payload:  payload,
		Degraded: true,
		Strategy: models.FallbackSimplified,
	}, nil
}

// defaultStrategy returns a preconfigured neutral response
type defaultStrategy struct {
	defaults map[string]json.RawMessage
}

func (s *defaultStrategy) Name() models.FallbackStrategyID {
	return models.FallbackDefault
}

func (s *defaultStrategy) Execute(_ context.Context, req models.ExecutionRequest) (models.FallbackResult, error) {
	payload, ok := s.defaults[req.ServiceType]
	if !ok {
		return models.FallbackResult{}, fmt.Errorf("no default response registered for %s", req.ServiceType)
	}
	return models.FallbackResult{
		Payload:  payload,
		Degraded: true,
		Strategy: models.FallbackDefault,
	}, nil
}

// partialStrategy returns whatever usable partial data exists
type partialStrategy struct {
	fns map[string]PartialFunc
}

func (s *partialStrategy) Name() models.FallbackStrategyID {
	return models.FallbackPartial
}

func (s *partialStrategy) Execute(ctx context.Context, req models.ExecutionRequest) (models.FallbackResult, error) {
	fn, ok := s.fns[req.ServiceType]
	if !ok {
		return models.FallbackResult{}, fmt.Errorf("no partial result provider registered for %s", req.ServiceType)
	}
	payload, err := fn(ctx, req.Payload)
	if err != nil {
		return models.FallbackResult{}, fmt.Errorf("partial result provider failed for %s: %w", req.ServiceType, err)
	}
	return models.FallbackResult{
		Payload:  payload,
		Degraded: true,
		Strategy: models.FallbackPartial,
	}, nil
}
