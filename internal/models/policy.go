package models

import (
	"fmt"
	"time"
)

// FallbackStrategyID identifies a fallback strategy variant
type FallbackStrategyID string

const (
	FallbackCachedResult FallbackStrategyID = "cached"
	FallbackSimplified   FallbackStrategyID = "simplified"
	FallbackDefault      FallbackStrategyID = "default"
	FallbackPartial      FallbackStrategyID = "partial"
)

// ValidateFallbackStrategy checks that the strategy id names a known variant
func ValidateFallbackStrategy(id FallbackStrategyID) error {
	switch id {
	case FallbackCachedResult, FallbackSimplified, FallbackDefault, FallbackPartial:
		return nil
	default:
		return fmt.Errorf("invalid fallback strategy: %s", id)
	}
}

// ServiceTimeoutPolicy is the immutable per-service-type timeout configuration.
// SyncLimit is the soft timeout after which fallback preparation begins;
// AsyncLimit is the hard timeout after which execution is handed to the
// async queue. Policies are replaced whole, never mutated in place.
type ServiceTimeoutPolicy struct {
	ServiceType      string             `json:"service_type"`
	SyncLimit        time.Duration      `json:"sync_limit"`
	AsyncLimit       time.Duration      `json:"async_limit"`
	FallbackStrategy FallbackStrategyID `json:"fallback_strategy"`
}

// Validate checks the policy invariants: both limits strictly positive and
// SyncLimit strictly below AsyncLimit.
func (p ServiceTimeoutPolicy) Validate() error {
	if p.ServiceType == "" {
		return fmt.Errorf("service type is required")
	}
	if p.SyncLimit <= 0 {
		return fmt.Errorf("sync limit must be positive, got %s", p.SyncLimit)
	}
	if p.AsyncLimit <= 0 {
		return fmt.Errorf("async limit must be positive, got %s", p.AsyncLimit)
	}
	if p.SyncLimit >= p.AsyncLimit {
		return fmt.Errorf("sync limit (%s) must be below async limit (%s)", p.SyncLimit, p.AsyncLimit)
	}
	return ValidateFallbackStrategy(p.FallbackStrategy)
}
