// Package classifier maps service-call types to their timeout policies.
package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dermaglow/resolve/internal/models"
)

var (
	// ErrUnknownServiceType is returned when no policy is registered for a
	// service type. There is no silent default.
	ErrUnknownServiceType = errors.New("unknown service type")

	// ErrInvalidPolicy is returned when a policy fails validation
	ErrInvalidPolicy = errors.New("invalid policy")
)

// Classifier is the policy registry. The policy map is replaced whole on
// every registration so readers never observe a torn update.
type Classifier struct {
	policies atomic.Pointer[map[string]models.ServiceTimeoutPolicy]
	logger   *slog.Logger
}

// New creates an empty classifier
func New(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{logger: logger.With("component", "classifier")}
	empty := make(map[string]models.ServiceTimeoutPolicy)
	c.policies.Store(&empty)
	return c
}

// PolicyFor returns the policy registered for serviceType
func (c *Classifier) PolicyFor(serviceType string) (models.ServiceTimeoutPolicy, error) {
	policies := *c.policies.Load()
	policy, ok := policies[serviceType]
	if !ok {
		return models.ServiceTimeoutPolicy{}, fmt.Errorf("%w: %s", ErrUnknownServiceType, serviceType)
	}
	return policy, nil
}

// RegisterPolicy validates and registers a policy. Registration is
// idempotent by service type; re-registration replaces atomically.
func (c *Classifier) RegisterPolicy(policy models.ServiceTimeoutPolicy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	for {
		current := c.policies.Load()
		next := make(map[string]models.ServiceTimeoutPolicy, len(*current)+1)
		for k, v := range *current {
			next[k] = v
		}
		next[policy.ServiceType] = policy
		if c.policies.CompareAndSwap(current, &next) {
			break
		}
	}

	c.logger.Info("policy registered",
		"service_type", policy.ServiceType,
		"sync_limit", policy.SyncLimit,
		"async_limit", policy.AsyncLimit,
		"fallback_strategy", policy.FallbackStrategy,
	)
	return nil
}

// ReplaceAll swaps in a complete policy table. Used for hot reload; the
// whole batch is validated before anything is replaced.
func (c *Classifier) ReplaceAll(policies []models.ServiceTimeoutPolicy) error {
	next := make(map[string]models.ServiceTimeoutPolicy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
		next[p.ServiceType] = p
	}
	c.policies.Store(&next)
	c.logger.Info("policy table replaced", "policy_count", len(next))
	return nil
}

// ServiceTypes returns the registered service types
func (c *Classifier) ServiceTypes() []string {
	policies := *c.policies.Load()
	types := make([]string, 0, len(policies))
	for t := range policies {
		types = append(types, t)
	}
	return types
}
