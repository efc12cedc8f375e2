package classifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermaglow/resolve/internal/models"
)

func validPolicy(serviceType string) models.ServiceTimeoutPolicy {
	return models.ServiceTimeoutPolicy{
		ServiceType:      serviceType,
		SyncLimit:        time.Second,
		AsyncLimit:       5 * time.Second,
		FallbackStrategy: models.FallbackCachedResult,
	}
}

func TestPolicyForUnknownType(t *testing.T) {
	c := New(nil)

	_, err := c.PolicyFor("foo")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownServiceType)
}

func TestRegisterAndLookup(t *testing.T) {
	c := New(nil)
	policy := validPolicy("skin-analysis")

	require.NoError(t, c.RegisterPolicy(policy))

	got, err := c.PolicyFor("skin-analysis")
	require.NoError(t, err)
	assert.Equal(t, policy, got)
}

func TestRegisterPolicyValidation(t *testing.T) {
	c := New(nil)

	tests := []struct {
		name   string
		policy models.ServiceTimeoutPolicy
	}{
		{
			name: "sync above async",
			policy: models.ServiceTimeoutPolicy{
				ServiceType:      "a",
				SyncLimit:        10 * time.Second,
				AsyncLimit:       time.Second,
				FallbackStrategy: models.FallbackDefault,
			},
		},
		{
			name: "zero limits",
			policy: models.ServiceTimeoutPolicy{
				ServiceType:      "b",
				FallbackStrategy: models.FallbackDefault,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.RegisterPolicy(tt.policy)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPolicy)

			_, err = c.PolicyFor(tt.policy.ServiceType)
			assert.ErrorIs(t, err, ErrUnknownServiceType, "invalid policy must not be registered")
		})
	}
}

func TestReRegistrationReplaces(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.RegisterPolicy(validPolicy("skin-analysis")))

	updated := validPolicy("skin-analysis")
	updated.SyncLimit = 2 * time.Second
	require.NoError(t, c.RegisterPolicy(updated))

	got, err := c.PolicyFor("skin-analysis")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, got.SyncLimit)
}

func TestReplaceAll(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.RegisterPolicy(validPolicy("old-type")))

	err := c.ReplaceAll([]models.ServiceTimeoutPolicy{
		validPolicy("skin-analysis"),
		validPolicy("image-vectorization"),
	})
	require.NoError(t, err)

	_, err = c.PolicyFor("old-type")
	assert.ErrorIs(t, err, ErrUnknownServiceType)
	_, err = c.PolicyFor("skin-analysis")
	assert.NoError(t, err)
	assert.Len(t, c.ServiceTypes(), 2)
}

func TestReplaceAllRejectsWholeBatch(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.RegisterPolicy(validPolicy("keep-me")))

	bad := validPolicy("bad")
	bad.SyncLimit = bad.AsyncLimit

	err := c.ReplaceAll([]models.ServiceTimeoutPolicy{validPolicy("ok"), bad})
	require.Error(t, err)

	// Existing table untouched on a failed replace
	_, err = c.PolicyFor("keep-me")
	assert.NoError(t, err)
}

func TestConcurrentRegisterAndLookup(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.RegisterPolicy(validPolicy("skin-analysis")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.RegisterPolicy(validPolicy("skin-analysis"))
		}()
		go func() {
			defer wg.Done()
			got, err := c.PolicyFor("skin-analysis")
			assert.NoError(t, err)
			assert.Equal(t, "skin-analysis", got.ServiceType)
		}()
	}
	wg.Wait()
}
