package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func registryOf(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		require.NoError(t, registry.Register(job))
	}
	return registry
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry := registryOf(t, namedJob("bonus-expiration"), namedJob("plan-config-warm"))

	assert.Equal(t, []string{"bonus-expiration", "plan-config-warm"}, registry.Names())

	jobs := registry.Jobs()
	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "Jobs must return a copy")
}

func TestRegistryRejectsInvalidJobs(t *testing.T) {
	registry := registryOf(t, namedJob("bonus-expiration"))

	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(namedJob("  ")))
	assert.ErrorContains(t, registry.Register(namedJob("bonus-expiration")), "already registered")
	assert.Len(t, registry.Jobs(), 1)
}

func TestRegistryLookup(t *testing.T) {
	registry := registryOf(t, namedJob("plan-config-warm"))

	job, ok := registry.Lookup(" plan-config-warm ")
	require.True(t, ok)
	assert.Equal(t, "plan-config-warm", job.Name())

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)
}
