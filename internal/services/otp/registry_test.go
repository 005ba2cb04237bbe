package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/models"
)

func TestRegistryEmptyRunIDResolvesToDefault(t *testing.T) {
	registry := NewRegistry(5*time.Minute, arbor.NewLogger())

	assert.Same(t, registry.Default(), registry.ForRun(""))
}

func TestRegistryForRunIsStable(t *testing.T) {
	registry := NewRegistry(5*time.Minute, arbor.NewLogger())

	first := registry.ForRun("run_a")
	second := registry.ForRun("run_a")
	assert.Same(t, first, second)

	other := registry.ForRun("run_b")
	assert.NotSame(t, first, other)
}

func TestRegistryRunMailboxesAreIsolated(t *testing.T) {
	registry := NewRegistry(5*time.Minute, arbor.NewLogger())

	registry.ForRun("run_a").Deposit(models.OtpEvent{Value: "111111", Source: models.OtpSourceWebhook})

	_, ok := registry.ForRun("run_b").Peek()
	assert.False(t, ok)

	event, ok := registry.ForRun("run_a").Peek()
	assert.True(t, ok)
	assert.Equal(t, "111111", event.Value)
}

func TestRegistryRelease(t *testing.T) {
	registry := NewRegistry(5*time.Minute, arbor.NewLogger())

	registry.ForRun("run_a").Deposit(models.OtpEvent{Value: "111111", Source: models.OtpSourceWebhook})
	registry.Release("run_a")

	// A fresh mailbox comes back after release
	_, ok := registry.ForRun("run_a").Peek()
	assert.False(t, ok)
}

func TestRegistryRouteUnkeyedFollowsBinding(t *testing.T) {
	registry := NewRegistry(5*time.Minute, arbor.NewLogger())

	// Nothing bound: unkeyed deliveries hit the default slot
	assert.Same(t, registry.Default(), registry.Route(""))

	bound := registry.Bind("run_a")
	assert.Same(t, bound, registry.Route(""))

	// Keyed deliveries ignore the binding
	assert.Same(t, registry.ForRun("run_b"), registry.Route("run_b"))

	registry.Release("run_a")
	assert.Same(t, registry.Default(), registry.Route(""))
}

func TestRegistryBindCarriesPendingDefaultDeposit(t *testing.T) {
	registry := NewRegistry(5*time.Minute, arbor.NewLogger())

	// Code arrives before the run exists
	registry.Route("").Deposit(models.OtpEvent{Value: "654321", Source: models.OtpSourceWebhook})

	mailbox := registry.Bind("run_a")
	event, ok := mailbox.Peek()
	assert.True(t, ok)
	assert.Equal(t, "654321", event.Value)

	// Default slot no longer holds it
	_, ok = registry.Default().Peek()
	assert.False(t, ok)
}
