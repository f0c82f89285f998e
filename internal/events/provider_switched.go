// Package events provides the lossy-on-lag provider-switched notification
// bus (§4.9/§9), built directly on the generic pkg/eventbus.
package events

import (
	"context"
	"time"

	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/pkg/eventbus"
)

// ProviderSwitched is published whenever the current provider for an app
// changes, whether by explicit request or automatic failover.
type ProviderSwitched struct {
	App        domain.App
	ProviderID string
	Reason     SwitchReason
	At         time.Time
}

// SwitchReason distinguishes a user-initiated switch from one caused by
// circuit-breaker failover, so subscribers (e.g. a TUI) can render the two
// differently without re-deriving it from provider health.
type SwitchReason string

const (
	ReasonManual              SwitchReason = "manual"
	ReasonCircuitBreaker      SwitchReason = "circuitBreaker"
	ReasonCircuitBreakerReset SwitchReason = "circuitBreakerReset"
	ReasonRestore             SwitchReason = "restore"
)

// Bus fans out ProviderSwitched events to any number of subscribers. A slow
// or stalled subscriber drops events rather than backpressuring publishers -
// the circuit breaker and failover controller must never block on a
// notification consumer.
type Bus struct {
	eb *eventbus.EventBus[ProviderSwitched]
}

// NewBus constructs a Bus with the eventbus package's default buffering and
// inactive-subscriber cleanup.
func NewBus() *Bus {
	return &Bus{eb: eventbus.New[ProviderSwitched]()}
}

// Subscribe returns a channel of switch events and an unsubscribe function.
// The channel closes when ctx is cancelled or Unsubscribe is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan ProviderSwitched, func()) {
	return b.eb.Subscribe(ctx)
}

// Publish notifies subscribers of a provider switch, returning how many
// received it. Never blocks.
func (b *Bus) Publish(event ProviderSwitched) int {
	return b.eb.Publish(event)
}

// Shutdown releases all subscribers and stops background cleanup.
func (b *Bus) Shutdown() {
	b.eb.Shutdown()
}

// Stats reports subscriber and drop counts for observability.
func (b *Bus) Stats() eventbus.EventBusStats {
	return b.eb.Stats()
}
