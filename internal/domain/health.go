package domain

import "time"

// ProviderHealth is the durable health record for a (app, providerId) pair.
// It survives restarts; the runtime CircuitState does not (§3).
type ProviderHealth struct {
	App                 App        `json:"app"`
	ProviderID          string     `json:"provider_id"`
	Healthy             bool       `json:"healthy"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	TrippedAt           *time.Time `json:"tripped_at,omitempty"`
}

// FailoverQueueItem is one entry of an app's priority-ordered failover
// queue (§3). SortIndex is denormalised from the Provider it references so
// the queue can be read without a join.
type FailoverQueueItem struct {
	App        App    `json:"app"`
	ProviderID string `json:"provider_id"`
	SortIndex  int64  `json:"sort_index"`
}

// CircuitBreakerConfig parametrises the §4.3 state machine.
type CircuitBreakerConfig struct {
	FailureThreshold       uint32        `json:"failure_threshold"`
	OpenDuration           time.Duration `json:"open_duration_ms"`
	HalfOpenProbeCount     uint32        `json:"half_open_probe_count"`
	SuccessThresholdToClose uint32       `json:"success_threshold_to_close"`
}

// DefaultCircuitBreakerConfig mirrors sensible production defaults: trip
// after 3 consecutive failures, wait 30s before probing, need 2 consecutive
// successes while half-open before fully closing.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:        3,
		OpenDuration:            30 * time.Second,
		HalfOpenProbeCount:      1,
		SuccessThresholdToClose: 2,
	}
}

// CircuitStateKind enumerates the three runtime states of §3/§4.3.
type CircuitStateKind int

const (
	CircuitClosed CircuitStateKind = iota
	CircuitOpen
	CircuitHalfOpen
)

func (k CircuitStateKind) String() string {
	switch k {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}
