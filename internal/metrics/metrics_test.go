package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synebula/cc-switch/internal/domain"
)

func TestRecordRequest_IncrementsCounterAndObservesDuration(t *testing.T) {
	c := New()

	c.RecordRequest(domain.AppClaude, "anthropic-direct", domain.StatusSuccess, 0.25)

	count := testutil.ToFloat64(c.requestsTotal.WithLabelValues("claude", "anthropic-direct", "Success"))
	assert.Equal(t, float64(1), count)

	sampleCount := testutil.CollectAndCount(c.requestDuration)
	assert.Equal(t, 1, sampleCount)
}

func TestRecordUsage_AddsEachTokenKind(t *testing.T) {
	c := New()

	c.RecordUsage(domain.AppClaude, "anthropic-direct", domain.UsageCounters{
		InputTokens:         100,
		OutputTokens:        50,
		CacheReadTokens:     10,
		CacheCreationTokens: 5,
	})

	assert.Equal(t, float64(100), testutil.ToFloat64(c.tokensTotal.WithLabelValues("claude", "anthropic-direct", "input")))
	assert.Equal(t, float64(50), testutil.ToFloat64(c.tokensTotal.WithLabelValues("claude", "anthropic-direct", "output")))
	assert.Equal(t, float64(10), testutil.ToFloat64(c.tokensTotal.WithLabelValues("claude", "anthropic-direct", "cache_read")))
	assert.Equal(t, float64(5), testutil.ToFloat64(c.tokensTotal.WithLabelValues("claude", "anthropic-direct", "cache_creation")))

	// A second request accumulates rather than replacing the running total.
	c.RecordUsage(domain.AppClaude, "anthropic-direct", domain.UsageCounters{InputTokens: 1})
	assert.Equal(t, float64(101), testutil.ToFloat64(c.tokensTotal.WithLabelValues("claude", "anthropic-direct", "input")))
}

func TestRecordFailover_CountsByReason(t *testing.T) {
	c := New()

	c.RecordFailover(domain.AppCodex, "failover")
	c.RecordFailover(domain.AppCodex, "failover")
	c.RecordFailover(domain.AppCodex, "manual")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.failoversTotal.WithLabelValues("codex", "failover")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.failoversTotal.WithLabelValues("codex", "manual")))
}

func TestSetCircuitState_MapsKindToGaugeValue(t *testing.T) {
	c := New()

	c.SetCircuitState(domain.AppClaude, "p1", domain.CircuitClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.circuitState.WithLabelValues("claude", "p1")))

	c.SetCircuitState(domain.AppClaude, "p1", domain.CircuitHalfOpen)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.circuitState.WithLabelValues("claude", "p1")))

	c.SetCircuitState(domain.AppClaude, "p1", domain.CircuitOpen)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.circuitState.WithLabelValues("claude", "p1")))
}

func TestHandler_ServesExpositionFormat(t *testing.T) {
	c := New()
	c.RecordRequest(domain.AppClaude, "p1", domain.StatusSuccess, 0.1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "cc_switch_requests_total"))
	assert.True(t, strings.Contains(body, `app="claude"`))
}

func TestNew_IsolatesRegistryAcrossInstances(t *testing.T) {
	a := New()
	b := New()

	a.RecordRequest(domain.AppClaude, "p1", domain.StatusSuccess, 0.1)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.requestsTotal.WithLabelValues("claude", "p1", "Success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.requestsTotal.WithLabelValues("claude", "p1", "Success")))
}
