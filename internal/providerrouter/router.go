// Package providerrouter implements C6 (spec.md §4.6): resolving an
// incoming client request to a single current provider, rewriting its URL
// and headers, running it through the C5 transforms, and admitting it
// through C3 before handing a ForwardPlan to C7. Follows a header-copy/
// URL-join dispatch structure, narrowed from multi-endpoint selection to
// single-current-provider resolution via C1.
package providerrouter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/synebula/cc-switch/internal/circuitbreaker"
	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/events"
	"github.com/synebula/cc-switch/internal/failover"
	"github.com/synebula/cc-switch/internal/ports"
	"github.com/synebula/cc-switch/internal/transform"
	"github.com/synebula/cc-switch/internal/util"
)

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Host",
}

// ForwardPlan is the fully resolved request C7 dispatches, carrying enough
// of the originating provider's identity to record success/failure against
// the right circuit breaker key and request log row.
type ForwardPlan struct {
	App        domain.App
	Provider   domain.Provider
	Method     string
	TargetURL  string
	Header     http.Header
	Body       []byte
	TimeoutMs  int64
}

// Router resolves requests to a ForwardPlan.
type Router struct {
	store     ports.Store
	breaker   *circuitbreaker.Breaker
	switcher  *failover.Switcher
	transform *transform.Pipeline
	bus       *events.Bus
}

// New constructs a Router.
func New(store ports.Store, breaker *circuitbreaker.Breaker, switcher *failover.Switcher, pipeline *transform.Pipeline) *Router {
	return &Router{store: store, breaker: breaker, switcher: switcher, transform: pipeline}
}

// SetEventBus wires the router to publish a ProviderSwitched event whenever
// an in-flight request's circuit trip forces an automatic failover. Nil-safe
// and optional: a Router built without one simply never publishes, which is
// what every existing test (and any caller indifferent to notifications)
// expects.
func (router *Router) SetEventBus(bus *events.Bus) {
	router.bus = bus
}

// Resolve builds a ForwardPlan for r against app's current provider. If the
// current provider's circuit is open and auto-failover is enabled for app,
// it retries once against the next queue candidate (spec.md §4.6); with
// auto-failover off, or when no candidate admits, it gives up with
// ErrUpstreamUnavailable.
func (router *Router) Resolve(ctx context.Context, app domain.App, r *http.Request) (ForwardPlan, error) {
	cfg, err := router.store.GetAppProxyConfig(ctx, app)
	if err != nil {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrInternal, app, "", err)
	}
	if !cfg.Enabled {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrProxyDisabledForApp, app, "", nil)
	}

	providerID, ok, err := router.store.GetCurrentProvider(ctx, app)
	if err != nil {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrInternal, app, "", err)
	}
	if !ok {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrNoProviderConfigured, app, "", nil)
	}

	provider, ok, err := router.store.GetProvider(ctx, app, providerID)
	if err != nil {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrInternal, app, providerID, err)
	}
	if !ok {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrNoProviderConfigured, app, providerID, nil)
	}

	if !router.breaker.CanDispatch(app, provider.ID) {
		if !cfg.AutoFailoverEnabled {
			return ForwardPlan{}, domain.NewRouteError(domain.ErrUpstreamUnavailable, app, provider.ID, fmt.Errorf("circuit open"))
		}
		retried, retryErr := router.retryViaFailover(ctx, app, provider.ID)
		if retryErr != nil {
			return ForwardPlan{}, retryErr
		}
		provider = retried
	}

	return router.buildPlan(ctx, app, provider, cfg, r)
}

// retryViaFailover implements the single retry-on-trip step: ask C4 for the
// next queue candidate whose circuit admits, and if found, switch to it so
// subsequent requests go straight there too.
func (router *Router) retryViaFailover(ctx context.Context, app domain.App, trippedProviderID string) (domain.Provider, error) {
	if router.switcher == nil {
		return domain.Provider{}, domain.NewRouteError(domain.ErrUpstreamUnavailable, app, trippedProviderID, fmt.Errorf("circuit open"))
	}
	candidate, found, err := router.switcher.NextCandidate(ctx, app, trippedProviderID)
	if err != nil {
		return domain.Provider{}, domain.NewRouteError(domain.ErrInternal, app, trippedProviderID, err)
	}
	if !found {
		return domain.Provider{}, domain.NewRouteError(domain.ErrUpstreamUnavailable, app, trippedProviderID, fmt.Errorf("no healthy failover candidate"))
	}
	switched, err := router.switcher.TrySwitch(ctx, app, candidate.ID, candidate.Name)
	if err != nil {
		return domain.Provider{}, domain.NewRouteError(domain.ErrInternal, app, candidate.ID, err)
	}
	if switched && router.bus != nil {
		router.bus.Publish(events.ProviderSwitched{App: app, ProviderID: candidate.ID, Reason: events.ReasonCircuitBreaker, At: time.Now()})
	}
	return candidate, nil
}

func (router *Router) buildPlan(ctx context.Context, app domain.App, provider domain.Provider, cfg domain.AppProxyConfig, r *http.Request) (ForwardPlan, error) {
	settings, err := provider.DecodeSettings()
	if err != nil {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrInternal, app, provider.ID, err)
	}

	baseURL := router.selectBaseURL(ctx, &provider, &settings)

	targetURL, err := joinURL(baseURL, r.URL.Path, r.URL.RawQuery)
	if err != nil {
		return ForwardPlan{}, domain.NewRouteError(domain.ErrInternal, app, provider.ID, err)
	}

	header := cloneForwardHeaders(r.Header)
	applyAuth(header, settings)
	for k, v := range cfg.CustomHeaders {
		header.Set(k, v)
	}
	for k, v := range settings.CustomHeaders {
		header.Set(k, v)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return ForwardPlan{}, domain.NewRouteError(domain.ErrBadRequest, app, provider.ID, err)
		}
	}

	if router.transform != nil && len(body) > 0 {
		body, err = router.transform.ApplyRequest(app, body, settings.ModelOverrides)
		if err != nil {
			return ForwardPlan{}, domain.NewRouteError(domain.ErrBadRequest, app, provider.ID, err)
		}
	}

	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	return ForwardPlan{
		App:       app,
		Provider:  provider,
		Method:    r.Method,
		TargetURL: targetURL,
		Header:    header,
		Body:      body,
		TimeoutMs: timeoutMs,
	}, nil
}

// joinURL resolves path against base, preserving base's own path prefix
// (spec.md §4.6). The actual concatenation is util.JoinURLPath, which avoids
// url.ResolveReference's RFC 3986 absolute-path behaviour that would replace
// rather than extend base's path.
func joinURL(base, path, rawQuery string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid provider base_url %q: %w", base, err)
	}
	b.Path = util.JoinURLPath(b.Path, path)
	b.RawQuery = rawQuery
	return b.String(), nil
}

func cloneForwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, values := range in {
		if isHopByHop(k) {
			continue
		}
		out[k] = append([]string(nil), values...)
	}
	return out
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func applyAuth(header http.Header, settings domain.ProviderSettings) {
	switch {
	case settings.AccessToken != "":
		header.Set("Authorization", "Bearer "+settings.AccessToken)
	case settings.APIKey != "":
		header.Set("Authorization", "Bearer "+settings.APIKey)
		header.Set("X-Api-Key", settings.APIKey)
	}
}

// selectBaseURL returns the most-recently-used candidate among a provider's
// custom endpoints, falling back to BaseURL when none are configured
// (spec.md §4.6: "the most-recently-used is the active base URL"). Which
// endpoint counts as most-recently-used is driven by an explicit mark-used
// action against the provider's settings, not by dispatching a request
// through it: rotating LastUsedAt on every dispatch would make the
// just-selected endpoint immediately stop being the active one on the very
// next request, which is the opposite of "active base URL".
func (router *Router) selectBaseURL(_ context.Context, _ *domain.Provider, settings *domain.ProviderSettings) string {
	if len(settings.CustomEndpoints) == 0 {
		return settings.BaseURL
	}

	mru := 0
	for i := 1; i < len(settings.CustomEndpoints); i++ {
		if settings.CustomEndpoints[i].LastUsedAt.After(settings.CustomEndpoints[mru].LastUsedAt) {
			mru = i
		}
	}
	return settings.CustomEndpoints[mru].URL
}
