package proxyservice

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synebula/cc-switch/internal/circuitbreaker"
	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/events"
	"github.com/synebula/cc-switch/internal/failover"
	"github.com/synebula/cc-switch/internal/proxyserver"
	"github.com/synebula/cc-switch/internal/providerrouter"
	"github.com/synebula/cc-switch/internal/responsehandler"
	"github.com/synebula/cc-switch/internal/transform"
)

type noopDispatcher struct{}

func (noopDispatcher) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: http.NoBody}, nil
}

func setupService(t *testing.T) (*Service, *fakeServiceStore, *fakeLiveConfig, *events.Bus) {
	t.Helper()
	store := newFakeServiceStore()
	ctx := context.Background()

	settings, _ := json.Marshal(domain.ProviderSettings{BaseURL: "https://api.example.test", APIKey: "sk-test"})
	require.NoError(t, store.UpsertProvider(ctx, domain.Provider{ID: "p1", App: domain.AppClaude, Name: "p1", SettingsConfig: settings}))
	require.NoError(t, store.SetCurrentProvider(ctx, domain.AppClaude, "p1"))

	cb := circuitbreaker.New(domain.DefaultCircuitBreakerConfig())
	sw := failover.New(store, cb, nil, nil)
	router := providerrouter.New(store, cb, sw, transform.NewPipeline())
	handler := responsehandler.New(store, cb, transform.NewThinkingRectifier(), nil, nil)
	appFromRequest := func(r *http.Request) (domain.App, error) { return domain.AppClaude, nil }
	srv := proxyserver.New(proxyserver.Config{ListenAddress: "127.0.0.1", ListenPort: 0, ShutdownGrace: time.Second}, router, handler, noopDispatcher{}, appFromRequest, nil, nil)

	liveConfig := newFakeLiveConfig()
	bus := events.NewBus()
	svc := New(Config{ListenAddress: "127.0.0.1"}, srv, store, cb, sw, liveConfig, bus, nil)
	return svc, store, liveConfig, bus
}

func TestSetTakeoverForApp_OffToOnCapturesFreshBackupAndPushesLive(t *testing.T) {
	svc, store, liveConfig, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetTakeoverForApp(ctx, domain.AppClaude, true))

	enabled, err := svc.GetTakeoverStatus(ctx, domain.AppClaude)
	require.NoError(t, err)
	assert.True(t, enabled)

	backup, ok, err := store.GetLiveBackup(ctx, domain.AppClaude)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, backup, "api.example.test")
	assert.Contains(t, liveConfig.pushed[domain.AppClaude], "api.example.test")
}

func TestSetTakeoverForApp_OnToOffRestoresFromBackup(t *testing.T) {
	svc, _, liveConfig, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetTakeoverForApp(ctx, domain.AppClaude, true))
	require.NoError(t, svc.SetTakeoverForApp(ctx, domain.AppClaude, false))

	enabled, err := svc.GetTakeoverStatus(ctx, domain.AppClaude)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Contains(t, liveConfig.restored[domain.AppClaude], "api.example.test")
}

func TestSetTakeoverForApp_IsIdempotentOnRepeatedEnable(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetTakeoverForApp(ctx, domain.AppClaude, true))
	first, _, err := store.GetLiveBackup(ctx, domain.AppClaude)
	require.NoError(t, err)

	require.NoError(t, svc.SetTakeoverForApp(ctx, domain.AppClaude, true))
	second, _, err := store.GetLiveBackup(ctx, domain.AppClaude)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSwitchProxyTarget_PublishesEventOnSuccess(t *testing.T) {
	svc, store, _, bus := setupService(t)
	ctx := context.Background()

	settings, _ := json.Marshal(domain.ProviderSettings{BaseURL: "https://backup.example.test"})
	require.NoError(t, store.UpsertProvider(ctx, domain.Provider{ID: "p2", App: domain.AppClaude, Name: "p2", SettingsConfig: settings}))
	require.NoError(t, store.SetAppProxyConfig(ctx, domain.AppProxyConfig{App: domain.AppClaude, Enabled: true}))

	sub, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	switched, err := svc.SwitchProxyTarget(ctx, domain.AppClaude, "p2", events.ReasonManual)
	require.NoError(t, err)
	assert.True(t, switched)

	select {
	case evt := <-sub:
		assert.Equal(t, "p2", evt.ProviderID)
		assert.Equal(t, events.ReasonManual, evt.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a provider-switched event")
	}

	current, ok, err := store.GetCurrentProvider(ctx, domain.AppClaude)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p2", current)
}

func TestSwitchProxyTarget_UnknownProviderErrors(t *testing.T) {
	svc, _, _, _ := setupService(t)
	_, err := svc.SwitchProxyTarget(context.Background(), domain.AppClaude, "missing", events.ReasonManual)
	assert.Error(t, err)
}

func TestResetProviderCircuitBreaker_ReopensAdmission(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()
	svc.breaker.RecordFailure(domain.AppClaude, "p1")
	svc.breaker.RecordFailure(domain.AppClaude, "p1")
	svc.breaker.RecordFailure(domain.AppClaude, "p1")
	require.False(t, svc.breaker.CanDispatch(domain.AppClaude, "p1"))

	require.NoError(t, svc.ResetProviderCircuitBreaker(ctx, domain.AppClaude, "p1"))
	assert.True(t, svc.breaker.CanDispatch(domain.AppClaude, "p1"))
}

func TestResetProviderCircuitBreaker_RestoresHigherPriorityProvider(t *testing.T) {
	svc, store, _, bus := setupService(t)
	ctx := context.Background()

	// p1 (sort_index 0) is the highest-priority provider but has tripped;
	// p2 (sort_index 1) is the lower-priority provider currently active.
	require.NoError(t, store.UpsertProvider(ctx, domain.Provider{ID: "p1", App: domain.AppClaude, Name: "p1", SortIndex: 0}))
	settings, _ := json.Marshal(domain.ProviderSettings{BaseURL: "https://backup.example.test"})
	require.NoError(t, store.UpsertProvider(ctx, domain.Provider{ID: "p2", App: domain.AppClaude, Name: "p2", SortIndex: 1, SettingsConfig: settings}))
	require.NoError(t, store.SetAppProxyConfig(ctx, domain.AppProxyConfig{App: domain.AppClaude, Enabled: true, AutoFailoverEnabled: true}))
	require.NoError(t, store.SetCurrentProvider(ctx, domain.AppClaude, "p2"))

	sub, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	require.NoError(t, svc.ResetProviderCircuitBreaker(ctx, domain.AppClaude, "p1"))

	current, ok, err := store.GetCurrentProvider(ctx, domain.AppClaude)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", current, "resetting a higher-priority provider must switch back to it")

	select {
	case evt := <-sub:
		assert.Equal(t, "p1", evt.ProviderID)
		assert.Equal(t, events.ReasonCircuitBreakerReset, evt.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a provider-switched event for the priority restoration")
	}
}

func TestResetProviderCircuitBreaker_LeavesLowerPriorityProviderCurrent(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProvider(ctx, domain.Provider{ID: "p2", App: domain.AppClaude, Name: "p2", SortIndex: 5}))
	require.NoError(t, store.SetAppProxyConfig(ctx, domain.AppProxyConfig{App: domain.AppClaude, Enabled: true, AutoFailoverEnabled: true}))
	// p1 (sort_index 0, the default in setupService) is already current.

	require.NoError(t, svc.ResetProviderCircuitBreaker(ctx, domain.AppClaude, "p2"))

	current, ok, err := store.GetCurrentProvider(ctx, domain.AppClaude)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", current, "resetting a lower-priority provider must not disturb the current one")
}

func TestSetAutoFailoverEnabled_SeedsEmptyQueueWithCurrentProvider(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetAutoFailoverEnabled(ctx, domain.AppClaude, true))

	cfg, err := store.GetAppProxyConfig(ctx, domain.AppClaude)
	require.NoError(t, err)
	assert.True(t, cfg.AutoFailoverEnabled)

	queue, err := store.GetFailoverQueue(ctx, domain.AppClaude)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "p1", queue[0].ProviderID)
}

func TestSetAutoFailoverEnabled_NoCurrentProviderFailsBadRequest(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	err := svc.ResetProviderCircuitBreaker(ctx, domain.AppCodex, "missing")
	require.NoError(t, err, "sanity: resetting an app with no providers at all is a no-op")

	err = svc.SetAutoFailoverEnabled(ctx, domain.AppCodex, true)
	require.Error(t, err)

	var routeErr *domain.RouteError
	require.ErrorAs(t, err, &routeErr)
	assert.Equal(t, domain.ErrBadRequest, routeErr.Kind)
}

func TestSetAutoFailoverEnabled_LeavesNonEmptyQueueUntouched(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, store.AddToFailoverQueue(ctx, domain.AppClaude, "p1"))
	require.NoError(t, svc.SetAutoFailoverEnabled(ctx, domain.AppClaude, true))

	queue, err := store.GetFailoverQueue(ctx, domain.AppClaude)
	require.NoError(t, err)
	assert.Len(t, queue, 1, "an already-seeded queue is left alone")
}

func TestSetAutoFailoverEnabled_DisablingNeverTouchesQueue(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetAutoFailoverEnabled(ctx, domain.AppClaude, false))

	queue, err := store.GetFailoverQueue(ctx, domain.AppClaude)
	require.NoError(t, err)
	assert.Empty(t, queue)

	cfg, err := store.GetAppProxyConfig(ctx, domain.AppClaude)
	require.NoError(t, err)
	assert.False(t, cfg.AutoFailoverEnabled)
}

func TestStartStop_TogglesIsRunning(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	assert.False(t, svc.IsRunning())
	require.NoError(t, svc.Start(ctx))
	assert.True(t, svc.IsRunning())
	require.NoError(t, svc.Stop(ctx))
	assert.False(t, svc.IsRunning())
}

func TestStopWithRestore_OnlyRestoresAppsEnabledAtStart(t *testing.T) {
	svc, _, liveConfig, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetTakeoverForApp(ctx, domain.AppClaude, true))
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.StopWithRestore(ctx))

	assert.Contains(t, liveConfig.restored[domain.AppClaude], "api.example.test")
	assert.Empty(t, liveConfig.restored[domain.AppCodex])
}
