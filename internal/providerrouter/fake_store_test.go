package providerrouter

import (
	"context"
	"sort"
	"sync"

	"github.com/synebula/cc-switch/internal/domain"
)

// fakeRouterStore is a minimal in-memory ports.Store for router tests.
type fakeRouterStore struct {
	mu        sync.Mutex
	providers map[string]domain.Provider
	current   map[domain.App]string
	queues    map[domain.App][]domain.FailoverQueueItem
	appCfg    map[domain.App]domain.AppProxyConfig
}

func newFakeRouterStore() *fakeRouterStore {
	return &fakeRouterStore{
		providers: make(map[string]domain.Provider),
		current:   make(map[domain.App]string),
		queues:    make(map[domain.App][]domain.FailoverQueueItem),
		appCfg:    make(map[domain.App]domain.AppProxyConfig),
	}
}

func rkey(app domain.App, id string) string { return string(app) + ":" + id }

func (f *fakeRouterStore) UpsertProvider(ctx context.Context, p domain.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[rkey(p.App, p.ID)] = p
	return nil
}
func (f *fakeRouterStore) DeleteProvider(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.providers, rkey(app, id))
	return nil
}
func (f *fakeRouterStore) SetCurrentProvider(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[app] = id
	return nil
}
func (f *fakeRouterStore) GetCurrentProvider(ctx context.Context, app domain.App) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.current[app]
	return id, ok, nil
}
func (f *fakeRouterStore) GetProvider(ctx context.Context, app domain.App, id string) (domain.Provider, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[rkey(app, id)]
	return p, ok, nil
}
func (f *fakeRouterStore) GetAllProviders(ctx context.Context, app domain.App) (map[string]domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Provider)
	for _, p := range f.providers {
		if p.App == app {
			out[p.ID] = p
		}
	}
	return out, nil
}
func (f *fakeRouterStore) UpdateProviderHealth(ctx context.Context, app domain.App, id string, healthy bool, lastErr string) error {
	return nil
}
func (f *fakeRouterStore) GetProviderHealth(ctx context.Context, app domain.App, id string) (domain.ProviderHealth, error) {
	return domain.ProviderHealth{}, nil
}
func (f *fakeRouterStore) GetFailoverQueue(ctx context.Context, app domain.App) ([]domain.FailoverQueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.FailoverQueueItem{}, f.queues[app]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SortIndex > out[j].SortIndex })
	return out, nil
}
func (f *fakeRouterStore) AddToFailoverQueue(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.providers[rkey(app, id)]
	f.queues[app] = append(f.queues[app], domain.FailoverQueueItem{App: app, ProviderID: id, SortIndex: p.SortIndex})
	return nil
}
func (f *fakeRouterStore) RemoveFromFailoverQueue(ctx context.Context, app domain.App, id string) error {
	return nil
}
func (f *fakeRouterStore) GetAppProxyConfig(ctx context.Context, app domain.App) (domain.AppProxyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.appCfg[app]
	if !ok {
		return domain.AppProxyConfig{App: app, Enabled: true, AutoFailoverEnabled: true, TimeoutMs: 30000}, nil
	}
	return cfg, nil
}
func (f *fakeRouterStore) SetAppProxyConfig(ctx context.Context, cfg domain.AppProxyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appCfg[cfg.App] = cfg
	return nil
}
func (f *fakeRouterStore) SaveRequestLog(ctx context.Context, log domain.RequestLog) error { return nil }
func (f *fakeRouterStore) GetModelPricing(ctx context.Context, modelID string) (domain.ModelPricing, error) {
	return domain.ModelPricing{}, &domain.ErrModelPricingNotFound{ModelID: modelID}
}
func (f *fakeRouterStore) UpsertModelPricing(ctx context.Context, p domain.ModelPricing) error { return nil }
func (f *fakeRouterStore) SaveLiveBackup(ctx context.Context, app domain.App, backupJSON string) error {
	return nil
}
func (f *fakeRouterStore) GetLiveBackup(ctx context.Context, app domain.App) (string, bool, error) {
	return "", false, nil
}
func (f *fakeRouterStore) ExportSQL(ctx context.Context, path string) error           { return nil }
func (f *fakeRouterStore) ImportSQL(ctx context.Context, path string) (string, error) { return "", nil }
func (f *fakeRouterStore) Close() error                                              { return nil }
