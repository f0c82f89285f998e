package proxyserver

import (
	"context"
	"sort"
	"sync"

	"github.com/synebula/cc-switch/internal/domain"
)

// fakeProxyStore is a minimal in-memory ports.Store for proxy server tests.
type fakeProxyStore struct {
	mu        sync.Mutex
	providers map[string]domain.Provider
	current   map[domain.App]string
	queues    map[domain.App][]domain.FailoverQueueItem
	appCfg    map[domain.App]domain.AppProxyConfig
	logs      []domain.RequestLog
}

func newFakeProxyStore() *fakeProxyStore {
	return &fakeProxyStore{
		providers: make(map[string]domain.Provider),
		current:   make(map[domain.App]string),
		queues:    make(map[domain.App][]domain.FailoverQueueItem),
		appCfg:    make(map[domain.App]domain.AppProxyConfig),
	}
}

func pkey(app domain.App, id string) string { return string(app) + ":" + id }

func (f *fakeProxyStore) UpsertProvider(ctx context.Context, p domain.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[pkey(p.App, p.ID)] = p
	return nil
}
func (f *fakeProxyStore) DeleteProvider(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.providers, pkey(app, id))
	return nil
}
func (f *fakeProxyStore) SetCurrentProvider(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[app] = id
	return nil
}
func (f *fakeProxyStore) GetCurrentProvider(ctx context.Context, app domain.App) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.current[app]
	return id, ok, nil
}
func (f *fakeProxyStore) GetProvider(ctx context.Context, app domain.App, id string) (domain.Provider, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[pkey(app, id)]
	return p, ok, nil
}
func (f *fakeProxyStore) GetAllProviders(ctx context.Context, app domain.App) (map[string]domain.Provider, error) {
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
func (f *fakeProxyStore) UpdateProviderHealth(ctx context.Context, app domain.App, id string, healthy bool, lastErr string) error {
	return nil
}
func (f *fakeProxyStore) GetProviderHealth(ctx context.Context, app domain.App, id string) (domain.ProviderHealth, error) {
	return domain.ProviderHealth{}, nil
}
func (f *fakeProxyStore) GetFailoverQueue(ctx context.Context, app domain.App) ([]domain.FailoverQueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.FailoverQueueItem{}, f.queues[app]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SortIndex > out[j].SortIndex })
	return out, nil
}
func (f *fakeProxyStore) AddToFailoverQueue(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.providers[pkey(app, id)]
	f.queues[app] = append(f.queues[app], domain.FailoverQueueItem{App: app, ProviderID: id, SortIndex: p.SortIndex})
	return nil
}
func (f *fakeProxyStore) RemoveFromFailoverQueue(ctx context.Context, app domain.App, id string) error {
	return nil
}
func (f *fakeProxyStore) GetAppProxyConfig(ctx context.Context, app domain.App) (domain.AppProxyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.appCfg[app]
	if !ok {
		return domain.AppProxyConfig{App: app, Enabled: true, AutoFailoverEnabled: true, TimeoutMs: 30000}, nil
	}
	return cfg, nil
}
func (f *fakeProxyStore) SetAppProxyConfig(ctx context.Context, cfg domain.AppProxyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appCfg[cfg.App] = cfg
	return nil
}
func (f *fakeProxyStore) SaveRequestLog(ctx context.Context, log domain.RequestLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}
func (f *fakeProxyStore) GetModelPricing(ctx context.Context, modelID string) (domain.ModelPricing, error) {
	return domain.ModelPricing{ModelID: modelID, InputCost: "1.00", OutputCost: "2.00"}, nil
}
func (f *fakeProxyStore) UpsertModelPricing(ctx context.Context, p domain.ModelPricing) error {
	return nil
}
func (f *fakeProxyStore) SaveLiveBackup(ctx context.Context, app domain.App, backupJSON string) error {
	return nil
}
func (f *fakeProxyStore) GetLiveBackup(ctx context.Context, app domain.App) (string, bool, error) {
	return "", false, nil
}
func (f *fakeProxyStore) ExportSQL(ctx context.Context, path string) error { return nil }
func (f *fakeProxyStore) ImportSQL(ctx context.Context, path string) (string, error) {
	return "", nil
}
func (f *fakeProxyStore) Close() error { return nil }
