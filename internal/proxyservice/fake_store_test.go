package proxyservice

import (
	"context"
	"sync"

	"github.com/synebula/cc-switch/internal/domain"
)

// fakeServiceStore is a minimal in-memory ports.Store for proxyservice
// tests. Unlike the router/handler fakes, it actually persists live
// backups, since SetTakeoverForApp's restore path depends on reading back
// what a prior enable wrote.
type fakeServiceStore struct {
	mu         sync.Mutex
	providers  map[string]domain.Provider
	current    map[domain.App]string
	appCfg     map[domain.App]domain.AppProxyConfig
	liveBackup map[domain.App]string
	queues     map[domain.App][]domain.FailoverQueueItem
}

func newFakeServiceStore() *fakeServiceStore {
	return &fakeServiceStore{
		providers:  make(map[string]domain.Provider),
		current:    make(map[domain.App]string),
		appCfg:     make(map[domain.App]domain.AppProxyConfig),
		liveBackup: make(map[domain.App]string),
		queues:     make(map[domain.App][]domain.FailoverQueueItem),
	}
}

func skey(app domain.App, id string) string { return string(app) + ":" + id }

func (f *fakeServiceStore) UpsertProvider(ctx context.Context, p domain.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[skey(p.App, p.ID)] = p
	return nil
}
func (f *fakeServiceStore) DeleteProvider(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.providers, skey(app, id))
	return nil
}
func (f *fakeServiceStore) SetCurrentProvider(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[app] = id
	return nil
}
func (f *fakeServiceStore) GetCurrentProvider(ctx context.Context, app domain.App) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.current[app]
	return id, ok, nil
}
func (f *fakeServiceStore) GetProvider(ctx context.Context, app domain.App, id string) (domain.Provider, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[skey(app, id)]
	return p, ok, nil
}
func (f *fakeServiceStore) GetAllProviders(ctx context.Context, app domain.App) (map[string]domain.Provider, error) {
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
func (f *fakeServiceStore) UpdateProviderHealth(ctx context.Context, app domain.App, id string, healthy bool, lastErr string) error {
	return nil
}
func (f *fakeServiceStore) GetProviderHealth(ctx context.Context, app domain.App, id string) (domain.ProviderHealth, error) {
	return domain.ProviderHealth{}, nil
}
func (f *fakeServiceStore) GetFailoverQueue(ctx context.Context, app domain.App) ([]domain.FailoverQueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FailoverQueueItem{}, f.queues[app]...), nil
}
func (f *fakeServiceStore) AddToFailoverQueue(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[app] = append(f.queues[app], domain.FailoverQueueItem{App: app, ProviderID: id})
	return nil
}
func (f *fakeServiceStore) RemoveFromFailoverQueue(ctx context.Context, app domain.App, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FailoverQueueItem
	for _, item := range f.queues[app] {
		if item.ProviderID != id {
			out = append(out, item)
		}
	}
	f.queues[app] = out
	return nil
}
func (f *fakeServiceStore) GetAppProxyConfig(ctx context.Context, app domain.App) (domain.AppProxyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.appCfg[app]
	if !ok {
		return domain.AppProxyConfig{App: app, Enabled: false, AutoFailoverEnabled: true, TimeoutMs: 30000}, nil
	}
	return cfg, nil
}
func (f *fakeServiceStore) SetAppProxyConfig(ctx context.Context, cfg domain.AppProxyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appCfg[cfg.App] = cfg
	return nil
}
func (f *fakeServiceStore) SaveRequestLog(ctx context.Context, log domain.RequestLog) error { return nil }
func (f *fakeServiceStore) GetModelPricing(ctx context.Context, modelID string) (domain.ModelPricing, error) {
	return domain.ModelPricing{}, &domain.ErrModelPricingNotFound{ModelID: modelID}
}
func (f *fakeServiceStore) UpsertModelPricing(ctx context.Context, p domain.ModelPricing) error {
	return nil
}
func (f *fakeServiceStore) SaveLiveBackup(ctx context.Context, app domain.App, backupJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveBackup[app] = backupJSON
	return nil
}
func (f *fakeServiceStore) GetLiveBackup(ctx context.Context, app domain.App) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.liveBackup[app]
	return b, ok, nil
}
func (f *fakeServiceStore) ExportSQL(ctx context.Context, path string) error { return nil }
func (f *fakeServiceStore) ImportSQL(ctx context.Context, path string) (string, error) {
	return "", nil
}
func (f *fakeServiceStore) Close() error { return nil }

// fakeLiveConfig records every push/restore call for assertion.
type fakeLiveConfig struct {
	mu       sync.Mutex
	pushed   map[domain.App]string
	restored map[domain.App]string
}

func newFakeLiveConfig() *fakeLiveConfig {
	return &fakeLiveConfig{pushed: make(map[domain.App]string), restored: make(map[domain.App]string)}
}

func (f *fakeLiveConfig) SetCurrentProvider(ctx context.Context, app domain.App, settingsJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed[app] = string(settingsJSON)
	return nil
}
func (f *fakeLiveConfig) Restore(ctx context.Context, app domain.App, backupJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored[app] = string(backupJSON)
	return nil
}
