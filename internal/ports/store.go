package ports

import (
	"context"

	"github.com/synebula/cc-switch/internal/domain"
)

// Store is the C1 persistence port: providers, health, failover queue,
// request logs, pricing and config snapshots. Every mutating method is
// documented in spec.md §4.1 as atomic with respect to other Store
// operations touching the same (app, id) pair.
type Store interface {
	UpsertProvider(ctx context.Context, p domain.Provider) error
	DeleteProvider(ctx context.Context, app domain.App, id string) error
	SetCurrentProvider(ctx context.Context, app domain.App, id string) error
	GetCurrentProvider(ctx context.Context, app domain.App) (string, bool, error)
	GetProvider(ctx context.Context, app domain.App, id string) (domain.Provider, bool, error)
	GetAllProviders(ctx context.Context, app domain.App) (map[string]domain.Provider, error)

	UpdateProviderHealth(ctx context.Context, app domain.App, id string, healthy bool, lastErr string) error
	GetProviderHealth(ctx context.Context, app domain.App, id string) (domain.ProviderHealth, error)

	GetFailoverQueue(ctx context.Context, app domain.App) ([]domain.FailoverQueueItem, error)
	AddToFailoverQueue(ctx context.Context, app domain.App, id string) error
	RemoveFromFailoverQueue(ctx context.Context, app domain.App, id string) error

	GetAppProxyConfig(ctx context.Context, app domain.App) (domain.AppProxyConfig, error)
	SetAppProxyConfig(ctx context.Context, cfg domain.AppProxyConfig) error

	SaveRequestLog(ctx context.Context, log domain.RequestLog) error

	GetModelPricing(ctx context.Context, modelID string) (domain.ModelPricing, error)
	UpsertModelPricing(ctx context.Context, p domain.ModelPricing) error

	SaveLiveBackup(ctx context.Context, app domain.App, json string) error
	GetLiveBackup(ctx context.Context, app domain.App) (string, bool, error)

	ExportSQL(ctx context.Context, path string) error
	ImportSQL(ctx context.Context, path string) (backupID string, err error)

	Close() error
}
