// Package store implements the C1 persistence port (ports.Store) on top of
// SQLite, following an evidence-storage-style module (WAL mode, busy
// timeout, schema versioning) since a plain reverse proxy normally keeps no
// relational state of its own.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/synebula/cc-switch/internal/domain"
)

// Config configures the SQLite-backed Store.
type Config struct {
	Path          string
	MaxOpenConns  int
	MaxIdleConns  int
	WALMode       bool
	BusyTimeoutMs int
}

// DefaultConfig returns sane defaults for a single-process desktop proxy -
// SQLite does not benefit from a large connection pool here, unlike
// jupiter's multi-writer evidence log.
func DefaultConfig() Config {
	return Config{
		Path:          "cc-switch.db",
		MaxOpenConns:  1,
		MaxIdleConns:  1,
		WALMode:       true,
		BusyTimeoutMs: 5000,
	}
}

// SQLiteStore implements ports.Store.
type SQLiteStore struct {
	db     *sql.DB
	config Config
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if necessary) the database at cfg.Path,
// enables WAL mode and a busy timeout, then creates and verifies the schema.
func NewSQLiteStore(cfg Config, logger *slog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store.sqlite")

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, domain.NewStoreError("open", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	s := &SQLiteStore{db: db, config: cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store initialized", "path", cfg.Path, "wal_mode", cfg.WALMode)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return domain.NewStoreError("enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeoutMs
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return domain.NewStoreError("set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return domain.NewStoreError("create_schema", err)
	}

	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return domain.NewStoreError("insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return domain.NewStoreError("get_schema_version", err)
	}
	if version != SchemaVersion {
		return domain.NewStoreError("schema_version_mismatch", fmt.Errorf("expected %d, got %d", SchemaVersion, version))
	}

	for _, p := range domain.DefaultModelPricing() {
		if _, err := s.db.Exec(
			`INSERT INTO model_pricing (model_id, input_cost, output_cost, cache_read_cost, cache_creation_cost)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT(model_id) DO NOTHING`,
			p.ModelID, p.InputCost, p.OutputCost, p.CacheReadCost, p.CacheCreationCost,
		); err != nil {
			return domain.NewStoreError("seed_model_pricing", err)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return domain.NewStoreError("close", err)
	}
	return nil
}

// UpsertProvider inserts or fully replaces a provider row.
func (s *SQLiteStore) UpsertProvider(ctx context.Context, p domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := p.SettingsConfig
	if len(settings) == 0 {
		settings = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (app, id, name, category, sort_index, settings_config, is_current, usage_script)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app, id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			sort_index = excluded.sort_index,
			settings_config = excluded.settings_config,
			usage_script = excluded.usage_script
	`, string(p.App), p.ID, p.Name, p.Category, p.SortIndex, string(settings), boolToInt(p.IsCurrent), p.UsageScript)
	if err != nil {
		return domain.NewStoreError("upsert_provider", err)
	}
	return nil
}

// DeleteProvider removes a provider and its dependent health/queue rows.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, app domain.App, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("delete_provider", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE app = ? AND id = ?`, string(app), id); err != nil {
		return domain.NewStoreError("delete_provider", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_health WHERE app = ? AND provider_id = ?`, string(app), id); err != nil {
		return domain.NewStoreError("delete_provider", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM failover_queue WHERE app = ? AND provider_id = ?`, string(app), id); err != nil {
		return domain.NewStoreError("delete_provider", err)
	}
	return tx.Commit()
}

// SetCurrentProvider atomically marks id as the sole current provider for
// app, clearing the flag on every other provider of that app (§4.1: at most
// one current provider per app).
func (s *SQLiteStore) SetCurrentProvider(ctx context.Context, app domain.App, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("set_current_provider", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE providers SET is_current = 0 WHERE app = ?`, string(app)); err != nil {
		return domain.NewStoreError("set_current_provider", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE providers SET is_current = 1 WHERE app = ? AND id = ?`, string(app), id)
	if err != nil {
		return domain.NewStoreError("set_current_provider", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewStoreError("set_current_provider", fmt.Errorf("provider %s/%s not found", app, id))
	}
	return tx.Commit()
}

// GetCurrentProvider returns the current provider id for app, if any.
func (s *SQLiteStore) GetCurrentProvider(ctx context.Context, app domain.App) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM providers WHERE app = ? AND is_current = 1`, string(app)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewStoreError("get_current_provider", err)
	}
	return id, true, nil
}

// GetProvider fetches a single provider row.
func (s *SQLiteStore) GetProvider(ctx context.Context, app domain.App, id string) (domain.Provider, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT app, id, name, category, sort_index, settings_config, is_current, usage_script
		FROM providers WHERE app = ? AND id = ?
	`, string(app), id)

	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return domain.Provider{}, false, nil
	}
	if err != nil {
		return domain.Provider{}, false, domain.NewStoreError("get_provider", err)
	}
	return p, true, nil
}

// GetAllProviders returns every provider configured for app, keyed by id.
func (s *SQLiteStore) GetAllProviders(ctx context.Context, app domain.App) (map[string]domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT app, id, name, category, sort_index, settings_config, is_current, usage_script
		FROM providers WHERE app = ? ORDER BY sort_index ASC
	`, string(app))
	if err != nil {
		return nil, domain.NewStoreError("get_all_providers", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Provider)
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, domain.NewStoreError("get_all_providers", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("get_all_providers", err)
	}
	return out, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows for scanProvider.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (domain.Provider, error) {
	var p domain.Provider
	var appStr, settings string
	var isCurrent int
	if err := row.Scan(&appStr, &p.ID, &p.Name, &p.Category, &p.SortIndex, &settings, &isCurrent, &p.UsageScript); err != nil {
		return domain.Provider{}, err
	}
	p.App = domain.App(appStr)
	p.SettingsConfig = json.RawMessage(settings)
	p.IsCurrent = isCurrent != 0
	return p, nil
}

// UpdateProviderHealth records a health observation, incrementing or
// resetting ConsecutiveFailures depending on healthy.
func (s *SQLiteStore) UpdateProviderHealth(ctx context.Context, app domain.App, id string, healthy bool, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if healthy {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO provider_health (app, provider_id, healthy, last_error, consecutive_failures, tripped_at)
			VALUES (?, ?, 1, '', 0, NULL)
			ON CONFLICT(app, provider_id) DO UPDATE SET
				healthy = 1, last_error = '', consecutive_failures = 0, tripped_at = NULL
		`, string(app), id)
		if err != nil {
			return domain.NewStoreError("update_provider_health", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_health (app, provider_id, healthy, last_error, consecutive_failures, tripped_at)
		VALUES (?, ?, 0, ?, 1, ?)
		ON CONFLICT(app, provider_id) DO UPDATE SET
			healthy = 0,
			last_error = excluded.last_error,
			consecutive_failures = provider_health.consecutive_failures + 1,
			tripped_at = COALESCE(provider_health.tripped_at, excluded.tripped_at)
	`, string(app), id, lastErr, time.Now().UTC())
	if err != nil {
		return domain.NewStoreError("update_provider_health", err)
	}
	return nil
}

// GetProviderHealth fetches the durable health row, returning a healthy
// zero-value when none exists yet.
func (s *SQLiteStore) GetProviderHealth(ctx context.Context, app domain.App, id string) (domain.ProviderHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h domain.ProviderHealth
	var appStr string
	var healthy int
	var trippedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT app, provider_id, healthy, last_error, consecutive_failures, tripped_at
		FROM provider_health WHERE app = ? AND provider_id = ?
	`, string(app), id).Scan(&appStr, &h.ProviderID, &healthy, &h.LastError, &h.ConsecutiveFailures, &trippedAt)

	if err == sql.ErrNoRows {
		return domain.ProviderHealth{App: app, ProviderID: id, Healthy: true}, nil
	}
	if err != nil {
		return domain.ProviderHealth{}, domain.NewStoreError("get_provider_health", err)
	}
	h.App = domain.App(appStr)
	h.Healthy = healthy != 0
	if trippedAt.Valid {
		t := trippedAt.Time
		h.TrippedAt = &t
	}
	return h, nil
}

// GetFailoverQueue returns an app's queue in priority order: ascending
// sort_index, so the lowest-numbered provider is tried first.
func (s *SQLiteStore) GetFailoverQueue(ctx context.Context, app domain.App) ([]domain.FailoverQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT app, provider_id, sort_index FROM failover_queue WHERE app = ? ORDER BY sort_index ASC
	`, string(app))
	if err != nil {
		return nil, domain.NewStoreError("get_failover_queue", err)
	}
	defer rows.Close()

	var items []domain.FailoverQueueItem
	for rows.Next() {
		var it domain.FailoverQueueItem
		var appStr string
		if err := rows.Scan(&appStr, &it.ProviderID, &it.SortIndex); err != nil {
			return nil, domain.NewStoreError("get_failover_queue", err)
		}
		it.App = domain.App(appStr)
		items = append(items, it)
	}
	return items, rows.Err()
}

// AddToFailoverQueue inserts id into app's queue at its provider's current
// sort_index, or updates it if already present.
func (s *SQLiteStore) AddToFailoverQueue(ctx context.Context, app domain.App, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sortIndex int64
	err := s.db.QueryRowContext(ctx, `SELECT sort_index FROM providers WHERE app = ? AND id = ?`, string(app), id).Scan(&sortIndex)
	if err != nil {
		return domain.NewStoreError("add_to_failover_queue", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO failover_queue (app, provider_id, sort_index) VALUES (?, ?, ?)
		ON CONFLICT(app, provider_id) DO UPDATE SET sort_index = excluded.sort_index
	`, string(app), id, sortIndex)
	if err != nil {
		return domain.NewStoreError("add_to_failover_queue", err)
	}
	return nil
}

// RemoveFromFailoverQueue drops id from app's queue.
func (s *SQLiteStore) RemoveFromFailoverQueue(ctx context.Context, app domain.App, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM failover_queue WHERE app = ? AND provider_id = ?`, string(app), id)
	if err != nil {
		return domain.NewStoreError("remove_from_failover_queue", err)
	}
	return nil
}

// GetAppProxyConfig returns an app's proxy takeover settings, defaulting to
// enabled-with-failover when no row exists yet.
func (s *SQLiteStore) GetAppProxyConfig(ctx context.Context, app domain.App) (domain.AppProxyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cfg domain.AppProxyConfig
	var appStr, headers string
	var enabled, autoFailover int

	err := s.db.QueryRowContext(ctx, `
		SELECT app, enabled, auto_failover_enabled, custom_headers, timeout_ms
		FROM app_proxy_config WHERE app = ?
	`, string(app)).Scan(&appStr, &enabled, &autoFailover, &headers, &cfg.TimeoutMs)

	if err == sql.ErrNoRows {
		return domain.AppProxyConfig{App: app, Enabled: true, AutoFailoverEnabled: true, TimeoutMs: 30000}, nil
	}
	if err != nil {
		return domain.AppProxyConfig{}, domain.NewStoreError("get_app_proxy_config", err)
	}

	cfg.App = domain.App(appStr)
	cfg.Enabled = enabled != 0
	cfg.AutoFailoverEnabled = autoFailover != 0
	if headers != "" {
		_ = json.Unmarshal([]byte(headers), &cfg.CustomHeaders)
	}
	return cfg, nil
}

// SetAppProxyConfig upserts an app's proxy takeover settings.
func (s *SQLiteStore) SetAppProxyConfig(ctx context.Context, cfg domain.AppProxyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	headers, _ := json.Marshal(cfg.CustomHeaders)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_proxy_config (app, enabled, auto_failover_enabled, custom_headers, timeout_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(app) DO UPDATE SET
			enabled = excluded.enabled,
			auto_failover_enabled = excluded.auto_failover_enabled,
			custom_headers = excluded.custom_headers,
			timeout_ms = excluded.timeout_ms
	`, string(cfg.App), boolToInt(cfg.Enabled), boolToInt(cfg.AutoFailoverEnabled), string(headers), cfg.TimeoutMs)
	if err != nil {
		return domain.NewStoreError("set_app_proxy_config", err)
	}
	return nil
}

// SaveRequestLog appends an immutable usage/cost record (§3, §7 - every
// proxied request gets exactly one row).
func (s *SQLiteStore) SaveRequestLog(ctx context.Context, log domain.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (
			request_id, timestamp, app, provider_id, model,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
			cost, status, latency_ms, http_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING
	`,
		log.RequestID, log.Timestamp, string(log.App), log.ProviderID, log.Model,
		log.InputTokens, log.OutputTokens, log.CacheReadTokens, log.CacheCreationTokens,
		log.Cost, string(log.Status), log.LatencyMs, log.HTTPStatus,
	)
	if err != nil {
		return domain.NewStoreError("save_request_log", err)
	}
	return nil
}

// GetModelPricing returns pricing for modelID, or ErrModelPricingNotFound.
func (s *SQLiteStore) GetModelPricing(ctx context.Context, modelID string) (domain.ModelPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p domain.ModelPricing
	err := s.db.QueryRowContext(ctx, `
		SELECT model_id, input_cost, output_cost, cache_read_cost, cache_creation_cost
		FROM model_pricing WHERE model_id = ?
	`, modelID).Scan(&p.ModelID, &p.InputCost, &p.OutputCost, &p.CacheReadCost, &p.CacheCreationCost)

	if err == sql.ErrNoRows {
		return domain.ModelPricing{}, &domain.ErrModelPricingNotFound{ModelID: modelID}
	}
	if err != nil {
		return domain.ModelPricing{}, domain.NewStoreError("get_model_pricing", err)
	}
	return p, nil
}

// UpsertModelPricing inserts or replaces a model's pricing row.
func (s *SQLiteStore) UpsertModelPricing(ctx context.Context, p domain.ModelPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_pricing (model_id, input_cost, output_cost, cache_read_cost, cache_creation_cost)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			input_cost = excluded.input_cost,
			output_cost = excluded.output_cost,
			cache_read_cost = excluded.cache_read_cost,
			cache_creation_cost = excluded.cache_creation_cost
	`, p.ModelID, p.InputCost, p.OutputCost, p.CacheReadCost, p.CacheCreationCost)
	if err != nil {
		return domain.NewStoreError("upsert_model_pricing", err)
	}
	return nil
}

// SaveLiveBackup stores the most recent on-disk settings snapshot taken
// before a switch for app, so stop_with_restore (§4.8) can undo a takeover.
func (s *SQLiteStore) SaveLiveBackup(ctx context.Context, app domain.App, backupJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO live_backups (app, backup_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(app) DO UPDATE SET backup_json = excluded.backup_json, updated_at = excluded.updated_at
	`, string(app), backupJSON, time.Now().UTC())
	if err != nil {
		return domain.NewStoreError("save_live_backup", err)
	}
	return nil
}

// GetLiveBackup returns the stored backup JSON for app, if any.
func (s *SQLiteStore) GetLiveBackup(ctx context.Context, app domain.App) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var backup string
	err := s.db.QueryRowContext(ctx, `SELECT backup_json FROM live_backups WHERE app = ?`, string(app)).Scan(&backup)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewStoreError("get_live_backup", err)
	}
	return backup, true, nil
}
