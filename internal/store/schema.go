package store

// SchemaVersion is bumped whenever Schema changes in an incompatible way.
// NewSQLiteStore refuses to start against a database stamped with a
// different version rather than attempting an in-place migration.
const SchemaVersion = 1

// Schema creates every table cc-switch's Store needs. Tables are keyed by
// (app, provider_id) where that pair is the natural identity, using a flat,
// denormalised table style (one statement per concern, no foreign keys
// enforced at the SQLite layer).
const Schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS providers (
	app             TEXT NOT NULL,
	id              TEXT NOT NULL,
	name            TEXT NOT NULL,
	category        TEXT NOT NULL,
	sort_index      INTEGER NOT NULL DEFAULT 0,
	settings_config TEXT NOT NULL DEFAULT '{}',
	is_current      INTEGER NOT NULL DEFAULT 0,
	usage_script    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (app, id)
);

CREATE INDEX IF NOT EXISTS idx_providers_app_current ON providers(app, is_current);

CREATE TABLE IF NOT EXISTS provider_health (
	app                  TEXT NOT NULL,
	provider_id          TEXT NOT NULL,
	healthy              INTEGER NOT NULL DEFAULT 1,
	last_error           TEXT NOT NULL DEFAULT '',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	tripped_at           TIMESTAMP,
	PRIMARY KEY (app, provider_id)
);

CREATE TABLE IF NOT EXISTS failover_queue (
	app         TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	sort_index  INTEGER NOT NULL,
	PRIMARY KEY (app, provider_id)
);

CREATE INDEX IF NOT EXISTS idx_failover_queue_app_sort ON failover_queue(app, sort_index);

CREATE TABLE IF NOT EXISTS request_logs (
	request_id            TEXT PRIMARY KEY,
	timestamp             TIMESTAMP NOT NULL,
	app                   TEXT NOT NULL,
	provider_id           TEXT NOT NULL,
	model                 TEXT NOT NULL,
	input_tokens          INTEGER NOT NULL DEFAULT 0,
	output_tokens         INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cost                  TEXT NOT NULL DEFAULT '0',
	status                TEXT NOT NULL,
	latency_ms            INTEGER NOT NULL DEFAULT 0,
	http_status           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_request_logs_app_time ON request_logs(app, timestamp);

CREATE TABLE IF NOT EXISTS model_pricing (
	model_id           TEXT PRIMARY KEY,
	input_cost         TEXT NOT NULL DEFAULT '0',
	output_cost        TEXT NOT NULL DEFAULT '0',
	cache_read_cost    TEXT NOT NULL DEFAULT '0',
	cache_creation_cost TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS app_proxy_config (
	app                   TEXT PRIMARY KEY,
	enabled               INTEGER NOT NULL DEFAULT 1,
	auto_failover_enabled INTEGER NOT NULL DEFAULT 1,
	custom_headers        TEXT NOT NULL DEFAULT '{}',
	timeout_ms            INTEGER NOT NULL DEFAULT 30000
);

CREATE TABLE IF NOT EXISTS live_backups (
	app         TEXT PRIMARY KEY,
	backup_json TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
`

const insertSchemaVersion = `INSERT INTO schema_version (version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM schema_version)`
const getSchemaVersion = `SELECT version FROM schema_version LIMIT 1`
