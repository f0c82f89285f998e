package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synebula/cc-switch/internal/domain"
)

// dumpTables lists every table to round-trip through ExportSQL/ImportSQL.
// The schema has no foreign keys, so order only matters for readability of
// the resulting file, not correctness of the restore.
var dumpTables = []string{
	"providers",
	"provider_health",
	"failover_queue",
	"request_logs",
	"model_pricing",
	"app_proxy_config",
	"live_backups",
}

// ExportSQL writes every table to path as a sequence of INSERT statements -
// a plain-text, portable SQL snapshot, preferred here over a binary
// file-copy backup.
func (s *SQLiteStore) ExportSQL(ctx context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportSQLLocked(ctx, path)
}

// exportSQLLocked assumes the caller already holds s.mu.
func (s *SQLiteStore) exportSQLLocked(ctx context.Context, path string) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("-- cc-switch export, schema_version=%d, generated=%s\n", SchemaVersion, time.Now().UTC().Format(time.RFC3339)))

	for _, table := range dumpTables {
		if err := dumpTable(ctx, s.db, table, &sb); err != nil {
			return domain.NewStoreError("export_sql", err)
		}
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return domain.NewStoreError("export_sql", err)
	}
	return nil
}

// dumpTable appends one INSERT statement per row of table to sb, using
// sql.Rows.Columns to stay column-agnostic across the schema's tables.
func dumpTable(ctx context.Context, db *sql.DB, table string, sb *strings.Builder) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	for rows.Next() {
		values := make([]any, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}

		sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES (", table, strings.Join(cols, ", ")))
		for i, v := range values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(sqlLiteral(v))
		}
		sb.WriteString(");\n")
	}
	return rows.Err()
}

// sqlLiteral renders a scanned value as a SQLite literal. Strings are
// single-quote-escaped; everything else uses its default formatting, which
// is safe for the integers, floats and RFC3339 timestamps this schema
// stores.
func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "'" + strings.ReplaceAll(string(t), "'", "''") + "'"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case time.Time:
		return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ImportSQL replaces the database's contents with the dump at path, after
// first exporting a timestamped safety snapshot so a bad import can always
// be undone (§4.1's no-silent-data-loss stance).
func (s *SQLiteStore) ImportSQL(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backupID := uuid.NewString()
	backupPath := fmt.Sprintf("%s.backup-%s.sql", s.config.Path, backupID)

	if err := s.exportSQLLocked(ctx, backupPath); err != nil {
		return "", domain.NewStoreError("import_sql_snapshot", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", domain.NewStoreError("import_sql_read", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.NewStoreError("import_sql", err)
	}
	defer tx.Rollback()

	for _, table := range dumpTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return "", domain.NewStoreError("import_sql_clear", err)
		}
	}

	if _, err := tx.ExecContext(ctx, string(raw)); err != nil {
		return "", domain.NewStoreError("import_sql_exec", err)
	}

	if err := tx.Commit(); err != nil {
		return "", domain.NewStoreError("import_sql_commit", err)
	}

	return backupID, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
