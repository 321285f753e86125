package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SchemaVersion is the newest schema this build understands. Opening a
// file whose meta.schema_version is larger fails with ErrStoreCorruption.
const SchemaVersion = 1

const (
	metaSchemaVersion = "schema_version"
	metaAgentID       = "agent_id"
	metaNextSeq       = "next_seq"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var schemaMigrations = []Migration{
	{
		Version:     1,
		Description: "meta, batches and samples tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE meta (
					key   TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
				`INSERT INTO meta (key, value) VALUES ('next_seq', '1')`,
				`CREATE TABLE batches (
					id           INTEGER PRIMARY KEY AUTOINCREMENT,
					uid          TEXT    NOT NULL UNIQUE,
					collected_at INTEGER NOT NULL,
					first_ts     INTEGER NOT NULL,
					last_ts      INTEGER NOT NULL,
					sample_count INTEGER NOT NULL,
					byte_size    INTEGER NOT NULL
				)`,
				`CREATE INDEX idx_batches_age ON batches(first_ts, id)`,
				`CREATE TABLE samples (
					kind     TEXT    NOT NULL,
					ts       INTEGER NOT NULL,
					seq      INTEGER NOT NULL,
					batch_id INTEGER NOT NULL REFERENCES batches(id),
					mono     INTEGER NOT NULL,
					value    REAL,
					source   TEXT    NOT NULL DEFAULT '',
					sealed   BLOB,
					PRIMARY KEY (kind, ts, seq)
				) WITHOUT ROWID`,
				`CREATE INDEX idx_samples_batch ON samples(batch_id)`,
				`CREATE INDEX idx_samples_time ON samples(ts, seq)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Migrate runs pending migrations for the named component. Already-applied
// migrations (tracked in the shared _migrations table) are skipped.
// Migrations must be provided in ascending Version order.
func (s *SQLiteStore) Migrate(ctx context.Context, component string, migrations []Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range migrations {
		applied, err := s.isMigrationApplied(ctx, component, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := s.applyMigration(ctx, component, m); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", component, m.Version, m.Description, err)
		}
	}

	return nil
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				component   TEXT    NOT NULL,
				version     INTEGER NOT NULL,
				description TEXT    NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (component, version)
			)
		`)
	})
	return err
}

func (s *SQLiteStore) isMigrationApplied(ctx context.Context, component string, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE component = ? AND version = ?",
		component, version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %s/%d: %w", component, version, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, component string, m Migration) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(tx); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (component, version, description) VALUES (?, ?, ?)",
			component, m.Version, m.Description,
		)
		return err
	})
}

func (s *SQLiteStore) meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("read meta %q: %w", key, err)
	}
	return v, nil
}

// metaInt reads a numeric meta value; a missing key reads as zero.
func (s *SQLiteStore) metaInt(ctx context.Context, key string) (int64, error) {
	v, err := s.meta(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: meta %q = %q", ErrStoreCorruption, key, v)
	}
	return n, nil
}

func (s *SQLiteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write meta %q: %w", key, err)
	}
	return nil
}
