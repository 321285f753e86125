// Package store is the local time-series engine: an embedded SQLite file
// holding metric samples grouped into atomically appended batches, with
// batch-granular retention.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/HerbHall/hostscout/internal/clock"
	"github.com/HerbHall/hostscout/internal/observability"
	"github.com/HerbHall/hostscout/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.HealthChecker = (*SQLiteStore)(nil)

// DefaultReadConns is the size of the read-only connection pool.
const DefaultReadConns = 4

// Config controls how Open builds a store.
type Config struct {
	// Path of the database file. Its directory is created if missing.
	Path string

	// ReadConns sizes the read-only pool. Zero means DefaultReadConns.
	ReadConns int

	// Sealer, when set, encrypts each sample's value and source.
	Sealer Sealer

	Clock   clock.Clock
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// SQLiteStore is the time-series store. One writer connection serializes
// appends and evictions; queries run on a separate read-only pool so they
// see committed data through WAL without blocking the writer.
type SQLiteStore struct {
	db   *sql.DB // single writer connection
	rdb  *sql.DB // read-only pool
	path string

	sealer  Sealer
	clock   clock.Clock
	metrics *observability.Metrics
	logger  *zap.Logger

	mu   sync.Mutex // serialize migrations
	once sync.Once  // ensure _migrations table created once

	writeMu      sync.Mutex // held for one append or one batch eviction
	nextSeq      uint64
	totalSamples int64
	totalBytes   int64

	agentID       string
	schemaVersion int

	// afterInsert runs inside the append transaction after the n-th sample
	// row is inserted. Tests use it to fail a batch half way through.
	afterInsert func(n int) error
}

// Open opens (or creates) the store at cfg.Path, validates the file and
// applies pending schema migrations.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}
	if cfg.ReadConns <= 0 {
		cfg.ReadConns = DefaultReadConns
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := openWriter(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:      db,
		path:    cfg.Path,
		sealer:  cfg.Sealer,
		clock:   cfg.Clock,
		metrics: observability.OrNew(cfg.Metrics),
		logger:  cfg.Logger,
	}

	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}

	rdb, err := sql.Open("sqlite", readerDSN(cfg.Path))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite reader %q: %w", cfg.Path, err)
	}
	rdb.SetMaxOpenConns(cfg.ReadConns)
	rdb.SetMaxIdleConns(cfg.ReadConns)
	if err := rdb.PingContext(ctx); err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("ping sqlite reader %q: %w", cfg.Path, err)
	}
	s.rdb = rdb

	s.metrics.SetStored(s.totalSamples, s.totalBytes)
	s.logger.Info("store opened",
		zap.String("path", cfg.Path),
		zap.String("agent_id", s.agentID),
		zap.Int("schema_version", s.schemaVersion),
		zap.Int64("samples", s.totalSamples),
	)
	return s, nil
}

// Per-connection pragmas go in the DSN so that every connection the pool
// opens gets them, not just the first one.
func writerDSN(path string) string {
	return path + "?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(FULL)"
}

func readerDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=query_only(1)"
}

func openWriter(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", writerDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL enables concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if isCorruption(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorruption, path, err)
		}
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA cache_size=-20000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			if isCorruption(err) {
				return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorruption, path, err)
			}
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		if isCorruption(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorruption, path, err)
		}
		return nil, fmt.Errorf("quick_check %q: %w", path, err)
	}
	if check != "ok" {
		db.Close()
		return nil, fmt.Errorf("%w: %s: quick_check: %s", ErrStoreCorruption, path, check)
	}
	return db, nil
}

// bootstrap checks that the file belongs to us, migrates it and loads the
// in-memory counters.
func (s *SQLiteStore) bootstrap(ctx context.Context) error {
	fresh, err := s.checkOwnership(ctx)
	if err != nil {
		return err
	}
	if !fresh {
		v, err := s.metaInt(ctx, metaSchemaVersion)
		if err != nil {
			return err
		}
		if v > SchemaVersion {
			return fmt.Errorf("%w: schema version %d is newer than supported %d",
				ErrStoreCorruption, v, SchemaVersion)
		}
	}

	if err := s.Migrate(ctx, "store", schemaMigrations); err != nil {
		return err
	}
	if err := s.setMeta(ctx, metaSchemaVersion, strconv.Itoa(SchemaVersion)); err != nil {
		return err
	}
	s.schemaVersion = SchemaVersion

	id, err := s.meta(ctx, metaAgentID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		if err := s.setMeta(ctx, metaAgentID, id); err != nil {
			return err
		}
	case err != nil:
		return err
	}
	s.agentID = id

	next, err := s.metaInt(ctx, metaNextSeq)
	if err != nil {
		return err
	}
	s.nextSeq = uint64(next)

	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(sample_count), 0), COALESCE(SUM(byte_size), 0) FROM batches",
	).Scan(&s.totalSamples, &s.totalBytes)
	if err != nil {
		return fmt.Errorf("load store totals: %w", err)
	}
	return nil
}

// checkOwnership returns fresh=true for an empty file, or one where only
// the migration bookkeeping table exists. A file that has other tables but
// no meta table was written by something else.
func (s *SQLiteStore) checkOwnership(ctx context.Context) (fresh bool, err error) {
	var tables, metaTables int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(name = 'meta'), 0)
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != '_migrations'`,
	).Scan(&tables, &metaTables)
	if err != nil {
		if isCorruption(err) {
			return false, fmt.Errorf("%w: %v", ErrStoreCorruption, err)
		}
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	if tables == 0 {
		return true, nil
	}
	if metaTables == 0 {
		return false, fmt.Errorf("%w: %s is not a hostscout store", ErrStoreCorruption, s.path)
	}
	return false, nil
}

// DB returns the writer *sql.DB for direct statements.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// AgentID returns the identity persisted in the meta table on first open.
func (s *SQLiteStore) AgentID() string {
	return s.agentID
}

// Tx executes fn within a write transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Checkpoint folds the WAL into the main database file so that the file
// alone is a consistent copy.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Health reports whether both pools answer.
func (s *SQLiteStore) Health(ctx context.Context) plugin.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: "writer: " + err.Error()}
	}
	if err := s.rdb.PingContext(ctx); err != nil {
		return plugin.HealthStatus{Status: plugin.StatusDegraded, Message: "reader: " + err.Error()}
	}

	s.writeMu.Lock()
	samples, bytes := s.totalSamples, s.totalBytes
	s.writeMu.Unlock()
	return plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"samples":        strconv.FormatInt(samples, 10),
			"bytes":          strconv.FormatInt(bytes, 10),
			"schema_version": strconv.Itoa(s.schemaVersion),
		},
	}
}

// Close closes both connection pools.
func (s *SQLiteStore) Close() error {
	var rerr error
	if s.rdb != nil {
		rerr = s.rdb.Close()
	}
	return errors.Join(rerr, s.db.Close())
}
