package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/HerbHall/hostscout/pkg/models"
)

// QueryFilter selects samples. Zero From or To leaves that side of the
// [From, To) range open; empty Kinds means every kind; Limit <= 0 means
// no limit.
type QueryFilter struct {
	Kinds []models.MetricKind
	From  time.Time
	To    time.Time
	Limit int
}

func (f QueryFilter) sql() (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(f.Kinds) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Kinds)), ",")
		where = append(where, "kind IN ("+ph+")")
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.To.UnixNano())
	}

	q := "SELECT kind, ts, seq, batch_id, mono, value, source, sealed FROM samples"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts, seq"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return q, args
}

// Query returns the matching samples ordered by timestamp then sequence.
// Nothing is read until the sequence is ranged over, and each range runs
// the query afresh on the read pool, so ranging twice with no writes in
// between yields the same samples. An error ends the sequence.
func (s *SQLiteStore) Query(ctx context.Context, f QueryFilter) iter.Seq2[models.MetricSample, error] {
	return func(yield func(models.MetricSample, error) bool) {
		q, args := f.sql()
		rows, err := s.rdb.QueryContext(ctx, q, args...)
		if err != nil {
			yield(models.MetricSample{}, fmt.Errorf("query samples: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			smp, err := s.scanSample(rows)
			if err != nil {
				yield(models.MetricSample{}, err)
				return
			}
			if !yield(smp, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.MetricSample{}, fmt.Errorf("iterate samples: %w", err))
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[models.MetricSample, error]) ([]models.MetricSample, error) {
	var out []models.MetricSample
	for smp, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, smp)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSample(row scanner) (models.MetricSample, error) {
	var (
		kind    string
		ts      int64
		seq     int64
		batchID int64
		mono    int64
		value   sql.NullFloat64
		source  string
		sealed  []byte
	)
	if err := row.Scan(&kind, &ts, &seq, &batchID, &mono, &value, &source, &sealed); err != nil {
		return models.MetricSample{}, fmt.Errorf("scan sample: %w", err)
	}

	smp := models.MetricSample{
		Timestamp: time.Unix(0, ts).UTC(),
		Mono:      time.Duration(mono),
		Kind:      models.MetricKind(kind),
		Value:     value.Float64,
		Source:    source,
		Seq:       uint64(seq),
		BatchID:   batchID,
	}
	if len(sealed) > 0 {
		v, src, err := openPayload(s.sealer, sealed)
		if err != nil {
			return models.MetricSample{}, fmt.Errorf("sample %s/%d: %w", kind, seq, err)
		}
		smp.Value, smp.Source = v, src
	}
	return smp, nil
}

// Latest returns the newest sample of kind, or ErrNotFound.
func (s *SQLiteStore) Latest(ctx context.Context, kind models.MetricKind) (models.MetricSample, error) {
	row := s.rdb.QueryRowContext(ctx, `
		SELECT kind, ts, seq, batch_id, mono, value, source, sealed
		FROM samples WHERE kind = ?
		ORDER BY ts DESC, seq DESC LIMIT 1`, string(kind))
	smp, err := s.scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetricSample{}, fmt.Errorf("latest %s: %w", kind, ErrNotFound)
	}
	return smp, err
}

// Kinds lists the metric kinds that have at least one stored sample.
func (s *SQLiteStore) Kinds(ctx context.Context) ([]models.MetricKind, error) {
	rows, err := s.rdb.QueryContext(ctx, "SELECT DISTINCT kind FROM samples ORDER BY kind")
	if err != nil {
		return nil, fmt.Errorf("list kinds: %w", err)
	}
	defer rows.Close()

	var kinds []models.MetricKind
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan kind: %w", err)
		}
		kinds = append(kinds, models.MetricKind(k))
	}
	return kinds, rows.Err()
}

// Stats summarizes what the store holds.
type Stats struct {
	AgentID       string    `json:"agent_id"`
	SchemaVersion int       `json:"schema_version"`
	Batches       int64     `json:"batches"`
	Samples       int64     `json:"samples"`
	Bytes         int64     `json:"bytes"`
	Oldest        time.Time `json:"oldest,omitzero"`
	Newest        time.Time `json:"newest,omitzero"`
}

// Stats reads batch-level totals from the read pool.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{AgentID: s.agentID, SchemaVersion: s.schemaVersion}
	var oldest, newest sql.NullInt64
	err := s.rdb.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(sample_count), 0), COALESCE(SUM(byte_size), 0),
		       MIN(first_ts), MAX(last_ts)
		FROM batches`,
	).Scan(&st.Batches, &st.Samples, &st.Bytes, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}
	if oldest.Valid {
		st.Oldest = time.Unix(0, oldest.Int64).UTC()
	}
	if newest.Valid {
		st.Newest = time.Unix(0, newest.Int64).UTC()
	}
	return st, nil
}
