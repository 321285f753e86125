package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/pkg/models"
)

// fixed per-row cost used for the logical byte estimate: ts, seq,
// batch_id, mono and value.
const rowOverhead = 8 * 5

// Append writes every sample of batch in one transaction. The call returns
// only after the commit is fsynced; on error nothing from the batch is
// visible and the error wraps ErrStoreWriteFailure (or ErrInvalidBatch).
// Seq and BatchID of the caller's samples are not modified.
func (s *SQLiteStore) Append(ctx context.Context, batch *models.SampleBatch) (models.BatchInfo, error) {
	if err := validateBatch(batch); err != nil {
		return models.BatchInfo{}, err
	}

	start := time.Now()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	info := models.BatchInfo{
		UID:      uuid.NewString(),
		Samples:  len(batch.Samples),
		FirstSeq: s.nextSeq,
		LastSeq:  s.nextSeq + uint64(len(batch.Samples)) - 1,
	}

	rows := make([]sampleRow, len(batch.Samples))
	for i, smp := range batch.Samples {
		r := sampleRow{
			kind:   string(smp.Kind),
			ts:     smp.Timestamp.UnixNano(),
			seq:    int64(info.FirstSeq) + int64(i),
			mono:   int64(smp.Mono),
			value:  sql.NullFloat64{Float64: smp.Value, Valid: true},
			source: smp.Source,
		}
		if s.sealer != nil {
			sealed, err := sealPayload(s.sealer, smp.Value, smp.Source)
			if err != nil {
				return models.BatchInfo{}, fmt.Errorf("%w: %w", ErrStoreWriteFailure, err)
			}
			r.value = sql.NullFloat64{}
			r.source = ""
			r.sealed = sealed
		}
		info.Bytes += rowOverhead + int64(len(r.kind)+len(r.source)+len(r.sealed))
		rows[i] = r
	}

	collected := batch.CollectedAt
	if collected.IsZero() {
		collected = batch.Samples[len(batch.Samples)-1].Timestamp
	}

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO batches (uid, collected_at, first_ts, last_ts, sample_count, byte_size)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			info.UID, collected.UnixNano(), rows[0].ts, rows[len(rows)-1].ts, info.Samples, info.Bytes,
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		if info.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("batch id: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO samples (kind, ts, seq, batch_id, mono, value, source, sealed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare sample insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range rows {
			var sealed any
			if r.sealed != nil {
				sealed = r.sealed
			}
			if _, err := stmt.ExecContext(ctx, r.kind, r.ts, r.seq, info.ID, r.mono, r.value, r.source, sealed); err != nil {
				return fmt.Errorf("insert sample %d: %w", i, err)
			}
			if s.afterInsert != nil {
				if err := s.afterInsert(i + 1); err != nil {
					return err
				}
			}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE meta SET value = ? WHERE key = ?",
			strconv.FormatUint(info.LastSeq+1, 10), metaNextSeq,
		)
		return err
	})
	if err != nil {
		s.logger.Debug("append failed", zap.Int("samples", info.Samples), zap.Error(err))
		return models.BatchInfo{}, fmt.Errorf("%w: %w", ErrStoreWriteFailure, err)
	}

	s.nextSeq = info.LastSeq + 1
	s.totalSamples += int64(info.Samples)
	s.totalBytes += info.Bytes
	s.metrics.SamplesAppended.Add(float64(info.Samples))
	s.metrics.SetStored(s.totalSamples, s.totalBytes)
	s.metrics.StoreAppendDuration.Observe(time.Since(start).Seconds())
	return info, nil
}

type sampleRow struct {
	kind   string
	ts     int64
	seq    int64
	mono   int64
	value  sql.NullFloat64
	source string
	sealed []byte
}

func validateBatch(batch *models.SampleBatch) error {
	if batch.Len() == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidBatch)
	}
	var prev time.Time
	for i, smp := range batch.Samples {
		if _, err := models.ParseMetricKind(string(smp.Kind)); err != nil {
			return fmt.Errorf("%w: sample %d: %v", ErrInvalidBatch, i, err)
		}
		if smp.Timestamp.IsZero() {
			return fmt.Errorf("%w: sample %d has no timestamp", ErrInvalidBatch, i)
		}
		if i > 0 && smp.Timestamp.Before(prev) {
			return fmt.Errorf("%w: sample %d timestamp goes backwards", ErrInvalidBatch, i)
		}
		prev = smp.Timestamp
	}
	return nil
}
