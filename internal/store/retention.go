package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/clock"
	"github.com/HerbHall/hostscout/internal/observability"
	"github.com/HerbHall/hostscout/pkg/models"
)

// EvictionResult counts what one Evict pass removed.
type EvictionResult struct {
	Batches int64 `json:"batches"`
	Samples int64 `json:"samples"`
	Bytes   int64 `json:"bytes"`
}

// Evict deletes whole batches, oldest first, until every bound of policy
// holds. Each batch is removed in its own transaction and the write lock is
// released between batches, so appends interleave with a long pass and
// readers never wait on more than one batch deletion.
func (s *SQLiteStore) Evict(ctx context.Context, policy models.RetentionPolicy) (EvictionResult, error) {
	var res EvictionResult
	if err := policy.Validate(); err != nil {
		return res, err
	}

	var cutoff int64
	if policy.MaxAge > 0 {
		cutoff = s.clock.Now().Add(-policy.MaxAge).UnixNano()
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		done, err := s.evictOldest(ctx, policy, cutoff, &res)
		if err != nil {
			return res, err
		}
		if done {
			return res, nil
		}
	}
}

// evictOldest removes the oldest batch if some bound is exceeded. It
// reports done when nothing needed removing.
func (s *SQLiteStore) evictOldest(ctx context.Context, policy models.RetentionPolicy, cutoff int64, res *EvictionResult) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id, lastTS, count, size int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, last_ts, sample_count, byte_size FROM batches ORDER BY first_ts, id LIMIT 1",
	).Scan(&id, &lastTS, &count, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("find oldest batch: %w", err)
	}

	over := (policy.MaxSamples > 0 && s.totalSamples > policy.MaxSamples) ||
		(policy.MaxBytes > 0 && s.totalBytes > policy.MaxBytes) ||
		(policy.MaxAge > 0 && lastTS < cutoff)
	if !over {
		return true, nil
	}

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM samples WHERE batch_id = ?", id); err != nil {
			return fmt.Errorf("delete samples of batch %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete batch %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.totalSamples -= count
	s.totalBytes -= size
	res.Batches++
	res.Samples += count
	res.Bytes += size
	s.metrics.BatchesEvicted.Inc()
	s.metrics.SamplesEvicted.Add(float64(count))
	s.metrics.SetStored(s.totalSamples, s.totalBytes)
	return false, nil
}

// Retainer runs Evict on a fixed interval as a single background task.
type Retainer struct {
	store    *SQLiteStore
	policy   models.RetentionPolicy
	interval time.Duration
	clock    clock.Clock
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetainer validates policy and returns a stopped Retainer. A nil clock
// means the real clock.
func NewRetainer(s *SQLiteStore, policy models.RetentionPolicy, interval time.Duration, clk clock.Clock, m *observability.Metrics, logger *zap.Logger) (*Retainer, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("retention interval must be positive, got %s", interval)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retainer{
		store:    s,
		policy:   policy,
		interval: interval,
		clock:    clk,
		metrics:  observability.OrNew(m),
		logger:   logger,
	}, nil
}

// Start launches the background loop. The first pass runs immediately.
func (r *Retainer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("retainer already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish.
// It is safe to call more than once.
func (r *Retainer) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Retainer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		// A pass is never interrupted half way; Stop waits for it instead.
		if _, err := r.RunOnce(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("retention pass failed", zap.Error(err))
		}

		t := r.clock.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C():
		}
	}
}

// RunOnce performs a single eviction pass.
func (r *Retainer) RunOnce(ctx context.Context) (EvictionResult, error) {
	res, err := r.store.Evict(ctx, r.policy)
	if err != nil {
		r.metrics.EvictionFailures.Inc()
		return res, err
	}
	if res.Batches > 0 {
		r.logger.Info("retention pass evicted batches",
			zap.Int64("batches", res.Batches),
			zap.Int64("samples", res.Samples),
			zap.Int64("bytes", res.Bytes),
		)
	}
	return res, nil
}
