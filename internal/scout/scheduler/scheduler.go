// Package scheduler drives periodic collection: one goroutine wakes on a
// fixed interval plus bounded jitter, collects a batch from the sensor and
// appends it to the store. Ticks never overlap; a tick that overruns makes
// the next one fire immediately and the missed slots are skipped, not
// queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/hostscout/internal/clock"
	"github.com/HerbHall/hostscout/internal/observability"
	"github.com/HerbHall/hostscout/internal/scout/metrics"
	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/pkg/models"
)

// Appender is the write side of the store.
type Appender interface {
	Append(ctx context.Context, batch *models.SampleBatch) (models.BatchInfo, error)
}

// Config holds per-tick timeouts. Zero means one interval.
type Config struct {
	CollectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Scheduler runs the tick loop. It is single use: once stopped it cannot
// be started again.
type Scheduler struct {
	cfg       Config
	collector metrics.Collector
	appender  Appender
	clock     clock.Clock
	metrics   *observability.Metrics
	logger    *zap.Logger

	// errLog throttles failure logs so a broken sensor cannot flood.
	errLog     *rate.Limiter
	suppressed int

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Owned by the loop goroutine.
	start  time.Time
	lastTS time.Time
	jitter func(bound time.Duration) time.Duration
}

// New returns a scheduler that is not yet running.
func New(cfg Config, c metrics.Collector, a Appender, clk clock.Clock, m *observability.Metrics, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		collector: c,
		appender:  a,
		clock:     clk,
		metrics:   observability.OrNew(m),
		logger:    logger,
		errLog:    rate.NewLimiter(rate.Every(time.Minute), 3),
		done:      make(chan struct{}),
		jitter:    randomJitter,
	}
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound)))
}

// Start launches the tick loop. The first tick fires immediately; each
// following tick is due interval plus a random jitter in [0, jitter) after
// the previous tick started.
func (s *Scheduler) Start(interval, jitter time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	if jitter < 0 || jitter > interval {
		return fmt.Errorf("jitter must be within [0, %s], got %s", interval, jitter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler already stopped")
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx, interval, jitter)

	s.logger.Info("scheduler started",
		zap.Duration("interval", interval),
		zap.Duration("jitter", jitter),
	)
	return nil
}

// Stop interrupts the wait between ticks and returns once the in-flight
// tick, if any, has finished. It is safe to call more than once and
// before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if !started {
		close(s.done)
		return
	}
	<-s.done
	s.logger.Info("scheduler stopped")
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *Scheduler) run(ctx context.Context, interval, jitter time.Duration) {
	defer close(s.done)

	s.start = s.clock.Now()
	next := s.start
	for {
		if wait := next.Sub(s.clock.Now()); wait > 0 {
			t := s.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C():
			}
		} else if ctx.Err() != nil {
			return
		}

		tickStart := s.clock.Now()
		s.tick(ctx, tickStart, interval)

		next = tickStart.Add(interval + s.jitter(jitter))
		if now := s.clock.Now(); !now.Before(next) {
			if missed := int(now.Sub(next) / interval); missed > 0 {
				s.metrics.TicksSkipped.Add(float64(missed))
				s.logger.Warn("tick overran its interval, skipping missed ticks",
					zap.Int("skipped", missed),
					zap.Duration("tick_duration", now.Sub(tickStart)),
				)
			}
			next = now
		}
	}
}

// tick runs one collect and append. Its context is detached from ctx so
// Stop waits for it rather than aborting it; the per-step timeouts bound
// how long that can take.
func (s *Scheduler) tick(ctx context.Context, tickStart time.Time, interval time.Duration) {
	s.metrics.TicksTotal.Inc()
	defer func() {
		s.metrics.TickDuration.Observe(s.clock.Now().Sub(tickStart).Seconds())
	}()
	work := context.WithoutCancel(ctx)

	cctx, cancel := context.WithTimeout(work, orInterval(s.cfg.CollectTimeout, interval))
	batch, err := s.collector.Collect(cctx)
	cancel()

	if batch.Len() == 0 {
		s.metrics.TickFailures.Inc()
		if err == nil {
			err = errors.New("sensor returned no samples")
		}
		s.logFailure("tick failed, nothing collected", err)
		return
	}
	if err != nil {
		s.metrics.SensorPartial.Inc()
		for k := range batch.Failures {
			s.metrics.KindFailure(string(k))
		}
		s.logFailure("partial collection, writing what was read", err)
	}

	s.stamp(batch, tickStart)

	if err := s.write(work, batch, orInterval(s.cfg.WriteTimeout, interval)); err != nil {
		s.metrics.TickFailures.Inc()
		s.logFailure("tick failed, batch dropped after append retry", err)
	}
}

// stamp makes timestamps non-decreasing within the batch and puts the
// first one strictly after the previous batch's last, then derives Mono.
func (s *Scheduler) stamp(b *models.SampleBatch, tickStart time.Time) {
	if b.CollectedAt.IsZero() {
		b.CollectedAt = tickStart
	}
	prev := s.lastTS
	for i := range b.Samples {
		ts := b.Samples[i].Timestamp
		if ts.IsZero() {
			ts = tickStart
		}
		switch {
		case i == 0 && !prev.IsZero() && !ts.After(prev):
			ts = prev.Add(time.Nanosecond)
		case i > 0 && ts.Before(prev):
			ts = prev
		}
		b.Samples[i].Timestamp = ts
		b.Samples[i].Mono = ts.Sub(s.start)
		prev = ts
	}
	s.lastTS = prev
}

// write appends b, retrying once immediately. Invalid batches are not
// retried.
func (s *Scheduler) write(ctx context.Context, b *models.SampleBatch, timeout time.Duration) error {
	var err error
	for attempt := range 2 {
		if attempt > 0 {
			s.metrics.StoreWriteRetries.Inc()
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		_, err = s.appender.Append(wctx, b)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrInvalidBatch) {
			break
		}
	}
	s.metrics.StoreWriteFailures.Inc()
	return err
}

func (s *Scheduler) logFailure(msg string, err error) {
	if !s.errLog.Allow() {
		s.suppressed++
		return
	}
	s.logger.Warn(msg, zap.Error(err), zap.Int("suppressed_since_last", s.suppressed))
	s.suppressed = 0
}

func orInterval(d, interval time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return interval
}
