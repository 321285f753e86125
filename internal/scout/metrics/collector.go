// Package metrics is the hardware sensor adapter. It reads point-in-time
// host metrics through gopsutil and turns them into a models.SampleBatch.
//
// Byte counters (DISK_READ_BYTES, DISK_WRITE_BYTES, NET_RX_BYTES,
// NET_TX_BYTES) are always reported cumulative since boot, one sample per
// device or interface, exactly as the kernel counts them. Consumers compute
// deltas and treat a decrease as a counter reset.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/HerbHall/hostscout/internal/clock"
	"github.com/HerbHall/hostscout/pkg/models"
)

// Collector gathers one batch of host metrics.
type Collector interface {
	Collect(ctx context.Context) (*models.SampleBatch, error)
}

// Config selects what a HostCollector reads.
type Config struct {
	// Kinds to collect. Empty means every known kind.
	Kinds []models.MetricKind

	// Timeout bounds one Collect call in addition to the caller's context.
	// Zero leaves the bound to the context.
	Timeout time.Duration

	// DiskPath is the volume for DISK_USED and DISK_TOTAL. Empty means the
	// system volume.
	DiskPath string

	Clock clock.Clock
}

// HostCollector reads the host through gopsutil. It is safe for
// concurrent use.
type HostCollector struct {
	kinds    []models.MetricKind
	enabled  map[models.MetricKind]bool
	timeout  time.Duration
	diskPath string
	clock    clock.Clock
	reader   hostReader
	logger   *zap.Logger

	cpuMu   sync.Mutex
	prevCPU *cpuReading

	// inflight holds one slot per probe. A read that outlives its tick
	// keeps the slot, so a hung platform call never has a second reader.
	inflight map[string]*semaphore.Weighted
}

// Compile-time interface guard.
var _ Collector = (*HostCollector)(nil)

// NewCollector returns a gopsutil-backed collector.
func NewCollector(cfg Config, logger *zap.Logger) (*HostCollector, error) {
	return newCollector(cfg, gopsutilReader{}, logger)
}

func newCollector(cfg Config, r hostReader, logger *zap.Logger) (*HostCollector, error) {
	names := make([]string, len(cfg.Kinds))
	for i, k := range cfg.Kinds {
		names[i] = string(k)
	}
	kinds, err := models.ParseMetricKinds(names)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("collect timeout must not be negative")
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = primaryMount
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	enabled := make(map[models.MetricKind]bool, len(kinds))
	for _, k := range kinds {
		enabled[k] = true
	}
	c := &HostCollector{
		kinds:    kinds,
		enabled:  enabled,
		timeout:  cfg.Timeout,
		diskPath: cfg.DiskPath,
		clock:    cfg.Clock,
		reader:   r,
		logger:   logger,
		inflight: make(map[string]*semaphore.Weighted),
	}
	for _, p := range c.probes() {
		c.inflight[p.name] = semaphore.NewWeighted(1)
	}
	return c, nil
}

// Kinds returns the kinds this collector reads, in collection order.
func (c *HostCollector) Kinds() []models.MetricKind {
	out := make([]models.MetricKind, len(c.kinds))
	copy(out, c.kinds)
	return out
}

// probe reads one hardware source and yields samples for one or more kinds.
type probe struct {
	name  string
	kinds []models.MetricKind
	read  func(ctx context.Context) ([]reading, error)
}

// reading is one value before it is stamped into a sample.
type reading struct {
	kind   models.MetricKind
	source string
	value  float64
}

// probeResult is sent by a probe goroutine to Collect.
type probeResult struct {
	idx      int
	readings []reading
	err      error
}

// probeState tracks one probe within a single Collect call.
type probeState int

const (
	probePending probeState = iota
	probeDone
	probeBusy
)

// Collect reads every enabled kind concurrently. It never waits past the
// deadline: kinds still outstanding are reported as ErrSensorTimeout, and
// a probe whose previous read has not returned is not started again.
// When some kinds fail the batch holds the rest and the error is a
// *PartialError; when all fail the batch is empty and the error wraps
// ErrNoReadings.
func (c *HostCollector) Collect(ctx context.Context) (*models.SampleBatch, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	probes := c.probes()
	results := make([]probeResult, len(probes))
	states := make([]probeState, len(probes))
	// Buffered so a read finishing after the deadline never blocks.
	ch := make(chan probeResult, len(probes))

	pending := 0
	for i, p := range probes {
		slot := c.inflight[p.name]
		if !slot.TryAcquire(1) {
			states[i] = probeBusy
			continue
		}
		pending++
		go func() {
			defer slot.Release(1)
			rs, err := p.read(ctx)
			ch <- probeResult{idx: i, readings: rs, err: err}
		}()
	}

	timedOut := false
wait:
	for pending > 0 {
		select {
		case r := <-ch:
			results[r.idx] = r
			states[r.idx] = probeDone
			pending--
		case <-ctx.Done():
			timedOut = true
			break wait
		}
	}

	now := c.clock.Now()
	batch := &models.SampleBatch{CollectedAt: now}
	failures := make(map[models.MetricKind]error)
	byKind := make(map[models.MetricKind][]reading)

	for i, p := range probes {
		r := results[i]
		switch {
		case states[i] == probeBusy:
			for _, k := range p.kinds {
				failures[k] = fmt.Errorf("%s: previous read still running: %w", p.name, ErrSensorTimeout)
			}
		case states[i] == probePending:
			for _, k := range p.kinds {
				failures[k] = ErrSensorTimeout
			}
		case errors.Is(r.err, context.DeadlineExceeded):
			for _, k := range p.kinds {
				failures[k] = fmt.Errorf("%s: %w", p.name, ErrSensorTimeout)
			}
		case r.err != nil:
			for _, k := range p.kinds {
				failures[k] = fmt.Errorf("%s: %w", p.name, r.err)
			}
		default:
			seen := make(map[models.MetricKind]bool)
			for _, rd := range r.readings {
				byKind[rd.kind] = append(byKind[rd.kind], rd)
				seen[rd.kind] = true
			}
			for _, k := range p.kinds {
				if !seen[k] {
					failures[k] = fmt.Errorf("%s: no reading", p.name)
				}
			}
		}
	}

	for _, k := range c.kinds {
		rs := byKind[k]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].source < rs[j].source })
		for _, rd := range rs {
			batch.Samples = append(batch.Samples, models.MetricSample{
				Timestamp: now,
				Kind:      rd.kind,
				Value:     rd.value,
				Source:    rd.source,
			})
		}
	}

	if len(failures) == 0 {
		return batch, nil
	}
	batch.Failures = failures
	pe := &PartialError{Failures: failures}
	if timedOut {
		c.logger.Debug("collection deadline reached", zap.Int("outstanding", len(failures)))
	}
	if len(batch.Samples) == 0 {
		return batch, fmt.Errorf("%w: %w", ErrNoReadings, pe)
	}
	return batch, pe
}

// probes returns the hardware sources needed for the enabled kinds. Kinds
// that come from the same source share one read.
func (c *HostCollector) probes() []probe {
	all := []probe{
		{
			name:  "cpu",
			kinds: []models.MetricKind{models.MetricCPULoad},
			read:  c.readCPU,
		},
		{
			name:  "memory",
			kinds: []models.MetricKind{models.MetricMemUsed, models.MetricMemTotal},
			read:  c.readMemory,
		},
		{
			name:  "disk usage",
			kinds: []models.MetricKind{models.MetricDiskUsed, models.MetricDiskTotal},
			read:  c.readDiskUsage,
		},
		{
			name:  "disk io",
			kinds: []models.MetricKind{models.MetricDiskReadBytes, models.MetricDiskWriteBytes},
			read:  c.readDiskIO,
		},
		{
			name:  "net io",
			kinds: []models.MetricKind{models.MetricNetRxBytes, models.MetricNetTxBytes},
			read:  c.readNetIO,
		},
	}

	var out []probe
	for _, p := range all {
		var kinds []models.MetricKind
		for _, k := range p.kinds {
			if c.enabled[k] {
				kinds = append(kinds, k)
			}
		}
		if len(kinds) == 0 {
			continue
		}
		p.kinds = kinds
		out = append(out, p)
	}
	return out
}

func (c *HostCollector) readCPU(ctx context.Context) ([]reading, error) {
	t, err := c.reader.CPUTimes(ctx)
	if err != nil {
		return nil, err
	}
	cur := newCPUReading(t)

	c.cpuMu.Lock()
	prev := c.prevCPU
	c.prevCPU = &cur
	c.cpuMu.Unlock()

	if prev == nil {
		// First reading: the baseline is boot, so this is the average since boot.
		prev = &cpuReading{}
	}
	return []reading{{kind: models.MetricCPULoad, value: cpuPercent(*prev, cur)}}, nil
}

func (c *HostCollector) readMemory(ctx context.Context) ([]reading, error) {
	vm, err := c.reader.VirtualMemory(ctx)
	if err != nil {
		return nil, err
	}
	return c.filter([]reading{
		{kind: models.MetricMemUsed, value: float64(vm.Used)},
		{kind: models.MetricMemTotal, value: float64(vm.Total)},
	}), nil
}

func (c *HostCollector) readDiskUsage(ctx context.Context) ([]reading, error) {
	u, err := c.reader.DiskUsage(ctx, c.diskPath)
	if err != nil {
		return nil, err
	}
	return c.filter([]reading{
		{kind: models.MetricDiskUsed, source: c.diskPath, value: float64(u.Used)},
		{kind: models.MetricDiskTotal, source: c.diskPath, value: float64(u.Total)},
	}), nil
}

func (c *HostCollector) readDiskIO(ctx context.Context) ([]reading, error) {
	counters, err := c.reader.DiskIO(ctx)
	if err != nil {
		return nil, err
	}
	var out []reading
	for name, io := range counters {
		out = append(out,
			reading{kind: models.MetricDiskReadBytes, source: name, value: float64(io.ReadBytes)},
			reading{kind: models.MetricDiskWriteBytes, source: name, value: float64(io.WriteBytes)},
		)
	}
	return c.filter(out), nil
}

func (c *HostCollector) readNetIO(ctx context.Context) ([]reading, error) {
	counters, err := c.reader.NetIO(ctx)
	if err != nil {
		return nil, err
	}
	loop, err := c.reader.Loopbacks(ctx)
	if err != nil {
		c.logger.Debug("loopback lookup failed, skipping by name only", zap.Error(err))
		loop = nil
	}

	var out []reading
	for _, io := range counters {
		if loop[io.Name] || io.Name == "lo" {
			continue
		}
		out = append(out,
			reading{kind: models.MetricNetRxBytes, source: io.Name, value: float64(io.BytesRecv)},
			reading{kind: models.MetricNetTxBytes, source: io.Name, value: float64(io.BytesSent)},
		)
	}
	return c.filter(out), nil
}

func (c *HostCollector) filter(rs []reading) []reading {
	out := rs[:0]
	for _, r := range rs {
		if c.enabled[r.kind] {
			out = append(out, r)
		}
	}
	return out
}
