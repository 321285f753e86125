// Package observability holds the prometheus instruments shared by the
// scheduler, the store and the retention task. Instruments are registered
// on a caller-supplied registry so that several agents (or tests) can
// coexist in one process.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hostscout"

// Metrics is the set of counters and gauges the agent core updates.
type Metrics struct {
	TicksTotal          prometheus.Counter
	TickFailures        prometheus.Counter
	TicksSkipped        prometheus.Counter
	SensorPartial       prometheus.Counter
	SensorKindFailures  *prometheus.CounterVec
	StoreWriteRetries   prometheus.Counter
	StoreWriteFailures  prometheus.Counter
	SamplesAppended     prometheus.Counter
	BatchesEvicted      prometheus.Counter
	SamplesEvicted      prometheus.Counter
	EvictionFailures    prometheus.Counter
	StoredSamples       prometheus.Gauge
	StoredBytes         prometheus.Gauge
	TickDuration        prometheus.Histogram
	StoreAppendDuration prometheus.Histogram
}

// New creates the instruments and registers them on reg. A nil reg
// leaves them unregistered, which is what most unit tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler ticks started.",
		}),
		TickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tick_failures_total",
			Help: "Ticks aborted because the sensor produced no batch.",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_skipped_total",
			Help: "Tick slots skipped because a previous tick overran its interval.",
		}),
		SensorPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sensor", Name: "partial_batches_total",
			Help: "Batches written with at least one unreadable metric kind.",
		}),
		SensorKindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sensor", Name: "kind_failures_total",
			Help: "Per-kind read failures.",
		}, []string{"kind"}),
		StoreWriteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "append_retries_total",
			Help: "Batch appends retried after a first failure.",
		}),
		StoreWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "append_failures_total",
			Help: "Batches dropped after the retry also failed.",
		}),
		SamplesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "samples_appended_total",
			Help: "Samples durably appended.",
		}),
		BatchesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "batches_evicted_total",
			Help: "Batches deleted by retention.",
		}),
		SamplesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "samples_evicted_total",
			Help: "Samples deleted by retention.",
		}),
		EvictionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "pass_failures_total",
			Help: "Retention passes that ended with an error.",
		}),
		StoredSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "samples",
			Help: "Samples currently stored.",
		}),
		StoredBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "payload_bytes",
			Help: "Logical payload bytes currently stored.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tick_duration_seconds",
			Help:    "Wall time from tick start to append completion.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		StoreAppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "append_duration_seconds",
			Help:    "Latency of a durable batch append.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksTotal, m.TickFailures, m.TicksSkipped,
			m.SensorPartial, m.SensorKindFailures,
			m.StoreWriteRetries, m.StoreWriteFailures, m.SamplesAppended,
			m.BatchesEvicted, m.SamplesEvicted, m.EvictionFailures,
			m.StoredSamples, m.StoredBytes,
			m.TickDuration, m.StoreAppendDuration,
		)
	}
	return m
}

// KindFailure counts a failed read of kind.
func (m *Metrics) KindFailure(kind string) {
	m.SensorKindFailures.WithLabelValues(kind).Inc()
}

// SetStored updates the stored samples and bytes gauges.
func (m *Metrics) SetStored(samples, bytes int64) {
	m.StoredSamples.Set(float64(samples))
	m.StoredBytes.Set(float64(bytes))
}

// OrNew returns m, or a fresh unregistered set when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(nil)
}
