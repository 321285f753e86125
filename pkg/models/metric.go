package models

import (
	"fmt"
	"time"
)

// MetricKind identifies what a sample measures. The string form is the
// name persisted in the store and accepted by the query API.
type MetricKind string

const (
	MetricCPULoad        MetricKind = "CPU_LOAD"
	MetricMemUsed        MetricKind = "MEM_USED"
	MetricMemTotal       MetricKind = "MEM_TOTAL"
	MetricDiskUsed       MetricKind = "DISK_USED"
	MetricDiskTotal      MetricKind = "DISK_TOTAL"
	MetricDiskReadBytes  MetricKind = "DISK_READ_BYTES"
	MetricDiskWriteBytes MetricKind = "DISK_WRITE_BYTES"
	MetricNetRxBytes     MetricKind = "NET_RX_BYTES"
	MetricNetTxBytes     MetricKind = "NET_TX_BYTES"
)

// AllMetricKinds lists every kind the agent knows how to collect, in
// collection order.
var AllMetricKinds = []MetricKind{
	MetricCPULoad,
	MetricMemUsed,
	MetricMemTotal,
	MetricDiskUsed,
	MetricDiskTotal,
	MetricDiskReadBytes,
	MetricDiskWriteBytes,
	MetricNetRxBytes,
	MetricNetTxBytes,
}

// ParseMetricKind validates a kind name.
func ParseMetricKind(s string) (MetricKind, error) {
	k := MetricKind(s)
	if _, ok := kindInfo[k]; !ok {
		return "", fmt.Errorf("unknown metric kind %q", s)
	}
	return k, nil
}

// ParseMetricKinds validates a list of kind names. An empty list yields
// AllMetricKinds.
func ParseMetricKinds(names []string) ([]MetricKind, error) {
	if len(names) == 0 {
		out := make([]MetricKind, len(AllMetricKinds))
		copy(out, AllMetricKinds)
		return out, nil
	}
	seen := make(map[MetricKind]bool, len(names))
	out := make([]MetricKind, 0, len(names))
	for _, n := range names {
		k, err := ParseMetricKind(n)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func (k MetricKind) String() string { return string(k) }

// MetricSample is a single reading. Seq and BatchID are assigned by the
// store on append; a sample is never modified after that.
type MetricSample struct {
	Timestamp time.Time     `json:"timestamp"`
	Mono      time.Duration `json:"mono_ns"`
	Kind      MetricKind    `json:"kind"`
	Value     float64       `json:"value"`
	Source    string        `json:"source,omitempty"`
	Seq       uint64        `json:"seq"`
	BatchID   int64         `json:"batch_id"`
}

// SampleBatch is the output of one scheduler tick. It is written to the
// store as a single atomic unit.
type SampleBatch struct {
	CollectedAt time.Time
	Samples     []MetricSample

	// Failures records kinds the sensor could not read on this tick.
	// They are not persisted.
	Failures map[MetricKind]error
}

// Len returns the number of samples in the batch.
func (b *SampleBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Samples)
}

// BatchInfo describes a batch after it has been durably appended.
type BatchInfo struct {
	ID       int64  `json:"id"`
	UID      string `json:"uid"`
	Samples  int    `json:"samples"`
	Bytes    int64  `json:"bytes"`
	FirstSeq uint64 `json:"first_seq"`
	LastSeq  uint64 `json:"last_seq"`
}

// RetentionPolicy bounds how much history the store keeps. A zero field
// means that dimension is unbounded; at least one must be set.
type RetentionPolicy struct {
	MaxAge     time.Duration `mapstructure:"max_age" json:"max_age"`
	MaxSamples int64         `mapstructure:"max_samples" json:"max_samples"`
	MaxBytes   int64         `mapstructure:"max_bytes" json:"max_bytes"`
}

// Validate reports whether the policy has at least one finite bound and
// no negative values.
func (p RetentionPolicy) Validate() error {
	if p.MaxAge < 0 || p.MaxSamples < 0 || p.MaxBytes < 0 {
		return fmt.Errorf("retention bounds must not be negative")
	}
	if p.MaxAge == 0 && p.MaxSamples == 0 && p.MaxBytes == 0 {
		return fmt.Errorf("retention policy needs at least one of max_age, max_samples, max_bytes")
	}
	return nil
}
