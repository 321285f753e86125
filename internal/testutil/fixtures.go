package testutil

import (
	"time"

	"github.com/HerbHall/hostscout/pkg/models"
)

// Epoch is the default timestamp of fixture samples.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewSample returns a CPU_LOAD sample at Epoch, suitable for test fixtures.
// Override individual fields with options.
func NewSample(opts ...func(*models.MetricSample)) models.MetricSample {
	s := models.MetricSample{
		Timestamp: Epoch,
		Kind:      models.MetricCPULoad,
		Value:     12.5,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithKind sets the sample kind.
func WithKind(k models.MetricKind) func(*models.MetricSample) {
	return func(s *models.MetricSample) { s.Kind = k }
}

// WithValue sets the sample value.
func WithValue(v float64) func(*models.MetricSample) {
	return func(s *models.MetricSample) { s.Value = v }
}

// WithSource sets the device or interface name.
func WithSource(src string) func(*models.MetricSample) {
	return func(s *models.MetricSample) { s.Source = src }
}

// WithTimestamp sets the wall-clock timestamp.
func WithTimestamp(ts time.Time) func(*models.MetricSample) {
	return func(s *models.MetricSample) { s.Timestamp = ts }
}

// NewBatch returns a batch of n CPU_LOAD samples starting at start, one
// millisecond apart, with values 0..n-1.
func NewBatch(start time.Time, n int) *models.SampleBatch {
	b := &models.SampleBatch{CollectedAt: start}
	for i := range n {
		b.Samples = append(b.Samples, NewSample(
			WithTimestamp(start.Add(time.Duration(i)*time.Millisecond)),
			WithValue(float64(i)),
		))
	}
	return b
}
