package metrics

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/HerbHall/hostscout/pkg/models"
)

var (
	// ErrSensorTimeout marks kinds that were still being read when the
	// collection deadline passed.
	ErrSensorTimeout = errors.New("sensor: collection timed out")

	// ErrNoReadings is returned when not a single kind could be read.
	ErrNoReadings = errors.New("sensor: no metric kind could be read")
)

// PartialError lists the kinds that could not be read on one collection.
// The batch returned alongside it holds the kinds that could.
type PartialError struct {
	Failures map[models.MetricKind]error
}

func (e *PartialError) Error() string {
	kinds := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		kinds = append(kinds, string(k))
	}
	slices.Sort(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failures[models.MetricKind(k)]))
	}
	return fmt.Sprintf("sensor: %d kind(s) failed: %s", len(kinds), strings.Join(parts, "; "))
}

// Unwrap exposes the per-kind causes so errors.Is(err, ErrSensorTimeout)
// works on a partial failure.
func (e *PartialError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}
