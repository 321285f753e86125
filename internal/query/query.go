// Package query is the read-only facade over the time-series store, used
// by the HTTP routes and the query command.
package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/pkg/models"
)

// ErrInvalidRange is returned when from is after to.
var ErrInvalidRange = errors.New("query: from must not be after to")

// Reader is the read side of the store.
type Reader interface {
	Query(ctx context.Context, f store.QueryFilter) iter.Seq2[models.MetricSample, error]
	Latest(ctx context.Context, kind models.MetricKind) (models.MetricSample, error)
	Kinds(ctx context.Context) ([]models.MetricKind, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Compile-time interface guard.
var _ Reader = (*store.SQLiteStore)(nil)

// Service answers read-only questions about stored telemetry.
type Service struct {
	r Reader
}

// NewService wraps r.
func NewService(r Reader) *Service {
	return &Service{r: r}
}

// ListMetricKinds returns the kinds with at least one stored sample. The
// result is never nil.
func (s *Service) ListMetricKinds(ctx context.Context) ([]models.MetricKind, error) {
	kinds, err := s.r.Kinds(ctx)
	if err != nil {
		return nil, err
	}
	if kinds == nil {
		kinds = []models.MetricKind{}
	}
	return kinds, nil
}

// Query returns the samples of kind with a timestamp in [from, to),
// ordered by timestamp then store sequence. An empty kind selects every
// kind; a zero from or to leaves that side open. The sequence is lazy and
// can be ranged over more than once.
func (s *Service) Query(ctx context.Context, kind models.MetricKind, from, to time.Time) iter.Seq2[models.MetricSample, error] {
	f, err := filter(kind, from, to)
	if err != nil {
		return func(yield func(models.MetricSample, error) bool) {
			yield(models.MetricSample{}, err)
		}
	}
	return s.r.Query(ctx, f)
}

// LatestSample returns the newest sample of kind. It wraps
// store.ErrNotFound when nothing of that kind is stored.
func (s *Service) LatestSample(ctx context.Context, kind models.MetricKind) (models.MetricSample, error) {
	if _, err := models.ParseMetricKind(string(kind)); err != nil {
		return models.MetricSample{}, err
	}
	return s.r.Latest(ctx, kind)
}

// Stats summarizes the store.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	return s.r.Stats(ctx)
}

func filter(kind models.MetricKind, from, to time.Time) (store.QueryFilter, error) {
	var f store.QueryFilter
	if kind != "" {
		k, err := models.ParseMetricKind(string(kind))
		if err != nil {
			return f, err
		}
		f.Kinds = []models.MetricKind{k}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return f, fmt.Errorf("%w: from %s, to %s", ErrInvalidRange,
			from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
	}
	f.From, f.To = from, to
	return f, nil
}
