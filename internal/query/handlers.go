package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hostscout/internal/server"
	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/pkg/models"
	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// SamplesResponse is the body of GET /samples.
type SamplesResponse struct {
	Samples   []models.MetricSample `json:"samples"`
	Truncated bool                  `json:"truncated"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []pkgplugin.Route {
	return []pkgplugin.Route{
		{Method: "GET", Path: "/kinds", Handler: m.handleKinds},
		{Method: "GET", Path: "/samples", Handler: m.handleSamples},
		{Method: "GET", Path: "/latest/{kind}", Handler: m.handleLatest},
		{Method: "GET", Path: "/stats", Handler: m.handleStats},
	}
}

func (m *Module) handleKinds(w http.ResponseWriter, r *http.Request) {
	kinds, err := m.svc.ListMetricKinds(r.Context())
	if err != nil {
		m.logger.Warn("failed to list kinds", zap.Error(err))
		server.InternalError(w, "failed to list metric kinds", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, kinds)
}

// handleSamples serves ?kind=&from=&to=&limit= with RFC 3339 times.
func (m *Module) handleSamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := models.MetricKind(q.Get("kind"))
	if kind != "" {
		if _, err := models.ParseMetricKind(string(kind)); err != nil {
			server.BadRequest(w, err.Error(), r.URL.Path)
			return
		}
	}
	from, err := parseTime(q.Get("from"))
	if err != nil {
		server.BadRequest(w, "from: "+err.Error(), r.URL.Path)
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		server.BadRequest(w, "to: "+err.Error(), r.URL.Path)
		return
	}
	limit := m.defaultLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			server.BadRequest(w, "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = min(n, m.maxLimit)
	}

	resp := SamplesResponse{Samples: []models.MetricSample{}}
	for smp, err := range m.svc.Query(r.Context(), kind, from, to) {
		if err != nil {
			if errors.Is(err, ErrInvalidRange) {
				server.BadRequest(w, err.Error(), r.URL.Path)
				return
			}
			m.logger.Warn("sample query failed", zap.Error(err))
			server.InternalError(w, "failed to read samples", r.URL.Path)
			return
		}
		if len(resp.Samples) == limit {
			resp.Truncated = true
			break
		}
		resp.Samples = append(resp.Samples, smp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *Module) handleLatest(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseMetricKind(r.PathValue("kind"))
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	smp, err := m.svc.LatestSample(r.Context(), kind)
	switch {
	case errors.Is(err, store.ErrNotFound):
		server.NotFound(w, "no samples stored for "+string(kind), r.URL.Path)
		return
	case err != nil:
		m.logger.Warn("latest sample lookup failed", zap.String("kind", string(kind)), zap.Error(err))
		server.InternalError(w, "failed to read latest sample", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, smp)
}

func (m *Module) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := m.svc.Stats(r.Context())
	if err != nil {
		m.logger.Warn("store stats failed", zap.Error(err))
		server.InternalError(w, "failed to read store stats", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
