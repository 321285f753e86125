package server

import (
	"encoding/json"
	"net/http"
)

// ProblemBase prefixes every problem type URI.
const ProblemBase = "https://hostscout.dev/problems/"

// Problem types reported by the API.
const (
	ProblemTypeNotFound    = ProblemBase + "not-found"
	ProblemTypeBadRequest  = ProblemBase + "bad-request"
	ProblemTypeInternal    = ProblemBase + "internal-error"
	ProblemTypeRateLimited = ProblemBase + "rate-limited"
	ProblemTypeUnavailable = ProblemBase + "unavailable"
)

var problemTypes = map[int]string{
	http.StatusNotFound:            ProblemTypeNotFound,
	http.StatusBadRequest:          ProblemTypeBadRequest,
	http.StatusInternalServerError: ProblemTypeInternal,
	http.StatusTooManyRequests:     ProblemTypeRateLimited,
	http.StatusServiceUnavailable:  ProblemTypeUnavailable,
}

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// NewProblem builds the problem for an HTTP status. Statuses without a
// dedicated type use "about:blank" as RFC 7807 suggests.
func NewProblem(status int, detail, instance string) Problem {
	typ, ok := problemTypes[status]
	if !ok {
		typ = "about:blank"
	}
	return Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// WriteProblem encodes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusNotFound, detail, instance))
}

func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusBadRequest, detail, instance))
}

// InternalError reports a 500. detail goes to the client, so callers pass
// a fixed message rather than err.Error().
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusInternalServerError, detail, instance))
}

func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusTooManyRequests, detail, instance))
}

func Unavailable(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(http.StatusServiceUnavailable, detail, instance))
}
