package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, NewProblem(http.StatusNotFound, "no samples stored for MEM_USED", "/api/v1/query/latest/MEM_USED"))

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want application/problem+json", ct)
	}

	var got Problem
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   "no samples stored for MEM_USED",
		Instance: "/api/v1/query/latest/MEM_USED",
	}
	if got != want {
		t.Errorf("problem = %+v, want %+v", got, want)
	}
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name      string
		write     func(http.ResponseWriter, string, string)
		wantCode  int
		wantType  string
		wantTitle string
	}{
		{"not found", NotFound, http.StatusNotFound, ProblemTypeNotFound, "Not Found"},
		{"bad request", BadRequest, http.StatusBadRequest, ProblemTypeBadRequest, "Bad Request"},
		{"internal", InternalError, http.StatusInternalServerError, ProblemTypeInternal, "Internal Server Error"},
		{"rate limited", RateLimited, http.StatusTooManyRequests, ProblemTypeRateLimited, "Too Many Requests"},
		{"unavailable", Unavailable, http.StatusServiceUnavailable, ProblemTypeUnavailable, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "detail", "/x")

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var p Problem
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if p.Type != tt.wantType {
				t.Errorf("type = %q, want %q", p.Type, tt.wantType)
			}
			if p.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", p.Title, tt.wantTitle)
			}
			if p.Status != tt.wantCode {
				t.Errorf("body status = %d, want %d", p.Status, tt.wantCode)
			}
		})
	}
}

func TestNewProblemUnknownStatus(t *testing.T) {
	p := NewProblem(http.StatusTeapot, "", "")
	if p.Type != "about:blank" {
		t.Errorf("type = %q, want about:blank", p.Type)
	}
	if p.Title != "I'm a teapot" {
		t.Errorf("title = %q", p.Title)
	}
}

func TestWriteProblemOmitsEmptyFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, NewProblem(http.StatusInternalServerError, "", ""))

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, key := range []string{"detail", "instance"} {
		if _, ok := raw[key]; ok {
			t.Errorf("%s should be omitted when empty", key)
		}
	}
}
