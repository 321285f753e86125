package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/HerbHall/hostscout/internal/store"
)

// NewStore opens a SQLiteStore in a fresh temporary directory.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T, opts ...func(*store.Config)) *store.SQLiteStore {
	t.Helper()
	cfg := store.Config{Path: filepath.Join(t.TempDir(), "telemetry.db")}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
