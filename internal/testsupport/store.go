package testsupport

import (
	"testing"

	"celigo/internal/config"
	"celigo/internal/runs"
)

// MustOpenStore opens the run history database for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()

	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("runs.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
