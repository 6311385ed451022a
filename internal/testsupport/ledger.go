package testsupport

import (
	"testing"

	"restorebench/internal/config"
	"restorebench/internal/ledger"
)

// MustOpenLedger opens the run ledger configured by cfg and closes it when
// the test ends.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
