package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"restorebench/internal/config"
)

// WriteConfigFile serializes cfg to config.json beside its data directory and
// returns the path, for tests that exercise config loading end to end.
func WriteConfigFile(t testing.TB, cfg *config.Config) string {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
