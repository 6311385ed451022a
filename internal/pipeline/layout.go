package pipeline

import "path/filepath"

// Layout names every path inside a results directory.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at the results directory.
func NewLayout(root string) Layout { return Layout{Root: root} }

func (l Layout) ManifestDir() string     { return filepath.Join(l.Root, "manifests") }
func (l Layout) OutputsDir() string      { return filepath.Join(l.Root, "outputs") }
func (l Layout) TablesDir() string       { return filepath.Join(l.Root, "tables") }
func (l Layout) RunManifestPath() string { return filepath.Join(l.Root, "run_manifest.json") }
func (l Layout) DegradeCSVPath() string  { return filepath.Join(l.ManifestDir(), "degrade.csv") }

// OutputDir is where a stage publishes its per-item artifacts.
func (l Layout) OutputDir(stage StageID) string {
	return filepath.Join(l.OutputsDir(), string(stage))
}

// Table returns a path under the tables directory.
func (l Layout) Table(name string) string {
	return filepath.Join(l.TablesDir(), name)
}

// Generated lists the directories and files a run produces, excluding logs.
func (l Layout) Generated() []string {
	return []string{l.ManifestDir(), l.OutputsDir(), l.TablesDir(), l.RunManifestPath()}
}
