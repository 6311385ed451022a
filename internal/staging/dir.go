// Package staging builds a stage's output directory beside its published
// location and swaps it into place in one step.
package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	stagingMarker = ".staging-"
	trashMarker   = ".trash-"
)

// Dir is a scratch directory that becomes final on Commit.
type Dir struct {
	path  string
	final string
}

// New creates a fresh staging directory next to final.
func New(final string) (*Dir, error) {
	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create staging parent: %w", err)
	}
	path := filepath.Join(parent, "."+filepath.Base(final)+stagingMarker+uuid.NewString())
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Dir{path: path, final: final}, nil
}

// Path returns the scratch location of rel.
func (d *Dir) Path(rel string) string { return filepath.Join(d.path, rel) }

// Final returns the published location of rel.
func (d *Dir) Final(rel string) string { return filepath.Join(d.final, rel) }

// Commit replaces the published directory with the staged one. The previous
// directory is moved aside first and removed after the swap.
func (d *Dir) Commit() error {
	trash := ""
	if _, err := os.Stat(d.final); err == nil {
		trash = filepath.Join(filepath.Dir(d.final), "."+filepath.Base(d.final)+trashMarker+uuid.NewString())
		if err := os.Rename(d.final, trash); err != nil {
			return fmt.Errorf("move previous output aside: %w", err)
		}
	}
	if err := os.Rename(d.path, d.final); err != nil {
		if trash != "" {
			_ = os.Rename(trash, d.final)
		}
		return fmt.Errorf("publish staged output: %w", err)
	}
	if trash != "" {
		if err := os.RemoveAll(trash); err != nil {
			return fmt.Errorf("remove previous output: %w", err)
		}
	}
	return nil
}

// Discard removes the staging directory.
func (d *Dir) Discard() error {
	return os.RemoveAll(d.path)
}
