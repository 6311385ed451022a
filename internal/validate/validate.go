// Package validate checks a published stage manifest against the keys its
// stage was expected to produce.
//
// Checks run in order: row count, duplicate keys, orphans in either
// direction, then artifact presence for ok rows. Every violation is reported
// as an itemized Diff so a failure can be diagnosed from the report alone.
package validate

import (
	"context"
	"fmt"
	"strings"

	"restorebench/internal/manifest"
	"restorebench/internal/pipeline"
	"restorebench/internal/services"
)

// DiffKind classifies one itemized violation.
type DiffKind string

const (
	DiffMissing   DiffKind = "missing"
	DiffExtra     DiffKind = "extra"
	DiffDuplicate DiffKind = "duplicate"
)

// Diff is one itemized violation.
type Diff struct {
	Kind   DiffKind
	Key    string
	Detail string
}

func (d Diff) String() string {
	if d.Detail == "" {
		return fmt.Sprintf("%s %s", d.Kind, d.Key)
	}
	return fmt.Sprintf("%s %s (%s)", d.Kind, d.Key, d.Detail)
}

// Result is the outcome of one validation.
type Result struct {
	Stage         pipeline.StageID
	ExpectedRows  int
	ActualRows    int
	CountMismatch bool
	Diffs         []Diff
}

// OK reports whether the manifest passed every check.
func (r Result) OK() bool { return !r.CountMismatch && len(r.Diffs) == 0 }

// Count returns the number of diffs of kind.
func (r Result) Count(kind DiffKind) int {
	n := 0
	for _, d := range r.Diffs {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Error reports a failed validation. It unwraps to
// services.ErrManifestIntegrity.
type Error struct {
	Result Result
}

const maxListedDiffs = 10

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "manifest %s failed validation: expected %d rows, found %d",
		e.Result.Stage, e.Result.ExpectedRows, e.Result.ActualRows)
	if len(e.Result.Diffs) > 0 {
		fmt.Fprintf(&b, "; %d missing, %d extra, %d duplicate",
			e.Result.Count(DiffMissing), e.Result.Count(DiffExtra), e.Result.Count(DiffDuplicate))
		for i, d := range e.Result.Diffs {
			if i == maxListedDiffs {
				fmt.Fprintf(&b, "; and %d more", len(e.Result.Diffs)-maxListedDiffs)
				break
			}
			b.WriteString("; ")
			b.WriteString(d.String())
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error { return services.ErrManifestIntegrity }

// ArtifactChecker reports whether a referenced artifact exists and is
// non-empty on the storage backend.
type ArtifactChecker interface {
	NonEmpty(ctx context.Context, path string) (bool, error)
}

// Validate checks m against the ordered expected keys. A non-nil error is
// returned only when the artifact checker itself fails; violations are
// reported through the Result.
func Validate(ctx context.Context, m *manifest.Manifest, expected []string, checker ArtifactChecker) (Result, error) {
	schema, err := manifest.SchemaFor(m.Stage)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Stage:        m.Stage,
		ExpectedRows: len(expected),
		ActualRows:   len(m.Rows),
	}

	// 1. Count.
	result.CountMismatch = result.ExpectedRows != result.ActualRows

	// 2. Duplicates.
	present := make(map[string]int, len(m.Rows))
	for _, row := range m.Rows {
		key := schema.KeyOf(row)
		present[key]++
		if present[key] == 2 {
			result.Diffs = append(result.Diffs, Diff{Kind: DiffDuplicate, Key: key})
		}
	}

	// 3. Orphans, both directions.
	want := make(map[string]bool, len(expected))
	for _, key := range expected {
		want[key] = true
		if present[key] == 0 {
			result.Diffs = append(result.Diffs, Diff{Kind: DiffMissing, Key: key})
		}
	}
	seenExtra := map[string]bool{}
	for _, row := range m.Rows {
		key := schema.KeyOf(row)
		if !want[key] && !seenExtra[key] {
			seenExtra[key] = true
			result.Diffs = append(result.Diffs, Diff{Kind: DiffExtra, Key: key})
		}
	}

	// 4. Artifacts of ok rows.
	if checker != nil {
		for _, row := range m.Rows {
			if row.Failed() {
				continue
			}
			for _, field := range schema.Fields {
				if !field.Artifact {
					continue
				}
				if err := ctx.Err(); err != nil {
					return result, err
				}
				path := row.String(field.Name)
				ok, err := checker.NonEmpty(ctx, path)
				if err != nil {
					return result, err
				}
				if !ok {
					result.Diffs = append(result.Diffs, Diff{
						Kind:   DiffMissing,
						Key:    schema.KeyOf(row),
						Detail: fmt.Sprintf("%s %s is absent or empty", field.Name, path),
					})
				}
			}
		}
	}
	return result, nil
}

// Check runs Validate and converts a failed result into an *Error.
func Check(ctx context.Context, m *manifest.Manifest, expected []string, checker ArtifactChecker) (Result, error) {
	result, err := Validate(ctx, m, expected, checker)
	if err != nil {
		return result, err
	}
	if !result.OK() {
		return result, &Error{Result: result}
	}
	return result, nil
}
