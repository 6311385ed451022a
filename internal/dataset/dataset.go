// Package dataset enumerates ground-truth samples from a partition index.
//
// The index is a text file of "<id> <split>" rows separated by whitespace or
// commas. Split values may be numeric (0 train, 1 val, 2 test) or named. A
// leading header row is skipped. Sample ids are image file names relative to
// the image directory. The index is never modified.
package dataset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"restorebench/internal/config"
)

// Split is the dataset partition a sample belongs to.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// ParseSplit accepts numeric or named split labels.
func ParseSplit(value string) (Split, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "train":
		return SplitTrain, nil
	case "1", "val", "valid", "validation":
		return SplitVal, nil
	case "2", "test":
		return SplitTest, nil
	default:
		return "", fmt.Errorf("unknown split %q", value)
	}
}

// Sample is one ground-truth image.
type Sample struct {
	ID     string
	GTPath string
	Split  Split
}

// Source enumerates samples with stable ids.
type Source interface {
	Samples(ctx context.Context) ([]Sample, error)
}

// PartitionIndex reads samples from a partition file.
type PartitionIndex struct {
	Path     string
	ImageDir string
	Splits   []string
	Limit    int
	Seed     int64
}

// Samples returns the selected samples ordered by id. When Limit is positive
// and smaller than the candidate set, a seeded random subset is kept so the
// same seed always selects the same ids.
func (p PartitionIndex) Samples(ctx context.Context) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("open partition index: %w", err)
	}
	defer file.Close()

	allowed := make(map[Split]struct{}, len(p.Splits))
	for _, name := range p.Splits {
		split, err := ParseSplit(name)
		if err != nil {
			return nil, err
		}
		allowed[split] = struct{}{}
	}

	var samples []Sample
	seen := make(map[string]int)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.FieldsFunc(scanner.Text(), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		})
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("partition index line %d: expected \"<id> <split>\"", lineNo)
		}
		split, err := ParseSplit(fields[1])
		if err != nil {
			if len(samples) == 0 && len(seen) == 0 {
				continue // header
			}
			return nil, fmt.Errorf("partition index line %d: %w", lineNo, err)
		}
		id := fields[0]
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("partition index line %d: id %q already listed on line %d", lineNo, id, prev)
		}
		seen[id] = lineNo
		if _, ok := allowed[split]; !ok {
			continue
		}
		samples = append(samples, Sample{ID: id, GTPath: filepath.Join(p.ImageDir, id), Split: split})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read partition index: %w", err)
	}
	if len(samples) == 0 {
		return nil, errors.New("partition index selected no samples")
	}

	slices.SortFunc(samples, func(a, b Sample) int { return strings.Compare(a.ID, b.ID) })
	if p.Limit > 0 && p.Limit < len(samples) {
		samples = Subsample(samples, p.Limit, p.Seed)
	}
	return samples, nil
}

// Subsample picks n items with a seeded permutation and returns them in their
// original relative order.
func Subsample[T any](items []T, n int, seed int64) []T {
	if n <= 0 || n >= len(items) {
		return append([]T(nil), items...)
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	picked := rng.Perm(len(items))[:n]
	slices.Sort(picked)
	out := make([]T, n)
	for i, idx := range picked {
		out[i] = items[idx]
	}
	return out
}

// IndexFromConfig returns the partition index the configuration describes.
func IndexFromConfig(cfg *config.Config) PartitionIndex {
	return PartitionIndex{
		Path:     cfg.Dataset.PartitionFile,
		ImageDir: cfg.Dataset.ImageDir,
		Splits:   cfg.Dataset.Splits,
		Limit:    cfg.Dataset.SampleLimit,
		Seed:     cfg.SeedValue(),
	}
}
