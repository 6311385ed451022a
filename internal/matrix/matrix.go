// Package matrix expands the experiment configuration into the canonical,
// ordered list of (preset, method, tuning value) work items.
//
// Ordering is presets in declared order, then methods in declared order, then
// tuning values in declared order. An untunable method contributes a single
// item with a nil tuning value. Every manifest row order and cardinality
// check downstream derives from this order.
package matrix

import (
	"strconv"

	"restorebench/internal/config"
)

// WorkItem is one cell of the experiment grid.
type WorkItem struct {
	Preset string
	Method string
	Tuning *float64
}

// TuningLabel renders the tuning value for keys and directory names.
func (w WorkItem) TuningLabel() string {
	return FormatTuning(w.Tuning)
}

// FormatTuning renders a tuning value, or "default" when nil.
func FormatTuning(value *float64) string {
	if value == nil {
		return "default"
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}

// Expand returns the full ordered work list. It never fails for a config that
// passed validation.
func Expand(cfg *config.Config) []WorkItem {
	var items []WorkItem
	for _, preset := range cfg.Degradations {
		for _, method := range cfg.Methods {
			for _, tuning := range Grid(method) {
				items = append(items, WorkItem{Preset: preset.Name, Method: method.Name, Tuning: tuning})
			}
		}
	}
	return items
}

// Grid returns the method's tuning values, or a single nil entry for an
// untunable method.
func Grid(method config.Method) []*float64 {
	if !method.Tunable() {
		return []*float64{nil}
	}
	grid := make([]*float64, len(method.TuningGrid))
	for i := range method.TuningGrid {
		value := method.TuningGrid[i]
		grid[i] = &value
	}
	return grid
}

// ForMethod filters items to a single method, preserving order.
func ForMethod(items []WorkItem, method string) []WorkItem {
	var out []WorkItem
	for _, item := range items {
		if item.Method == method {
			out = append(out, item)
		}
	}
	return out
}

// Cardinality is the expected restoration row count for one method.
func Cardinality(samples, presets int, method config.Method) int {
	return samples * presets * len(Grid(method))
}
