package pipeline

import (
	"fmt"
	"strings"
)

// SelectionMode describes how a run picks stages out of the fixed order.
type SelectionMode string

const (
	SelectAll    SelectionMode = "all"
	SelectSingle SelectionMode = "single"
	SelectUpTo   SelectionMode = "up_to"
)

// Selection is the parsed form of `run --stage` / `run --up-to`.
type Selection struct {
	Mode  SelectionMode
	Stage StageID
}

// NewSelection builds a selection from the CLI flag values. Both empty means
// the full pipeline.
func NewSelection(stage, upTo string) (Selection, error) {
	stage = strings.TrimSpace(stage)
	upTo = strings.TrimSpace(upTo)
	if stage != "" && upTo != "" && !strings.EqualFold(stage, "all") {
		return Selection{}, fmt.Errorf("--stage and --up-to are mutually exclusive")
	}
	if upTo != "" {
		id, err := Parse(upTo)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Mode: SelectUpTo, Stage: id}, nil
	}
	if stage == "" || strings.EqualFold(stage, "all") {
		return Selection{Mode: SelectAll}, nil
	}
	id, err := Parse(stage)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Mode: SelectSingle, Stage: id}, nil
}

// Stages expands the selection into the ordered stages to execute.
func (s Selection) Stages() []StageID {
	switch s.Mode {
	case SelectSingle:
		return []StageID{s.Stage}
	case SelectUpTo:
		idx := s.Stage.Index()
		if idx < 0 {
			return nil
		}
		return Order()[:idx+1]
	default:
		return Order()
	}
}

func (s Selection) String() string {
	switch s.Mode {
	case SelectSingle:
		return "stage=" + string(s.Stage)
	case SelectUpTo:
		return "up-to=" + string(s.Stage)
	default:
		return "all"
	}
}
