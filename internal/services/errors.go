package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrManifestIntegrity = errors.New("manifest integrity error")
	ErrStageExecution    = errors.New("stage execution error")
	ErrStorage           = errors.New("storage error")
	ErrExternalTool      = errors.New("external tool error")
	ErrItemFailure       = errors.New("item failure")
	ErrRunLocked         = errors.New("run already in progress")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("timeout")
	ErrTransient         = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// StageError reports a stage whose per-item failure rate exceeded the
// configured threshold.
type StageError struct {
	Stage     string
	Failed    int
	Total     int
	Threshold float64
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s aborted: %d of %d items failed (rate %.3f exceeds threshold %.3f)",
		e.Stage, e.Failed, e.Total, e.Rate(), e.Threshold)
}

// Rate returns the observed failure fraction.
func (e *StageError) Rate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Failed) / float64(e.Total)
}

func (e *StageError) Unwrap() error { return ErrStageExecution }

// Exit codes surfaced by the CLI.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitIntegrity = 3
	ExitStage     = 4
	ExitLocked    = 5
	ExitCanceled  = 130
)

// ExitCode classifies err into the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrRunLocked):
		return ExitLocked
	case errors.Is(err, context.Canceled):
		return ExitCanceled
	case errors.Is(err, ErrConfiguration):
		return ExitConfig
	case errors.Is(err, ErrManifestIntegrity):
		return ExitIntegrity
	case errors.Is(err, ErrStageExecution):
		return ExitStage
	default:
		return ExitFailure
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
