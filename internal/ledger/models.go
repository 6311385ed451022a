package ledger

import "time"

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunAborted  RunStatus = "aborted"
)

// StageStatus records how a stage ended within a run.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Run is one pipeline invocation.
type Run struct {
	ID           string
	ProjectName  string
	ConfigHash   string
	Status       RunStatus
	RunHash      string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// StageRun is one stage execution within a run.
type StageRun struct {
	RunID        string
	Stage        string
	Status       StageStatus
	RowCount     int
	FailureCount int
	ManifestHash string
	Duration     time.Duration
	ErrorMessage string
	RecordedAt   time.Time
}
