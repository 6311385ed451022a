package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Older ledgers must be
// deleted; they hold history only.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists run history in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or connects to the ledger at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// BeginRun records a new running run.
func (s *Store) BeginRun(ctx context.Context, runID, project, configHash string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	return s.exec(ctx,
		`INSERT INTO runs (run_id, project_name, config_hash, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, project, configHash, RunRunning, s.timestamp(),
	)
}

// RecordStage appends a stage execution to a run.
func (s *Store) RecordStage(ctx context.Context, rec StageRun) error {
	return s.exec(ctx,
		`INSERT INTO stage_runs (
            run_id, stage, status, row_count, failure_count, manifest_hash,
            duration_ms, error_message, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Stage, rec.Status, rec.RowCount, rec.FailureCount,
		nullableString(rec.ManifestHash), rec.Duration.Milliseconds(),
		nullableString(rec.ErrorMessage), s.timestamp(),
	)
}

// FinishRun closes a run with its terminal state.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, runHash, errMessage string) error {
	res, err := s.execResult(ctx,
		`UPDATE runs SET status = ?, run_hash = ?, error_message = ?, finished_at = ? WHERE run_id = ?`,
		status, nullableString(runHash), nullableString(errMessage), s.timestamp(), runID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun fetches one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// StagesForRun returns the stage rows of a run in execution order.
func (s *Store) StagesForRun(ctx context.Context, runID string) ([]StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, status, row_count, failure_count, manifest_hash, duration_ms, error_message, recorded_at
         FROM stage_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()
	var out []StageRun
	for rows.Next() {
		var (
			rec          StageRun
			status       string
			manifestHash sql.NullString
			durationMS   int64
			errMessage   sql.NullString
			recordedRaw  string
		)
		if err := rows.Scan(&rec.RunID, &rec.Stage, &status, &rec.RowCount, &rec.FailureCount,
			&manifestHash, &durationMS, &errMessage, &recordedRaw); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		rec.Status = StageStatus(status)
		rec.ManifestHash = manifestHash.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.ErrorMessage = errMessage.String
		if t, err := time.Parse(time.RFC3339Nano, recordedRaw); err == nil {
			rec.RecordedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs. It returns the number removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.execResult(ctx,
		`DELETE FROM runs WHERE run_id NOT IN (
            SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
        )`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const runColumns = "run_id, project_name, config_hash, status, run_hash, error_message, started_at, finished_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		status      string
		runHash     sql.NullString
		errMessage  sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.ProjectName, &run.ConfigHash, &status, &runHash, &errMessage, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.RunHash = runHash.String
	run.ErrorMessage = errMessage.String
	if t, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		run.StartedAt = t
	}
	if finishedRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedRaw.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.execResult(ctx, query, args...)
	return err
}

func (s *Store) execResult(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("ledger exec: %w", err)
	}
	return res, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
