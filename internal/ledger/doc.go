// Package ledger keeps a SQLite history of pipeline runs.
//
// Every invocation of the orchestrator opens a run row, appends one stage row
// per executed stage (completed, failed, or skipped), and closes the run with
// its final state and run hash. The ledger is operational history only; the
// results tree and its manifests remain the source of truth, and nothing in
// the pipeline reads the ledger to decide what to execute.
package ledger
