// Package services defines shared utilities consumed by the stage bodies and
// the external restoration capabilities they drive.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and item keys for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into configuration, integrity, storage, and execution buckets so the CLI
//     can pick an exit code.
//   - The Degrader, Restorer, and Scorer capability contracts implemented by
//     the command and builtin subpackages.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
