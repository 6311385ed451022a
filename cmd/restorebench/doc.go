// Package main hosts the restorebench CLI entrypoint and command graph.
//
// The Cobra-based command tree resolves the experiment configuration once,
// then hands off to internal packages: pipelinerun for `run`, preflight for
// `doctor`, the ledger for `status`, and provenance for `verify`. Exit codes
// follow services.ExitCode so scripts can tell configuration errors,
// validation failures, stage aborts, and lock contention apart.
package main
