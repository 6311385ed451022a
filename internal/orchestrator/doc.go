// Package orchestrator drives one pipeline invocation over a results tree.
//
// A run holds an exclusive lock on the results directory, executes the
// selected stages in their fixed order, gates every published manifest
// through the consistency validator, and finishes with the provenance
// aggregate. The run moves from Pending to Running and ends Aborted on the
// first configuration, integrity, storage, or stage failure, or Complete once
// every selected stage succeeded. An aborted run leaves every manifest it
// already published on disk.
package orchestrator
