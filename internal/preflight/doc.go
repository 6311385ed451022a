// Package preflight checks the environment a run depends on before any stage
// executes: directory permissions, the dataset index and image directory,
// capability binaries on PATH, and the artifact storage backend.
//
// These checks run in two contexts:
//   - `restorebench run` calls RunAll before taking the run lock unless
//     --skip-preflight is given, and refuses to start when any check fails.
//   - `restorebench doctor` prints every result.
package preflight
