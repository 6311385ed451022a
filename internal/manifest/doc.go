// Package manifest declares per-stage row schemas and publishes stage
// manifests as JSON-lines files.
//
// A manifest file starts with a header line carrying the schema version,
// stage, row count, failure count and content hash, followed by one canonical
// JSON row per line. The content hash is SHA-256 over the row lines in order,
// so identical rows in identical order always hash identically. Files are
// published with a temp-file-and-rename so readers never observe a partial
// manifest.
package manifest
