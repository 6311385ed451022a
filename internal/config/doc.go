// Package config loads, normalizes, and validates the restorebench experiment
// configuration.
//
// It supplies repository defaults, resolves relative paths against the config
// file location, reads TOML, YAML, or JSON files (chosen by extension), and
// rejects unknown keys. The Config type centralizes every knob the pipeline
// needs: dataset location, degradation presets, the two compared methods and
// their tuning grids, metrics, concurrency, storage, and logging.
//
// Config.Hash produces the digest recorded in the run manifest. Load wraps
// every failure with services.ErrConfiguration so callers can classify it.
package config
