// Package blob stores published artifacts on the local filesystem or in an
// S3-compatible bucket.
//
// Keys are slash-separated paths relative to the results directory. The local
// driver reads artifacts in place; the S3 driver mirrors them under a prefix
// so the bucket alone can be audited.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"restorebench/internal/config"
	"restorebench/internal/services"
)

// Driver names.
const (
	DriverFS = "fs"
	DriverS3 = "s3"
)

// Info describes a stored object.
type Info struct {
	Key  string
	Size int64
}

// Backend is the minimal artifact store.
type Backend interface {
	Driver() string
	// Stat returns services.ErrNotFound when key is absent.
	Stat(ctx context.Context, key string) (Info, error)
	// Put uploads the local file at src under key.
	Put(ctx context.Context, key, src string) error
}

// Open builds the configured backend wrapped with transient-error retries.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	var backend Backend
	switch cfg.Storage.Driver {
	case "", DriverFS:
		backend = NewFS(cfg.Paths.ResultsDir)
	case DriverS3:
		s3, err := NewS3(ctx, S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			Prefix:          cfg.Storage.Prefix,
			PathStyle:       cfg.Storage.PathStyle,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "storage", "open s3", "S3 backend could not be configured", err)
		}
		backend = s3
	default:
		return nil, services.Wrap(services.ErrConfiguration, "storage", "open", fmt.Sprintf("Unknown storage driver %q", cfg.Storage.Driver), nil)
	}
	return WithRetry(backend, RetryPolicy{
		Attempts: cfg.Execution.StorageRetryAttempts,
		Initial:  millis(cfg.Execution.StorageRetryInitialMS),
	}, nil), nil
}

// Mirror maps local artifact paths inside the results directory onto backend
// keys.
type Mirror struct {
	backend Backend
	root    string
}

// NewMirror returns a mirror for artifacts under root.
func NewMirror(backend Backend, root string) *Mirror {
	return &Mirror{backend: backend, root: root}
}

// Backend returns the underlying store.
func (m *Mirror) Backend() Backend { return m.backend }

// Remote reports whether artifacts are copied to a separate store.
func (m *Mirror) Remote() bool { return m.backend.Driver() != DriverFS }

// Key converts a local path to a backend key. Paths outside the results
// directory are rejected.
func (m *Mirror) Key(local string) (string, error) {
	rel, err := filepath.Rel(m.root, local)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", local, m.root)
	}
	return path.Clean(rel), nil
}

// Upload copies a local artifact to the backend. It is a no-op for the local
// driver.
func (m *Mirror) Upload(ctx context.Context, local string) error {
	if !m.Remote() {
		return nil
	}
	key, err := m.Key(local)
	if err != nil {
		return services.Wrap(services.ErrStorage, "storage", "upload", "Artifact is outside the results directory", err)
	}
	return m.backend.Put(ctx, key, local)
}

// NonEmpty reports whether the artifact exists in the backend with at least
// one byte. Paths outside the results directory are checked locally.
func (m *Mirror) NonEmpty(ctx context.Context, local string) (bool, error) {
	key, err := m.Key(local)
	if err != nil || !m.Remote() {
		info, statErr := localStat(local)
		if errors.Is(statErr, services.ErrNotFound) {
			return false, nil
		}
		if statErr != nil {
			return false, statErr
		}
		return info.Size > 0, nil
	}
	info, err := m.backend.Stat(ctx, key)
	if errors.Is(err, services.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size > 0, nil
}
