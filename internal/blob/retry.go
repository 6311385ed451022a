package blob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"restorebench/internal/logging"
	"restorebench/internal/services"
)

// RetryPolicy bounds retries of transient storage errors.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

type retrying struct {
	Backend
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps backend so transient failures are retried with exponential
// backoff. Exhausted retries surface as services.ErrStorage; a missing
// object is returned immediately.
func WithRetry(backend Backend, policy RetryPolicy, logger *slog.Logger) Backend {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Initial <= 0 {
		policy.Initial = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &retrying{Backend: backend, policy: policy, logger: logger}
}

func (r *retrying) Stat(ctx context.Context, key string) (Info, error) {
	var info Info
	err := r.do(ctx, "stat", key, func() error {
		var err error
		info, err = r.Backend.Stat(ctx, key)
		return err
	})
	return info, err
}

func (r *retrying) Put(ctx context.Context, key, src string) error {
	return r.do(ctx, "put", key, func() error {
		return r.Backend.Put(ctx, key, src)
	})
}

func (r *retrying) do(ctx context.Context, op, key string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.policy.Initial
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.policy.Attempts-1)), ctx)

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, context.Canceled) || !errors.Is(err, services.ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(r.logger, "storage operation failed; retrying", "storage_retry",
			logging.String("operation", op),
			logging.String("key", key),
			logging.Duration("wait", wait),
			logging.Error(err),
			logging.String(logging.FieldImpact, "artifact mirror delayed"),
			logging.String(logging.FieldErrorHint, "check storage endpoint availability"),
		)
	}
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil || errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrStorage) {
		return err
	}
	return services.Wrap(services.ErrStorage, "storage", op, "Storage operation failed after retries", err)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
