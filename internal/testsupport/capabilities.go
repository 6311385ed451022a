package testsupport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"restorebench/internal/capability"
	"restorebench/internal/services"
	"restorebench/internal/services/builtin"
)

// Capabilities returns the builtin capability set matching NewConfig.
func Capabilities() *capability.Set {
	return &capability.Set{
		Degrade: builtin.Copy{},
		Restore: []services.Restorer{builtin.Copy{}, builtin.Copy{}},
		Score:   builtin.ByteMatch{},
	}
}

// ErrInjected is returned by fakes for items they are told to fail.
var ErrInjected = errors.New("injected failure")

// FlakyRestorer fails restoration of the listed sample ids and delegates the
// rest. It records the peak number of concurrent calls.
type FlakyRestorer struct {
	Inner   services.Restorer
	FailIDs map[string]bool

	mu       sync.Mutex
	inFlight int
	peak     int
	calls    atomic.Int64
}

func (f *FlakyRestorer) Restore(ctx context.Context, req services.RestoreRequest) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.FailIDs[req.SampleID] {
		return ErrInjected
	}
	inner := f.Inner
	if inner == nil {
		inner = builtin.Copy{}
	}
	return inner.Restore(ctx, req)
}

// Peak returns the highest observed concurrency.
func (f *FlakyRestorer) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// Calls returns the number of Restore invocations.
func (f *FlakyRestorer) Calls() int { return int(f.calls.Load()) }

// BlockingRestorer blocks every call until its context is cancelled and
// signals Started once the first call arrives.
type BlockingRestorer struct {
	Started chan struct{}
	once    sync.Once
}

// NewBlockingRestorer returns a restorer that never completes on its own.
func NewBlockingRestorer() *BlockingRestorer {
	return &BlockingRestorer{Started: make(chan struct{})}
}

func (b *BlockingRestorer) Restore(ctx context.Context, _ services.RestoreRequest) error {
	b.once.Do(func() { close(b.Started) })
	<-ctx.Done()
	return ctx.Err()
}
