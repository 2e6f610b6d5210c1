package counter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrInvalidArgument reports a value rejected at an entry point.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSourceUnavailable wraps failures to read the underlying counter.
	ErrSourceUnavailable = errors.New("counter source unavailable")
	// ErrClosed is returned by Next once the counter has been closed.
	ErrClosed = errors.New("counter closed")

	errEmpty = errors.New("empty result")
)

// Counter reads one host performance value at a time.
// It is owned by a single source and is not safe for concurrent Next calls.
type Counter interface {
	// Next reads a fresh value, usually a percentage.
	Next(ctx context.Context) (float64, error)
	// Close releases the counter. Closing twice is a no-op.
	Close() error
}

// Factory creates the Counter for one counter type.
type Factory func() (Counter, error)

// Factories maps counter types to their factories.
type Factories map[CounterType]Factory

// New builds a counter of type t.
func (f Factories) New(t CounterType) (Counter, error) {
	factory, err := f.Factory(t)
	if err != nil {
		return nil, err
	}
	c, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", t, err)
	}
	if c == nil {
		return nil, fmt.Errorf("create %s counter: factory returned nil", t)
	}
	return c, nil
}

// Factory returns the factory registered for t.
func (f Factories) Factory(t CounterType) (Factory, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}
	factory, ok := f[t]
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: no factory for %s counter", ErrInvalidArgument, t)
	}
	return factory, nil
}

// lifecycle tracks whether a counter has been closed.
type lifecycle struct {
	closed atomic.Bool
}

// markClosed reports true only for the first call.
func (l *lifecycle) markClosed() bool {
	return l.closed.CompareAndSwap(false, true)
}

func (l *lifecycle) checkOpen() error {
	if l.closed.Load() {
		return ErrClosed
	}
	return nil
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, what, err)
}
