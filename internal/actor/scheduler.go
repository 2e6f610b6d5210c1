package actor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// ErrInvalidInterval is returned for non-positive schedule periods.
var ErrInvalidInterval = errors.New("interval must be positive")

// Cancelable is a running periodic schedule.
type Cancelable struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

// ScheduleRepeatedly calls fn after initialDelay and then every interval
// until the returned Cancelable is cancelled. A panic in fn is logged and
// does not stop later ticks.
func ScheduleRepeatedly(initialDelay, interval time.Duration, fn func(), log *zap.Logger) (*Cancelable, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	if initialDelay < 0 {
		return nil, fmt.Errorf("%w: initial delay %v", ErrInvalidInterval, initialDelay)
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Cancelable{
		stop: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}
	go c.run(initialDelay, interval, fn)
	return c, nil
}

func (c *Cancelable) run(initialDelay, interval time.Duration, fn func()) {
	defer close(c.done)

	delay := time.NewTimer(initialDelay)
	defer delay.Stop()

	select {
	case <-c.stop:
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.fire(fn)

		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
	}
}

func (c *Cancelable) fire(fn func()) {
	select {
	case <-c.stop:
		return
	default:
	}

	if r := panics.Try(fn); r != nil {
		c.log.Error("scheduled tick panicked", zap.Error(r.AsError()))
	}
}

// Cancel stops the schedule. When it returns no tick is running and none
// will start. Calling Cancel more than once is a no-op.
func (c *Cancelable) Cancel() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}
