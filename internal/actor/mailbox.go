package actor

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// DefaultMailboxSize is the inbox buffer used when a non-positive size is requested.
const DefaultMailboxSize = 64

// ErrStopped is returned when a message cannot be delivered because the
// receiving actor has stopped.
var ErrStopped = errors.New("actor stopped")

// Mailbox is the private inbound queue of a single actor. Messages are
// handled one at a time, in arrival order, on the goroutine running Run.
type Mailbox[M any] struct {
	inbox   chan M
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     *zap.Logger
}

// NewMailbox creates a mailbox with the given buffer size.
func NewMailbox[M any](size int, log *zap.Logger) *Mailbox[M] {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailbox[M]{
		inbox:   make(chan M, size),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log,
	}
}

// Tell enqueues msg, blocking while the inbox is full.
// It returns false once the mailbox is stopping.
func (m *Mailbox[M]) Tell(msg M) bool {
	select {
	case <-m.stop:
		return false
	default:
	}

	select {
	case m.inbox <- msg:
		return true
	case <-m.stop:
		return false
	case <-m.stopped:
		return false
	}
}

// TryTell enqueues msg only if there is room for it right now.
func (m *Mailbox[M]) TryTell(msg M) bool {
	select {
	case <-m.stop:
		return false
	default:
	}

	select {
	case m.inbox <- msg:
		return true
	default:
		return false
	}
}

// Run handles messages until Stop is called. A panic in handle is logged
// and the loop moves on to the next message.
func (m *Mailbox[M]) Run(handle func(M)) {
	defer close(m.stopped)

	for {
		select {
		case <-m.stop:
			return
		case msg := <-m.inbox:
			// stop wins over queued work
			select {
			case <-m.stop:
				return
			default:
			}
			if r := panics.Try(func() { handle(msg) }); r != nil {
				m.log.Error("actor message handler panicked", zap.Error(r.AsError()))
			}
		}
	}
}

// Stop asks the loop to exit and waits until it has. Queued messages are
// discarded. Stop must not be called from inside the handler.
func (m *Mailbox[M]) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.stopped
}

// Ask sends the message built by build and waits for the handler to answer
// on the reply channel.
func Ask[M any, R any](ctx context.Context, m *Mailbox[M], build func(reply chan<- R) M) (R, error) {
	var zero R

	reply := make(chan R, 1)
	if !m.Tell(build(reply)) {
		return zero, ErrStopped
	}

	select {
	case r := <-reply:
		return r, nil
	case <-m.stopped:
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, ErrStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
