package ui

// Latest is a one slot mailbox where a newer value replaces an unread one.
// Put never blocks, so producers running on actor goroutines are never held
// up by a slow terminal.
type Latest[T any] struct {
	ch chan T
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{ch: make(chan T, 1)}
}

func (l *Latest[T]) Put(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

func (l *Latest[T]) C() <-chan T {
	return l.ch
}
