package toggle

import (
	"context"
	"fmt"

	"github.com/jondoveston/perftop/internal/actor"
	"github.com/jondoveston/perftop/internal/coordinator"
	"github.com/jondoveston/perftop/internal/counter"
	"go.uber.org/zap"
)

// Target receives the watch and unwatch requests a toggle emits.
type Target interface {
	Watch(counter.CounterType) error
	Unwatch(counter.CounterType) error
}

type flip struct{}

type labelQuery struct{ reply chan<- string }

// Toggler holds the on/off state of one counter's switch. Every flip emits
// exactly one Watch or Unwatch.
type Toggler struct {
	ct       counter.CounterType
	target   Target
	mailbox  *actor.Mailbox[any]
	log      *zap.Logger
	onChange func(label string)

	// owned by the mailbox goroutine
	on bool
}

type Option func(*Toggler)

func WithLogger(log *zap.Logger) Option {
	return func(t *Toggler) { t.log = log }
}

// WithOnChange registers a callback run on the toggler goroutine with the
// new label after every flip.
func WithOnChange(fn func(label string)) Option {
	return func(t *Toggler) { t.onChange = fn }
}

// New starts a toggler for ct in the given initial state. Nothing is
// emitted until the first Toggle.
func New(sys *actor.System, ct counter.CounterType, target Target, initiallyOn bool, opts ...Option) (*Toggler, error) {
	if err := counter.Validate(ct); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: nil toggle target", counter.ErrInvalidArgument)
	}

	t := &Toggler{
		ct:     ct,
		target: target,
		on:     initiallyOn,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(zap.Stringer("counter", ct))
	t.mailbox = actor.NewMailbox[any](actor.DefaultMailboxSize, t.log)
	sys.Spawn(func() { t.mailbox.Run(t.receive) })
	return t, nil
}

func (t *Toggler) CounterType() counter.CounterType { return t.ct }

// Toggle flips the switch.
func (t *Toggler) Toggle() error {
	if !t.mailbox.Tell(flip{}) {
		return actor.ErrStopped
	}
	return nil
}

// Label returns the switch caption, e.g. "CPU (ON)".
func (t *Toggler) Label(ctx context.Context) (string, error) {
	return actor.Ask(ctx, t.mailbox, func(reply chan<- string) any {
		return labelQuery{reply: reply}
	})
}

func (t *Toggler) Stop() {
	t.mailbox.Stop()
}

func (t *Toggler) receive(msg any) {
	switch msg := msg.(type) {
	case flip:
		t.on = !t.on
		var err error
		if t.on {
			err = t.target.Watch(t.ct)
		} else {
			err = t.target.Unwatch(t.ct)
		}
		if err != nil {
			t.log.Warn("toggle request failed", zap.Bool("on", t.on), zap.Error(err))
		}
		if t.onChange != nil {
			t.onChange(t.label())
		}
	case labelQuery:
		msg.reply <- t.label()
	default:
		t.log.Warn("unhandled message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (t *Toggler) label() string {
	return Label(t.ct, t.on)
}

// Label formats the caption of a switch for ct.
func Label(ct counter.CounterType, on bool) string {
	state := "OFF"
	if on {
		state = "ON"
	}
	return fmt.Sprintf("%s (%s)", coordinator.SeriesName(ct), state)
}
