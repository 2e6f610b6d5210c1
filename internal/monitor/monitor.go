package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jondoveston/perftop/internal/actor"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultInterval is the sampling period and the delay before the first sample.
const DefaultInterval = 250 * time.Millisecond

// Sample is one counter value for a named series.
type Sample struct {
	Series string
	Value  float64
}

// Notification is what a Monitor delivers on every tick: either a Sample
// or, when the counter read failed, an Err wrapping counter.ErrSourceUnavailable.
type Notification struct {
	Sample Sample
	Err    error
}

// Subscriber receives notifications from a Monitor. Notify must not block
// for long; actors implement it by enqueueing.
type Subscriber interface {
	SubscriberID() string
	Notify(Notification)
}

type gatherMetrics struct{}

type subscribe struct{ sub Subscriber }

type unsubscribe struct{ id string }

type subscribersQuery struct{ reply chan<- []string }

// Monitor samples one performance counter on a fixed schedule and fans the
// values out to its subscribers.
type Monitor struct {
	series   string
	interval time.Duration
	log      *zap.Logger
	metrics  *telemetry.Metrics

	counter  counter.Counter
	mailbox  *actor.Mailbox[any]
	schedule *actor.Cancelable
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	// owned by the mailbox goroutine
	subscribers map[string]Subscriber
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// New creates the counter through factory and starts sampling it for series.
func New(sys *actor.System, series string, factory counter.Factory, opts ...Option) (*Monitor, error) {
	if strings.TrimSpace(series) == "" {
		return nil, fmt.Errorf("%w: blank series name", counter.ErrInvalidArgument)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil counter factory for %s", counter.ErrInvalidArgument, series)
	}

	m := &Monitor{
		series:      series,
		interval:    DefaultInterval,
		log:         zap.NewNop(),
		subscribers: make(map[string]Subscriber),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("series", series))

	c, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create counter for %s: %w", series, err)
	}
	if c == nil {
		return nil, fmt.Errorf("create counter for %s: factory returned nil", series)
	}
	m.counter = c

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mailbox = actor.NewMailbox[any](actor.DefaultMailboxSize, m.log)
	sys.Spawn(func() { m.mailbox.Run(m.receive) })

	m.schedule, err = actor.ScheduleRepeatedly(m.interval, m.interval, m.tick, m.log)
	if err != nil {
		m.cancel()
		m.mailbox.Stop()
		_ = c.Close()
		return nil, err
	}

	m.log.Debug("monitor started", zap.Duration("interval", m.interval))
	return m, nil
}

// Series returns the name used in every Sample.
func (m *Monitor) Series() string {
	return m.series
}

// Subscribe adds sub. Subscribing the same ID twice is a no-op.
func (m *Monitor) Subscribe(sub Subscriber) error {
	if err := validateSubscriber(sub); err != nil {
		return err
	}
	if !m.mailbox.Tell(subscribe{sub: sub}) {
		return actor.ErrStopped
	}
	return nil
}

// Unsubscribe removes sub. Removing an absent subscriber is a no-op.
func (m *Monitor) Unsubscribe(sub Subscriber) error {
	if err := validateSubscriber(sub); err != nil {
		return err
	}
	if !m.mailbox.Tell(unsubscribe{id: sub.SubscriberID()}) {
		return actor.ErrStopped
	}
	return nil
}

// Subscribers returns the current subscriber IDs, sorted.
func (m *Monitor) Subscribers(ctx context.Context) ([]string, error) {
	return actor.Ask(ctx, m.mailbox, func(reply chan<- []string) any {
		return subscribersQuery{reply: reply}
	})
}

// Stop cancels sampling, stops the mailbox and closes the counter. After
// Stop returns no subscriber is notified again.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.schedule.Cancel()
		m.cancel()
		m.mailbox.Stop()
		if err := m.counter.Close(); err != nil {
			m.log.Warn("failed to close counter", zap.Error(err))
		}
		m.log.Debug("monitor stopped")
	})
}

// tick runs on the scheduler goroutine. A tick is skipped while the
// previous gather is still queued behind slow reads.
func (m *Monitor) tick() {
	if !m.mailbox.TryTell(gatherMetrics{}) {
		m.log.Debug("skip the tick, mailbox is busy")
	}
}

func (m *Monitor) receive(msg any) {
	switch msg := msg.(type) {
	case gatherMetrics:
		m.gather()
	case subscribe:
		m.subscribers[msg.sub.SubscriberID()] = msg.sub
		m.metrics.SetSubscriptions(m.series, len(m.subscribers))
	case unsubscribe:
		delete(m.subscribers, msg.id)
		m.metrics.SetSubscriptions(m.series, len(m.subscribers))
	case subscribersQuery:
		ids := make([]string, 0, len(m.subscribers))
		for id := range m.subscribers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		msg.reply <- ids
	default:
		m.log.Warn("unhandled message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (m *Monitor) gather() {
	// idle source
	if len(m.subscribers) == 0 {
		return
	}

	var n Notification
	value, err := m.counter.Next(m.ctx)
	if err != nil {
		if !errors.Is(err, counter.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", counter.ErrSourceUnavailable, err)
		}
		m.log.Warn("failed to read counter", zap.Error(err))
		m.metrics.SampleFailed(m.series)
		n.Err = fmt.Errorf("%s: %w", m.series, err)
	} else {
		m.metrics.SampleCollected(m.series)
		n.Sample = Sample{Series: m.series, Value: value}
	}

	for _, sub := range m.subscribers {
		sub.Notify(n)
	}
}

func validateSubscriber(sub Subscriber) error {
	if sub == nil {
		return fmt.Errorf("%w: nil subscriber", counter.ErrInvalidArgument)
	}
	if strings.TrimSpace(sub.SubscriberID()) == "" {
		return fmt.Errorf("%w: blank subscriber id", counter.ErrInvalidArgument)
	}
	return nil
}
