package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jondoveston/perftop/internal/actor"
	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/monitor"
	"github.com/jondoveston/perftop/internal/telemetry"
	"go.uber.org/zap"
)

// ChartSink is where watched counters are plotted.
type ChartSink interface {
	monitor.Subscriber
	AddSeries(*chart.Series) error
	RemoveSeries(name string) error
}

type watch struct{ ct counter.CounterType }

type unwatch struct{ ct counter.CounterType }

type activeQuery struct{ reply chan<- []counter.CounterType }

type monitorQuery struct {
	ct    counter.CounterType
	reply chan<- *monitor.Monitor
}

// Coordinator routes watch and unwatch requests to one monitor per counter
// type, creating monitors on first use, and keeps the chart in step.
type Coordinator struct {
	sys       *actor.System
	factories counter.Factories
	sink      ChartSink
	interval  time.Duration
	log       *zap.Logger
	metrics   *telemetry.Metrics
	mailbox   *actor.Mailbox[any]

	// owned by the mailbox goroutine
	monitors map[counter.CounterType]*monitor.Monitor
}

type Option func(*Coordinator)

// WithInterval sets the sampling interval of every monitor.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// New starts a coordinator that builds counters from factories and plots
// them on sink.
func New(sys *actor.System, factories counter.Factories, sink ChartSink, opts ...Option) (*Coordinator, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil chart sink", counter.ErrInvalidArgument)
	}

	c := &Coordinator{
		sys:       sys,
		factories: factories,
		sink:      sink,
		interval:  monitor.DefaultInterval,
		log:       zap.NewNop(),
		monitors:  make(map[counter.CounterType]*monitor.Monitor),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mailbox = actor.NewMailbox[any](actor.DefaultMailboxSize, c.log)
	sys.Spawn(func() { c.mailbox.Run(c.receive) })
	return c, nil
}

// Watch starts plotting ct.
func (c *Coordinator) Watch(ct counter.CounterType) error {
	if err := counter.Validate(ct); err != nil {
		return err
	}
	return c.tell(watch{ct: ct})
}

// Unwatch stops plotting ct. The monitor stays alive with no subscribers.
func (c *Coordinator) Unwatch(ct counter.CounterType) error {
	if err := counter.Validate(ct); err != nil {
		return err
	}
	return c.tell(unwatch{ct: ct})
}

// Active returns the counter types that have a monitor, in display order.
func (c *Coordinator) Active(ctx context.Context) ([]counter.CounterType, error) {
	return actor.Ask(ctx, c.mailbox, func(reply chan<- []counter.CounterType) any {
		return activeQuery{reply: reply}
	})
}

// Subscribers returns the subscriber IDs of the monitor for ct, or nil if
// ct was never watched.
func (c *Coordinator) Subscribers(ctx context.Context, ct counter.CounterType) ([]string, error) {
	if err := counter.Validate(ct); err != nil {
		return nil, err
	}
	m, err := actor.Ask(ctx, c.mailbox, func(reply chan<- *monitor.Monitor) any {
		return monitorQuery{ct: ct, reply: reply}
	})
	if err != nil || m == nil {
		return nil, err
	}
	return m.Subscribers(ctx)
}

// Stop stops the coordinator and then every monitor it created.
func (c *Coordinator) Stop() {
	c.mailbox.Stop()
	for ct, m := range c.monitors {
		m.Stop()
		delete(c.monitors, ct)
	}
}

func (c *Coordinator) tell(msg any) error {
	if !c.mailbox.Tell(msg) {
		return actor.ErrStopped
	}
	return nil
}

func (c *Coordinator) receive(msg any) {
	switch msg := msg.(type) {
	case watch:
		c.onWatch(msg.ct)
	case unwatch:
		c.onUnwatch(msg.ct)
	case activeQuery:
		active := make([]counter.CounterType, 0, len(c.monitors))
		for ct := range c.monitors {
			active = append(active, ct)
		}
		sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
		msg.reply <- active
	case monitorQuery:
		msg.reply <- c.monitors[msg.ct]
	default:
		c.log.Warn("unhandled message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (c *Coordinator) onWatch(ct counter.CounterType) {
	log := c.log.With(zap.Stringer("counter", ct))

	m, ok := c.monitors[ct]
	if !ok {
		factory := func() (counter.Counter, error) { return c.factories.New(ct) }
		var err error
		m, err = monitor.New(c.sys, SeriesName(ct), factory,
			monitor.WithInterval(c.interval),
			monitor.WithLogger(c.log.Named("monitor")),
			monitor.WithMetrics(c.metrics),
		)
		if err != nil {
			log.Error("failed to start monitor", zap.Error(err))
			return
		}
		c.monitors[ct] = m
		log.Info("monitor started", zap.String("series", m.Series()))
	}

	if err := c.sink.AddSeries(NewSeries(ct)); err != nil {
		log.Warn("failed to add series", zap.Error(err))
		return
	}
	if err := m.Subscribe(c.sink); err != nil {
		log.Warn("failed to subscribe chart", zap.Error(err))
	}
}

func (c *Coordinator) onUnwatch(ct counter.CounterType) {
	m, ok := c.monitors[ct]
	if !ok {
		return
	}

	log := c.log.With(zap.Stringer("counter", ct))
	if err := m.Unsubscribe(c.sink); err != nil {
		log.Warn("failed to unsubscribe chart", zap.Error(err))
	}
	if err := c.sink.RemoveSeries(SeriesName(ct)); err != nil {
		log.Warn("failed to remove series", zap.Error(err))
	}
}
