package chart

import (
	"context"
	"fmt"
	"strings"

	"github.com/jondoveston/perftop/internal/actor"
	"github.com/jondoveston/perftop/internal/monitor"
	"github.com/jondoveston/perftop/internal/telemetry"
	"go.uber.org/zap"
)

// SubscriberID is the identity the controller subscribes to monitors with.
const SubscriberID = "chart"

// Renderer draws snapshots. Render is called on the controller goroutine
// after every mutation and must not call back into the controller.
type Renderer interface {
	Render(Snapshot)
}

type RendererFunc func(Snapshot)

func (f RendererFunc) Render(s Snapshot) { f(s) }

type initialize struct{ series map[string]*Series }

type addSeries struct{ series *Series }

type removeSeries struct{ name string }

type notify struct{ n monitor.Notification }

type snapshotQuery struct{ reply chan<- Snapshot }

// Controller is the actor that owns the chart Model. It is the monitor
// subscriber every watched counter reports to.
type Controller struct {
	model    *Model
	mailbox  *actor.Mailbox[any]
	renderer Renderer
	log      *zap.Logger
	metrics  *telemetry.Metrics
}

type ControllerOption func(*Controller)

func WithRenderer(r Renderer) ControllerOption {
	return func(c *Controller) { c.renderer = r }
}

func WithLogger(log *zap.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

func WithMetrics(metrics *telemetry.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = metrics }
}

// NewController starts a chart actor keeping capacity points per series.
func NewController(sys *actor.System, capacity int, opts ...ControllerOption) (*Controller, error) {
	model, err := NewModel(capacity)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		model: model,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mailbox = actor.NewMailbox[any](actor.DefaultMailboxSize, c.log)
	sys.Spawn(func() { c.mailbox.Run(c.receive) })
	return c, nil
}

func (c *Controller) SubscriberID() string { return SubscriberID }

// Notify enqueues a monitor notification.
func (c *Controller) Notify(n monitor.Notification) {
	c.mailbox.Tell(notify{n: n})
}

// Initialize enqueues a reinitialization. See Model.Initialize for the
// meaning of a nil set.
func (c *Controller) Initialize(series map[string]*Series) error {
	return c.tell(initialize{series: series})
}

func (c *Controller) AddSeries(s *Series) error {
	if s == nil || strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: series needs a name", ErrInvalidArgument)
	}
	return c.tell(addSeries{series: s.Clone()})
}

func (c *Controller) RemoveSeries(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: blank series name", ErrInvalidArgument)
	}
	return c.tell(removeSeries{name: name})
}

// Snapshot asks for a copy of the current chart state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	return actor.Ask(ctx, c.mailbox, func(reply chan<- Snapshot) any {
		return snapshotQuery{reply: reply}
	})
}

// Stop stops the actor. Pending messages are discarded.
func (c *Controller) Stop() {
	c.mailbox.Stop()
}

func (c *Controller) tell(msg any) error {
	if !c.mailbox.Tell(msg) {
		return actor.ErrStopped
	}
	return nil
}

func (c *Controller) receive(msg any) {
	switch msg := msg.(type) {
	case initialize:
		c.model.Initialize(msg.series)
		c.render()
	case addSeries:
		if err := c.model.AddSeries(msg.series); err != nil {
			c.log.Warn("failed to add series", zap.Error(err))
			return
		}
		c.render()
	case removeSeries:
		c.model.RemoveSeries(msg.name)
		c.render()
	case notify:
		c.onNotification(msg.n)
	case snapshotQuery:
		msg.reply <- c.model.Snapshot()
	default:
		c.log.Warn("unhandled message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (c *Controller) onNotification(n monitor.Notification) {
	if n.Err != nil {
		c.log.Warn("metric source failed", zap.Error(n.Err))
		return
	}
	if !c.model.OnSample(n.Sample.Series, n.Sample.Value) {
		c.log.Debug("drop stale sample", zap.String("series", n.Sample.Series))
		c.metrics.SampleStale()
		return
	}
	c.render()
}

func (c *Controller) render() {
	if c.renderer == nil {
		return
	}
	c.renderer.Render(c.model.Snapshot())
}
