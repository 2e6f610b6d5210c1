package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	termui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/telemetry"
	"go.uber.org/zap"
)

const labelTimeout = 100 * time.Millisecond

// Switch is the on/off control of one counter.
type Switch interface {
	CounterType() counter.CounterType
	Toggle() error
	Label(ctx context.Context) (string, error)
}

// Dashboard is the terminal front end. It implements chart.Renderer; all
// drawing happens on the goroutine running Run.
type Dashboard struct {
	switches  map[counter.CounterType]Switch
	snapshots *Latest[chart.Snapshot]
	changed   *Latest[struct{}]
	metrics   *telemetry.Metrics
	log       *zap.Logger

	grid      *termui.Grid
	plot      *widgets.Plot
	legend    *widgets.Paragraph
	toggles   *widgets.Paragraph
	help      *widgets.Paragraph
	stats     *widgets.Paragraph
	showStats bool
}

func NewDashboard(metrics *telemetry.Metrics, log *zap.Logger) *Dashboard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dashboard{
		switches:  make(map[counter.CounterType]Switch),
		snapshots: NewLatest[chart.Snapshot](),
		changed:   NewLatest[struct{}](),
		metrics:   metrics,
		log:       log,
	}
}

// AddSwitch binds s to its key. It must be called before Run.
func (d *Dashboard) AddSwitch(s Switch) {
	d.switches[s.CounterType()] = s
}

// Render queues a snapshot for drawing. Only the newest one is kept.
func (d *Dashboard) Render(s chart.Snapshot) {
	d.snapshots.Put(s)
}

// SwitchChanged tells the dashboard to reread the switch labels.
func (d *Dashboard) SwitchChanged(string) {
	d.changed.Put(struct{}{})
}

// Run owns the terminal until q is pressed or ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := termui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer termui.Close()

	d.build()
	d.layout(termui.TerminalDimensions())
	d.refreshLabels(ctx)
	d.render()

	uiEvents := termui.PollEvents()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "s":
				d.showStats = !d.showStats
				d.refreshStats()
				d.layout(termui.TerminalDimensions())
				termui.Clear()
			case "<Resize>":
				payload := e.Payload.(termui.Resize)
				d.layout(payload.Width, payload.Height)
				termui.Clear()
			default:
				if ct, ok := KeyCounter(e.ID); ok {
					d.toggle(ct)
				}
			}
			d.render()
		case s := <-d.snapshots.C():
			d.apply(Plot(s))
			d.render()
		case <-d.changed.C():
			d.refreshLabels(ctx)
			d.render()
		case <-ticker.C:
			if d.showStats {
				d.refreshStats()
				d.render()
			}
		}
	}
}

func (d *Dashboard) build() {
	d.plot = widgets.NewPlot()
	d.plot.Title = " perftop "
	d.plot.AxesColor = termui.ColorWhite
	d.plot.Data = [][]float64{}

	d.legend = widgets.NewParagraph()
	d.legend.Title = "Series"

	d.toggles = widgets.NewParagraph()
	d.toggles.Title = "Counters"

	d.help = widgets.NewParagraph()
	d.help.Border = false
	d.help.Text = helpText

	d.stats = widgets.NewParagraph()
	d.stats.Title = "Stats"
	d.stats.TextStyle = termui.NewStyle(termui.ColorYellow)
}

func (d *Dashboard) layout(width, height int) {
	d.grid = termui.NewGrid()
	d.grid.SetRect(0, 0, width, height-1)
	d.help.SetRect(0, height-1, width, height)

	plot := termui.NewRow(0.8, termui.NewCol(1.0, d.plot))
	if d.showStats {
		plot = termui.NewRow(0.8,
			termui.NewCol(0.6, d.plot),
			termui.NewCol(0.4, d.stats),
		)
	}
	d.grid.Set(
		plot,
		termui.NewRow(0.2,
			termui.NewCol(0.6, d.legend),
			termui.NewCol(0.4, d.toggles),
		),
	)
}

func (d *Dashboard) render() {
	termui.Render(d.grid, d.help)
}

func (d *Dashboard) apply(p PlotData) {
	d.plot.Title = p.Title
	d.plot.Data = p.Data
	d.plot.LineColors = p.Colors
	d.plot.MaxVal = p.MaxVal
	d.legend.Text = p.Legend
}

func (d *Dashboard) toggle(ct counter.CounterType) {
	s, ok := d.switches[ct]
	if !ok {
		return
	}
	if err := s.Toggle(); err != nil {
		d.log.Warn("toggle failed", zap.Stringer("counter", ct), zap.Error(err))
	}
}

func (d *Dashboard) refreshLabels(ctx context.Context) {
	labels := make([]string, 0, len(d.switches))
	for _, ct := range counter.Types() {
		s, ok := d.switches[ct]
		if !ok {
			continue
		}
		lctx, cancel := context.WithTimeout(ctx, labelTimeout)
		label, err := s.Label(lctx)
		cancel()
		if err != nil {
			d.log.Debug("no switch label", zap.Stringer("counter", ct), zap.Error(err))
			continue
		}
		labels = append(labels, label)
	}
	d.toggles.Text = strings.Join(labels, "\n")
}

func (d *Dashboard) refreshStats() {
	text, err := StatsText(d.metrics)
	if err != nil {
		d.log.Warn("failed to render stats", zap.Error(err))
		return
	}
	d.stats.Text = text
}
