package chart

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Bounds is the visible window of the chart.
type Bounds struct {
	MinX, MaxX int
	MinY, MaxY float64
}

// Model is the sliding-window chart state: series keyed by name, a global
// tick shared by all series, and axis bounds. It is not safe for concurrent
// use; the Controller owns it.
type Model struct {
	capacity int
	tick     int
	order    []string
	series   map[string]*Series
	bounds   Bounds
}

// NewModel creates an empty model that keeps at most capacity points per series.
func NewModel(capacity int) (*Model, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidArgument, capacity)
	}
	m := &Model{
		capacity: capacity,
		series:   make(map[string]*Series),
		bounds:   Bounds{MinY: 0, MaxY: 1},
	}
	m.recompute()
	return m, nil
}

func (m *Model) Capacity() int { return m.capacity }

// Tick is the X position the next sample will be plotted at.
func (m *Model) Tick() int { return m.tick }

func (m *Model) Bounds() Bounds { return m.bounds }

// Initialize (re)installs the series set. A nil set keeps the current
// series and tick. Any other set, including an empty one, replaces every
// series and resets the tick to 0. Series names are forced to their keys
// and points are replotted on the ticks before the current one.
func (m *Model) Initialize(initial map[string]*Series) {
	if initial != nil {
		m.order = m.order[:0]
		m.series = make(map[string]*Series, len(initial))
		m.tick = 0

		names := make([]string, 0, len(initial))
		for name := range initial {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := initial[name]
			if s == nil || strings.TrimSpace(name) == "" {
				continue
			}
			s = s.Clone()
			s.Name = name
			m.trim(s)
			m.rebase(s)
			m.order = append(m.order, name)
			m.series[name] = s
		}
	}
	m.recompute()
}

// AddSeries registers s, replacing any series with the same name. The X
// values of s are ignored: its points end just before the current tick so
// every series stays increasing in X as samples arrive.
func (m *Model) AddSeries(s *Series) error {
	if s == nil {
		return fmt.Errorf("%w: nil series", ErrInvalidArgument)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: blank series name", ErrInvalidArgument)
	}

	s = s.Clone()
	m.trim(s)
	m.rebase(s)
	if _, ok := m.series[s.Name]; !ok {
		m.order = append(m.order, s.Name)
	}
	m.series[s.Name] = s
	m.recompute()
	return nil
}

// RemoveSeries drops the named series. Absent names are ignored.
func (m *Model) RemoveSeries(name string) {
	if _, ok := m.series[name]; !ok {
		return
	}
	delete(m.series, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.recompute()
}

// Has reports whether a series with that name is registered.
func (m *Model) Has(name string) bool {
	_, ok := m.series[name]
	return ok
}

// OnSample plots value on the named series at the current tick and moves
// the tick forward. It returns false when the sample is stale: the name is
// blank or no such series is registered.
func (m *Model) OnSample(name string, value float64) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	s, ok := m.series[name]
	if !ok {
		return false
	}

	s.Points = append(s.Points, Point{X: m.tick, Y: value})
	m.tick++
	m.trim(s)
	m.recompute()
	return true
}

// Snapshot returns a deep copy of the model in series insertion order.
func (m *Model) Snapshot() Snapshot {
	snap := Snapshot{
		Tick:     m.tick,
		Capacity: m.capacity,
		Bounds:   m.bounds,
		Series:   make([]*Series, 0, len(m.order)),
	}
	for _, name := range m.order {
		snap.Series = append(snap.Series, m.series[name].Clone())
	}
	return snap
}

// trim evicts the oldest points until s fits the window.
func (m *Model) trim(s *Series) {
	if over := len(s.Points) - m.capacity; over > 0 {
		s.Points = append(s.Points[:0], s.Points[over:]...)
	}
}

// rebase moves the points of s onto the ticks leading up to the current one.
func (m *Model) rebase(s *Series) {
	start := m.tick - len(s.Points)
	for i := range s.Points {
		s.Points[i].X = start + i
	}
}

// recompute sets X to the last capacity ticks. Y only follows the maximum
// and only moves once more than two plottable points are visible. NaN
// points are kept but never move the bounds.
func (m *Model) recompute() {
	m.bounds.MinX = m.tick - m.capacity
	m.bounds.MaxX = m.tick

	total := 0
	maxY := math.Inf(-1)
	for _, s := range m.series {
		for _, p := range s.Points {
			if math.IsNaN(p.Y) {
				continue
			}
			total++
			if p.Y > maxY {
				maxY = p.Y
			}
		}
	}
	if total > 2 {
		m.bounds.MinY = math.Floor(maxY)
		m.bounds.MaxY = math.Ceil(maxY)
	}
}

// Snapshot is an immutable copy of the model handed to renderers.
type Snapshot struct {
	Tick     int
	Capacity int
	Bounds   Bounds
	Series   []*Series
}

// Find returns the named series or nil.
func (s Snapshot) Find(name string) *Series {
	for _, series := range s.Series {
		if series.Name == name {
			return series
		}
	}
	return nil
}
