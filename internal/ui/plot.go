package ui

import (
	"fmt"
	"math"
	"strings"

	termui "github.com/gizak/termui/v3"
	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/telemetry"
)

var colors = map[chart.Color]termui.Color{
	chart.DarkGreen:  termui.ColorGreen,
	chart.MediumBlue: termui.ColorBlue,
	chart.DarkRed:    termui.ColorRed,
}

var keys = map[string]counter.CounterType{
	"c": counter.Processor,
	"m": counter.Memory,
	"d": counter.Disk,
}

const helpText = "[c](fg:yellow) CPU  [m](fg:yellow) Memory  [d](fg:yellow) Disk  [s](fg:yellow) stats  [q](fg:yellow) quit"

// PlotData is what the plot widget needs from a chart snapshot.
type PlotData struct {
	Title  string
	Data   [][]float64
	Colors []termui.Color
	MaxVal float64
	Legend string
}

// Plot converts a snapshot into plot widget data. Rows are indexed by tick
// from Bounds.MinX so samples taken at the same tick share a column. Columns
// before a series' first point are 0 and columns it has no sample for hold
// the previous value. The plot draws line segments, so a row needs two
// columns before it shows up; the series is still listed in the legend.
func Plot(s chart.Snapshot) PlotData {
	p := PlotData{
		Title:  fmt.Sprintf(" ticks %d..%d ", s.Bounds.MinX, s.Bounds.MaxX),
		MaxVal: s.Bounds.MaxY,
	}
	if p.MaxVal < 1 {
		p.MaxVal = 1
	}

	legend := make([]string, 0, len(s.Series))
	for _, series := range s.Series {
		color := Color(series.Style.Color)
		legend = append(legend, fmt.Sprintf("[%s](fg:%s) %s %s",
			series.Name, colorName(color), series.Style.Kind, lastValue(series)))

		row := plotRow(series.Points, s.Bounds)
		if len(row) < 2 {
			continue
		}
		p.Data = append(p.Data, row)
		p.Colors = append(p.Colors, color)
	}
	p.Legend = strings.Join(legend, "  ")
	return p
}

// plotRow lays points out by tick, ending at the last point inside bounds.
func plotRow(points []chart.Point, b chart.Bounds) []float64 {
	width := b.MaxX - b.MinX
	if width <= 0 {
		return nil
	}

	var row []float64
	for _, point := range points {
		col := point.X - b.MinX
		if col < 0 || col >= width || col < len(row) {
			continue
		}
		held := 0.0
		if len(row) > 0 {
			held = row[len(row)-1]
		}
		for len(row) < col {
			row = append(row, held)
		}
		if math.IsNaN(point.Y) {
			row = append(row, held)
		} else {
			row = append(row, point.Y)
		}
	}
	return row
}

// Color maps a chart color onto the terminal palette.
func Color(c chart.Color) termui.Color {
	if color, ok := colors[c]; ok {
		return color
	}
	return termui.ColorWhite
}

func colorName(c termui.Color) string {
	switch c {
	case termui.ColorGreen:
		return "green"
	case termui.ColorBlue:
		return "blue"
	case termui.ColorRed:
		return "red"
	}
	return "white"
}

func lastValue(s *chart.Series) string {
	if len(s.Points) == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", s.Points[len(s.Points)-1].Y)
}

// KeyCounter returns the counter toggled by a key press.
func KeyCounter(id string) (counter.CounterType, bool) {
	ct, ok := keys[id]
	return ct, ok
}

// StatsText renders the self metrics without HELP and TYPE comments.
func StatsText(m *telemetry.Metrics) (string, error) {
	var b strings.Builder
	if err := m.WriteText(&b); err != nil {
		return "", err
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), nil
}
