package coordinator

import (
	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/counter"
)

var seriesNames = map[counter.CounterType]string{
	counter.Processor: "CPU",
	counter.Memory:    "Memory",
	counter.Disk:      "Disk",
}

var seriesStyles = map[counter.CounterType]chart.Style{
	counter.Processor: {Kind: chart.Area, Color: chart.DarkGreen},
	counter.Memory:    {Kind: chart.Line, Color: chart.MediumBlue},
	counter.Disk:      {Kind: chart.Area, Color: chart.DarkRed},
}

// SeriesName is the chart series a counter type is plotted as. It is empty
// for Unknown.
func SeriesName(t counter.CounterType) string {
	return seriesNames[t]
}

func SeriesStyle(t counter.CounterType) chart.Style {
	return seriesStyles[t]
}

// NewSeries returns the empty chart series for t.
func NewSeries(t counter.CounterType) *chart.Series {
	return chart.NewSeries(SeriesName(t), SeriesStyle(t))
}
