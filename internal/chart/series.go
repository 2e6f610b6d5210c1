package chart

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// DefaultCapacity is the number of points a series keeps before the oldest
// ones slide out of the window.
const DefaultCapacity = 250

// ErrInvalidArgument is returned for blank series names, negative point
// counts and non-positive capacities.
var ErrInvalidArgument = errors.New("invalid argument")

// Kind is the way a series is drawn.
type Kind int

const (
	Line Kind = iota
	Area
)

func (k Kind) String() string {
	if k == Area {
		return "area"
	}
	return "line"
}

// Color is a named plot color. Renderers map it onto their own palette.
type Color string

const (
	DarkGreen  Color = "darkgreen"
	MediumBlue Color = "mediumblue"
	DarkRed    Color = "darkred"
)

type Style struct {
	Kind  Kind
	Color Color
}

// Point is one plotted value. X is the chart's global tick, shared by all
// series.
type Point struct {
	X int
	Y float64
}

// Series is a named, ordered run of points. Points are appended in
// increasing X order.
type Series struct {
	Name   string
	Style  Style
	Points []Point
}

// NewSeries returns an empty series.
func NewSeries(name string, style Style) *Series {
	return &Series{Name: name, Style: style}
}

// Clone returns a deep copy of s.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	c := *s
	c.Points = append([]Point(nil), s.Points...)
	return &c
}

// RandomSeries builds a series of n pseudo-random points for demo charts.
func RandomSeries(name string, kind Kind, n int) (*Series, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: blank series name", ErrInvalidArgument)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative point count %d", ErrInvalidArgument, n)
	}

	s := NewSeries(name, Style{Kind: kind, Color: DarkGreen})
	s.Points = make([]Point, 0, n)
	for x := 0; x < n; x++ {
		f := rand.Float64()
		s.Points = append(s.Points, Point{X: x, Y: 2*math.Sin(f) + math.Sin(f/4.5)})
	}
	return s, nil
}
