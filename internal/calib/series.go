package calib

import (
	"github.com/banshee-data/calib/internal/fit"
)

// PointError is the nominal uncertainty attached to every overview point.
// It only sets the plotting weight.
const PointError = 1e-7

// Series is the per-element overview of one fit result. Each element owns
// one optional point at a fixed x position.
type Series struct {
	Name   string
	XLabel string
	YLabel string
	// Fit is an optional global model fitted to the series.
	Fit *fit.Model

	x   []float64
	y   []float64
	set []bool
	n   int
}

// NewSeries creates a series for n elements whose x positions are the bin
// centres of [xmin, xmax) split into n bins.
func NewSeries(name string, n int, xmin, xmax float64) *Series {
	s := &Series{
		Name: name,
		x:    make([]float64, n),
		y:    make([]float64, n),
		set:  make([]bool, n),
	}
	w := (xmax - xmin) / float64(n)
	for i := range s.x {
		s.x[i] = xmin + (float64(i)+0.5)*w
	}
	return s
}

// Set records y for element elem.
func (s *Series) Set(elem int, y float64) {
	if elem < 0 || elem >= len(s.y) {
		return
	}
	if !s.set[elem] {
		s.n++
	}
	s.y[elem] = y
	s.set[elem] = true
}

// Get returns the recorded value of element elem.
func (s *Series) Get(elem int) (float64, bool) {
	if elem < 0 || elem >= len(s.y) || !s.set[elem] {
		return 0, false
	}
	return s.y[elem], true
}

// X returns the x position of element elem.
func (s *Series) X(elem int) float64 { return s.x[elem] }

// Elements returns the number of element slots.
func (s *Series) Elements() int { return len(s.x) }

// Len returns the number of recorded points.
func (s *Series) Len() int { return s.n }

// Points returns the recorded points in element order.
func (s *Series) Points() (xs, ys []float64) {
	for i, ok := range s.set {
		if ok {
			xs = append(xs, s.x[i])
			ys = append(ys, s.y[i])
		}
	}
	return xs, ys
}
