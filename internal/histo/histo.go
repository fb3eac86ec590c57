// Package histo provides the dense fixed-binning histograms the calibration
// modules work on: per-element projections of a 2D spectrum, width-weighted
// integrals, scaled background subtraction and the seeding helpers used by
// the fits. Histograms read from disk arrive as go-hep hbook values and are
// converted once at the source boundary.
package histo

import (
	"errors"
	"fmt"
	"math"
)

// ErrBinningMismatch is returned when two histograms with different axes are combined.
var ErrBinningMismatch = errors.New("histogram binning mismatch")

// Axis is a uniform binning of [Min, Max) into N bins.
type Axis struct {
	N   int
	Min float64
	Max float64
}

// Width returns the bin width.
func (a Axis) Width() float64 {
	if a.N == 0 {
		return 0
	}
	return (a.Max - a.Min) / float64(a.N)
}

// Low returns the lower edge of bin i.
func (a Axis) Low(i int) float64 { return a.Min + float64(i)*a.Width() }

// Center returns the centre of bin i.
func (a Axis) Center(i int) float64 { return a.Min + (float64(i)+0.5)*a.Width() }

// FindBin returns the bin containing x, -1 for underflow and N for overflow.
func (a Axis) FindBin(x float64) int {
	if x < a.Min {
		return -1
	}
	if x >= a.Max {
		return a.N
	}
	i := int((x - a.Min) / a.Width())
	if i >= a.N {
		i = a.N - 1
	}
	return i
}

func (a Axis) equal(b Axis) bool {
	return a.N == b.N && a.Min == b.Min && a.Max == b.Max
}

func (a Axis) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i >= a.N {
		return a.N - 1
	}
	return i
}

// H1 is a one dimensional histogram with per-bin sum of squared weights.
type H1 struct {
	Name    string
	X       Axis
	content []float64
	sumw2   []float64
	entries float64
}

// NewH1 creates an empty histogram with n bins over [min, max).
func NewH1(name string, n int, min, max float64) *H1 {
	return &H1{
		Name:    name,
		X:       Axis{N: n, Min: min, Max: max},
		content: make([]float64, n),
		sumw2:   make([]float64, n),
	}
}

// Len returns the number of bins.
func (h *H1) Len() int { return h.X.N }

// Fill adds weight w at x. Out of range values only count as entries.
func (h *H1) Fill(x, w float64) {
	h.entries++
	i := h.X.FindBin(x)
	if i < 0 || i >= h.X.N {
		return
	}
	h.content[i] += w
	h.sumw2[i] += w * w
}

// Content returns the content of bin i.
func (h *H1) Content(i int) float64 { return h.content[i] }

// SetContent sets the content of bin i assuming Poisson errors.
func (h *H1) SetContent(i int, v float64) {
	h.content[i] = v
	h.sumw2[i] = math.Abs(v)
}

// Error returns the statistical error of bin i.
func (h *H1) Error(i int) float64 { return math.Sqrt(h.sumw2[i]) }

// Center returns the centre of bin i.
func (h *H1) Center(i int) float64 { return h.X.Center(i) }

// FindBin returns the bin containing x, -1 for underflow and Len() for overflow.
func (h *H1) FindBin(x float64) int { return h.X.FindBin(x) }

// Entries returns the number of accumulated entries.
func (h *H1) Entries() float64 { return h.entries }

// SetEntries overrides the entry count.
func (h *H1) SetEntries(n float64) { h.entries = n }

// MaximumBin returns the index of the bin with the largest content.
func (h *H1) MaximumBin() int {
	return h.MaximumBinIn(h.X.Min, h.X.Max)
}

// MaximumBinIn returns the index of the bin with the largest content among
// the bins whose centre lies in [lo, hi].
func (h *H1) MaximumBinIn(lo, hi float64) int {
	best := -1
	for i := 0; i < h.X.N; i++ {
		c := h.X.Center(i)
		if c < lo || c > hi {
			continue
		}
		if best < 0 || h.content[i] > h.content[best] {
			best = i
		}
	}
	if best < 0 {
		return h.X.clamp(h.X.FindBin(lo))
	}
	return best
}

// Maximum returns the largest bin content.
func (h *H1) Maximum() float64 {
	if h.X.N == 0 {
		return 0
	}
	return h.content[h.MaximumBin()]
}

// Mean returns the content weighted mean of the bin centres.
func (h *H1) Mean() float64 {
	var sw, swx float64
	for i, c := range h.content {
		sw += c
		swx += c * h.X.Center(i)
	}
	if sw == 0 {
		return 0
	}
	return swx / sw
}

// Integral returns the sum of the contents of bins first..last inclusive.
// Indices are clamped to the axis.
func (h *H1) Integral(first, last int) float64 {
	first, last = h.X.clamp(first), h.X.clamp(last)
	var s float64
	for i := first; i <= last; i++ {
		s += h.content[i]
	}
	return s
}

// IntegralWidth returns the sum of content times bin width over bins
// first..last inclusive.
func (h *H1) IntegralWidth(first, last int) float64 {
	return h.Integral(first, last) * h.X.Width()
}

// Add adds c*o bin by bin. Both histograms must share the same binning.
func (h *H1) Add(o *H1, c float64) error {
	if !h.X.equal(o.X) {
		return fmt.Errorf("%w: %s vs %s", ErrBinningMismatch, h.Name, o.Name)
	}
	for i := range h.content {
		h.content[i] += c * o.content[i]
		h.sumw2[i] += c * c * o.sumw2[i]
	}
	h.entries += o.entries
	return nil
}

// ClampNegative sets every negative bin to zero and returns how many bins changed.
func (h *H1) ClampNegative() int {
	n := 0
	for i, c := range h.content {
		if c < 0 {
			h.content[i] = 0
			h.sumw2[i] = 0
			n++
		}
	}
	return n
}

// Rebin merges groups of n adjacent bins. Trailing bins that do not fill a
// group are dropped.
func (h *H1) Rebin(n int) *H1 {
	if n <= 1 {
		return h.Clone(h.Name)
	}
	nb := h.X.N / n
	out := NewH1(h.Name, nb, h.X.Min, h.X.Min+float64(nb*n)*h.X.Width())
	for i := 0; i < nb*n; i++ {
		out.content[i/n] += h.content[i]
		out.sumw2[i/n] += h.sumw2[i]
	}
	out.entries = h.entries
	return out
}

// Clone returns a deep copy named name.
func (h *H1) Clone(name string) *H1 {
	out := &H1{
		Name:    name,
		X:       h.X,
		content: append([]float64(nil), h.content...),
		sumw2:   append([]float64(nil), h.sumw2...),
		entries: h.entries,
	}
	return out
}

// H2 is a two dimensional histogram. The calibration convention puts the
// observable on X and the element index on Y.
type H2 struct {
	Name    string
	X       Axis
	Y       Axis
	content []float64
	sumw2   []float64
	entries []float64
}

// NewH2 creates an empty 2D histogram.
func NewH2(name string, nx int, xmin, xmax float64, ny int, ymin, ymax float64) *H2 {
	n := nx * ny
	return &H2{
		Name:    name,
		X:       Axis{N: nx, Min: xmin, Max: xmax},
		Y:       Axis{N: ny, Min: ymin, Max: ymax},
		content: make([]float64, n),
		sumw2:   make([]float64, n),
		entries: make([]float64, n),
	}
}

func (h *H2) index(ix, iy int) int { return iy*h.X.N + ix }

// Fill adds weight w at (x, y). Out of range values are dropped.
func (h *H2) Fill(x, y, w float64) {
	ix, iy := h.X.FindBin(x), h.Y.FindBin(y)
	if ix < 0 || ix >= h.X.N || iy < 0 || iy >= h.Y.N {
		return
	}
	k := h.index(ix, iy)
	h.content[k] += w
	h.sumw2[k] += w * w
	h.entries[k]++
}

// Content returns the content of bin (ix, iy).
func (h *H2) Content(ix, iy int) float64 { return h.content[h.index(ix, iy)] }

// SetContent sets the content of bin (ix, iy) assuming Poisson statistics.
func (h *H2) SetContent(ix, iy int, v float64) {
	k := h.index(ix, iy)
	h.content[k] = v
	h.sumw2[k] = math.Abs(v)
	h.entries[k] = math.Abs(v)
}

// Entries returns the total number of entries.
func (h *H2) Entries() float64 {
	var s float64
	for _, e := range h.entries {
		s += e
	}
	return s
}

// ProjectionX returns the X slice of Y bin iy, errors included.
func (h *H2) ProjectionX(name string, iy int) *H1 {
	out := NewH1(name, h.X.N, h.X.Min, h.X.Max)
	if iy < 0 || iy >= h.Y.N {
		return out
	}
	for ix := 0; ix < h.X.N; ix++ {
		k := h.index(ix, iy)
		out.content[ix] = h.content[k]
		out.sumw2[ix] = h.sumw2[k]
		out.entries += h.entries[k]
	}
	return out
}

// Add sums o into h. Both histograms must share the same binning.
func (h *H2) Add(o *H2) error {
	if !h.X.equal(o.X) || !h.Y.equal(o.Y) {
		return fmt.Errorf("%w: %s vs %s", ErrBinningMismatch, h.Name, o.Name)
	}
	for k := range h.content {
		h.content[k] += o.content[k]
		h.sumw2[k] += o.sumw2[k]
		h.entries[k] += o.entries[k]
	}
	return nil
}

// Clone returns a deep copy named name.
func (h *H2) Clone(name string) *H2 {
	return &H2{
		Name:    name,
		X:       h.X,
		Y:       h.Y,
		content: append([]float64(nil), h.content...),
		sumw2:   append([]float64(nil), h.sumw2...),
		entries: append([]float64(nil), h.entries...),
	}
}
