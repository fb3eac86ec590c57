package calib

import (
	"math"

	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
)

// sideWindow is the number of bins sampled on each side of a peak by
// FindBackground.
const sideWindow = 10

// FindBackground estimates a linear background under the peak at peak from
// two side windows: sideWindow bins ending at peak-left and sideWindow bins
// starting at peak+right. It returns the offset and slope.
func FindBackground(h *histo.H1, peak, left, right float64) (p0, p1 float64, ok bool) {
	var xs, ys []float64
	add := func(i int) {
		if i < 0 || i >= h.Len() {
			return
		}
		xs = append(xs, h.Center(i))
		ys = append(ys, h.Content(i))
	}

	lo := h.FindBin(peak - left)
	for i := lo - sideWindow + 1; i <= lo; i++ {
		add(i)
	}
	hi := h.FindBin(peak + right)
	for i := hi; i < hi+sideWindow; i++ {
		add(i)
	}

	c, err := fit.PolyFit(xs, ys, nil, 1)
	if err != nil || !finite(c[0]) || !finite(c[1]) {
		return 0, 0, false
	}
	return c[0], c[1], true
}

// MinimumPosition returns the x of the smallest recorded value of s.
func MinimumPosition(s *Series) (float64, bool) {
	best, found := math.Inf(1), false
	var x float64
	for i := 0; i < s.Elements(); i++ {
		y, ok := s.Get(i)
		if !ok || y >= best {
			continue
		}
		best, x, found = y, s.X(i), true
	}
	return x, found
}

// DiffPercent returns the relative change from old to new in percent, 0 when
// old is 0.
func DiffPercent(old, new float64) float64 {
	if old == 0 {
		return 0
	}
	return (new - old) / old * 100
}

// Geometry answers detector layout questions.
type Geometry struct {
	holes map[int]bool
}

// NewGeometry creates a Geometry with the given hole elements.
func NewGeometry(holes []int) Geometry {
	g := Geometry{holes: make(map[int]bool, len(holes))}
	for _, h := range holes {
		g.holes[h] = true
	}
	return g
}

// IsHole reports whether elem is a structural hole.
func (g Geometry) IsHole(elem int) bool { return g.holes[elem] }

// Plausibility windows for fitted meson peak positions.
const (
	pi0Min, pi0Max, pi0Nominal = 80, 200, 135
	etaMin, etaMax, etaNominal = 450, 650, 547
)

// clampPi0 reverts pi0 positions outside the plausible window to 135.
func clampPi0(pos float64) float64 {
	if pos < pi0Min || pos > pi0Max || math.IsNaN(pos) {
		return pi0Nominal
	}
	return pos
}

// clampEta reverts eta positions outside the plausible window to 547.
func clampEta(pos float64) float64 {
	if pos < etaMin || pos > etaMax || math.IsNaN(pos) {
		return etaNominal
	}
	return pos
}
