package calib

import (
	"fmt"

	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/monitoring"
)

const (
	targetFitWindow   = 60
	targetBGWindow    = 50
	targetMinWindow   = 2
	targetRefitWindow = 5
	// maxWidthChange is the largest relative change of the pi0 width between
	// accepted consecutive elements.
	maxWidthChange = 0.1
)

// TargetPosition finds the target position from a scan of the pi0 width
// against assumed target positions. Each element is one scan position; the
// width is smallest where the assumed position matches the real one.
type TargetPosition struct {
	base

	main   *histo.H2
	old    float64
	pos    float64
	series *Series

	prevSigma float64
	havePrev  bool

	proj        *histo.H1
	model       *fit.Model
	peak, sigma float64
	ok          bool
	found       bool
}

// NewTargetPosition creates the target position module. The element count
// comes from "Target.Position.Bins".
func NewTargetPosition(env Env) (*TargetPosition, error) {
	p, _ := LookupProfile("Target.Position")
	b := newBase(p, env)
	n, err := b.env.Config.RequireInt(b.key("Bins"))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%s: %w: %s", p.Name, ErrMissingConfig, b.key("Bins"))
	}
	b.nelem = n
	return &TargetPosition{base: b}, nil
}

// Init implements Module.
func (t *TargetPosition) Init(sets []int) error {
	if err := t.setSets(sets); err != nil {
		return err
	}
	lo, hi, err := t.requireRange(t.key("Range"))
	if err != nil {
		return err
	}
	if t.main, err = t.mainHistogram(); err != nil {
		return err
	}
	old, err := t.readN(t.profile.Data[0], t.profile.Defaults[0], 1)
	if err != nil {
		return err
	}
	t.old, t.pos = old[0], old[0]
	t.havePrev = false

	t.series = NewSeries("Target position overview", t.nelem, lo, hi)
	t.series.XLabel, t.series.YLabel = "Target position [cm]", "Pi0 width [MeV]"
	return nil
}

// Fit implements Module.
func (t *TargetPosition) Fit(elem int) []Marker {
	t.proj = t.main.ProjectionX(fmt.Sprintf("ProjHisto_%d", elem), elem)
	t.model = nil
	t.peak, t.sigma = 0, 0
	t.ok = false
	if t.proj.Entries() == 0 {
		return nil
	}

	peak := t.proj.Center(t.proj.MaximumBin())
	if peak < 100 || peak > 160 {
		peak = pi0Nominal
	}

	m := fit.NewPolGaus(fmt.Sprintf("fEnergy_%d", elem), 2, peak-targetFitWindow, peak+targetFitWindow)
	m.SetParameters(3.8e2, -1.90, 0.1, 150, peak, 8.9)
	if p0, p1, ok := FindBackground(t.proj, peak, targetBGWindow, targetBGWindow); ok {
		m.SetParameters(p0, p1)
	}
	m.SetLimits(5, 3, 40)
	m.Fix(2, 0)
	if _, err := m.Fit(t.proj); err != nil {
		monitoring.Logf("%s element %d: %v", t.profile.Name, elem, err)
	}

	t.model = m
	t.peak = clampPi0(m.Param(4))
	t.sigma = m.Param(5)
	t.ok = true
	return []Marker{{Name: "peak", Value: t.peak}, {Name: "sigma", Value: t.sigma}}
}

// widthAccepted reports whether sigma follows prev closely enough to enter
// the overview. The first accepted width is always taken.
func widthAccepted(prev float64, havePrev bool, sigma float64) bool {
	if !havePrev {
		return true
	}
	d := prev - sigma
	if d < 0 {
		d = -d
	}
	return d/sigma < maxWidthChange
}

// Calculate implements Module.
func (t *TargetPosition) Calculate(elem int, markers []Marker) Report {
	r := Report{Element: elem}
	if !t.ok {
		r.Unchanged = true
	} else {
		t.peak = markerValue(markers, "peak", t.peak)
		t.sigma = markerValue(markers, "sigma", t.sigma)
		if finite(t.sigma) && widthAccepted(t.prevSigma, t.havePrev, t.sigma) {
			t.prevSigma, t.havePrev = t.sigma, true
			t.series.Set(elem, t.sigma)
		} else {
			r.Rejected = true
		}
	}
	r.Text = fmt.Sprintf("Element: %03d    Position: %6.2f    Peak: %6.2f    Sigma: %6.2f",
		elem, t.series.X(elem), t.peak, t.sigma)
	return r
}

// Finalize fits a parabola around the smallest width, then refits around the
// first vertex. The second vertex is the target position.
func (t *TargetPosition) Finalize() error {
	t.found = false
	lowest, ok := MinimumPosition(t.series)
	if !ok {
		monitoring.Logf("%s: no accepted widths, keeping %f cm", t.profile.Name, t.old)
		return nil
	}
	v, ok := t.vertex(lowest-targetMinWindow, lowest+targetMinWindow)
	if !ok {
		monitoring.Logf("%s: cannot fit around %f cm, keeping %f cm", t.profile.Name, lowest, t.old)
		return nil
	}
	v2, ok := t.vertex(v-targetRefitWindow, v+targetRefitWindow)
	if !ok {
		monitoring.Logf("%s: cannot refit around %f cm, keeping %f cm", t.profile.Name, v, t.old)
		return nil
	}
	t.pos, t.found = v2, true
	return nil
}

// vertex fits pol2 to the overview points in [lo, hi] and returns its
// extremum. The fitted curve is kept on the series for plotting.
func (t *TargetPosition) vertex(lo, hi float64) (float64, bool) {
	xs, ys := t.series.Points()
	var px, py []float64
	for i, x := range xs {
		if x >= lo && x <= hi {
			px = append(px, x)
			py = append(py, ys[i])
		}
	}
	if len(px) < 3 {
		return 0, false
	}
	c, err := fit.PolyFit(px, py, nil, 2)
	if err != nil {
		return 0, false
	}
	m := fit.NewPol("fResult", 2, lo, hi)
	m.SetParameters(c...)
	t.series.Fit = m

	v := -c[1] / 2 / c[2]
	return v, finite(v)
}

// Summary implements Summarizer.
func (t *TargetPosition) Summary() []string {
	if !t.found {
		return []string{fmt.Sprintf("Target position: %f cm (unchanged)", t.pos)}
	}
	return []string{fmt.Sprintf("Target position: %f cm", t.pos)}
}

// Position returns the current target position.
func (t *TargetPosition) Position() float64 { return t.pos }

// Write implements Module.
func (t *TargetPosition) Write() error {
	return t.write(t.profile.Data[0], []float64{t.pos})
}

// Panels implements Inspectable.
func (t *TargetPosition) Panels() []Panel {
	if t.proj == nil {
		return nil
	}
	p := Panel{Name: t.proj.Name, Hist: t.proj}
	if t.model != nil {
		p.Models = []*fit.Model{t.model}
		p.Markers = []Marker{{Name: "peak", Value: t.peak}}
	}
	return []Panel{p}
}

// Overview implements Inspectable.
func (t *TargetPosition) Overview() []*Series { return []*Series{t.series} }
