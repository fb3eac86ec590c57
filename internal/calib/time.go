package calib

import (
	"errors"
	"fmt"

	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/monitoring"
	"github.com/banshee-data/calib/internal/store"
)

// Time fit windows in channels.
const (
	timePeakWindow  = 3.8
	timeSigmaWindow = 2.5
	timeMeanLimit   = 2
	timeSigmaSeed   = 8
)

// Time calibrates per-element time offsets (or rise times) from the position
// of the prompt peak in the time spectrum.
type Time struct {
	base

	main *histo.H2
	old  []float64
	new  []float64
	gain []float64

	holes  Geometry
	series *Series

	proj  *histo.H1
	model *fit.Model
	ok    bool
}

// NewTime creates a time module for p.
func NewTime(p Profile, env Env) *Time {
	return &Time{base: newBase(p, env)}
}

// Init implements Module.
func (t *Time) Init(sets []int) error {
	if err := t.setSets(sets); err != nil {
		return err
	}
	h, err := t.mainHistogram()
	if err != nil {
		return err
	}
	t.main = h

	kind := t.profile.Data[0]
	if t.old, err = t.read(kind, t.profile.Defaults[0]); err != nil {
		return err
	}
	t.new = append([]float64(nil), t.old...)

	if err := t.initGain(); err != nil {
		return err
	}
	if t.profile.MarkHoles {
		t.holes = NewGeometry(t.env.Config.GetHoles())
	}

	t.series = NewSeries(t.profile.Name+"_Overview", t.nelem, 0, float64(t.nelem))
	t.series.XLabel = "Element"
	t.series.YLabel = "Peak position"
	return nil
}

func (t *Time) initGain() error {
	t.gain = make([]float64, t.nelem)
	switch t.profile.Gain {
	case GainNone:
		for i := range t.gain {
			t.gain[i] = 1
		}
	case GainConfig:
		g := t.env.Config.GetTDCGain(t.profile.Name)
		for i := range t.gain {
			t.gain[i] = g
		}
	case GainStored:
		vals, err := t.env.Store.ReadParameters(t.profile.GainData, t.env.Calibration, t.sets[0], t.nelem)
		if errors.Is(err, store.ErrNoParameters) {
			g := t.env.Config.GetTDCGain(t.profile.Name)
			monitoring.Logf("no stored gains for %s, using %g ns/channel", t.profile.GainData, g)
			for i := range t.gain {
				t.gain[i] = g
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: read %s: %w", t.profile.Name, t.profile.GainData, err)
		}
		copy(t.gain, vals)
	}
	return nil
}

// Fit implements Module.
func (t *Time) Fit(elem int) []Marker {
	t.proj = t.main.ProjectionX(fmt.Sprintf("%s_%03d", t.main.Name, elem), elem)
	t.model = nil
	t.ok = false
	if t.proj.Entries() == 0 {
		return nil
	}

	maxPos := t.proj.Center(t.proj.MaximumBin())
	m := fit.NewPolGaus(t.profile.Name+"_Fit", 1, maxPos-timePeakWindow, maxPos+timePeakWindow)
	m.SetParameters(1, 0.1, t.proj.Maximum(), maxPos, timeSigmaSeed)
	m.SetLimits(3, maxPos-timeMeanLimit, maxPos+timeMeanLimit)
	m.SetLimits(4, t.profile.SigmaLo, t.profile.SigmaHi)
	if t.profile.Background == BackgroundNone {
		m.Fix(0, 0)
		m.Fix(1, 0)
	}

	if _, err := m.Fit(t.proj); err != nil {
		monitoring.Logf("%s element %d: first pass: %v", t.profile.Name, elem, err)
	}
	// The second pass always runs, from the seeds when the first one failed.
	mean, sigma := m.Param(3), m.Param(4)
	if !finite(mean) || !finite(sigma) || sigma <= 0 {
		mean, sigma = maxPos, timeSigmaSeed
	}
	m.SetRange(mean-timeSigmaWindow*sigma, mean+timeSigmaWindow*sigma)
	if _, err := m.Fit(t.proj); err != nil {
		monitoring.Logf("%s element %d: second pass: %v", t.profile.Name, elem, err)
	}

	t.model = m
	t.ok = true
	return []Marker{{Name: "peak", Value: m.Param(3)}}
}

// Calculate implements Module.
func (t *Time) Calculate(elem int, markers []Marker) Report {
	old := t.old[elem]
	r := Report{Element: elem, Hole: t.profile.MarkHoles && t.holes.IsHole(elem)}

	var mean float64
	if !t.ok {
		r.Unchanged = true
		t.new[elem] = old
	} else {
		mean = markerValue(markers, "peak", t.model.Param(3))
		v := old + mean/t.gain[elem]
		if finite(v) {
			t.series.Set(elem, mean)
		} else {
			r.Unchanged = true
			v = old
		}
		t.new[elem] = v
	}

	label := t.profile.Label
	r.Text = fmt.Sprintf("Element: %03d    Peak: %12.8f    old %s: %12.8f    new %s: %12.8f    diff: %6.2f %%",
		elem, mean, label, old, label, t.new[elem], DiffPercent(old, t.new[elem]))
	return r
}

// Finalize implements Module.
func (t *Time) Finalize() error { return nil }

// Write implements Module.
func (t *Time) Write() error {
	return t.write(t.profile.Data[0], t.new)
}

// Values returns the current constant array.
func (t *Time) Values() []float64 { return t.new }

// Panels implements Inspectable.
func (t *Time) Panels() []Panel {
	if t.proj == nil {
		return nil
	}
	p := Panel{Name: t.proj.Name, Hist: t.proj}
	if t.model != nil {
		p.Models = []*fit.Model{t.model}
		p.Markers = []Marker{{Name: "peak", Value: t.model.Param(3)}}
	}
	return []Panel{p}
}

// Overview implements Inspectable.
func (t *Time) Overview() []*Series { return []*Series{t.series} }
