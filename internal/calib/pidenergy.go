package calib

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/monitoring"
)

// pidPeakWindow is the half width, in sigmas, of the second Gaussian pass.
const pidPeakWindow = 2

// PIDEnergy calibrates PID pedestals and gains from the positions of the
// proton energy-loss peaks. Each fitted ADC peak is paired with the energy
// deposit of the same peak in simulation and a straight line through the
// pairs gives E = gain (ADC - pedestal).
type PIDEnergy struct {
	base

	main    *histo.H2
	mc      *histo.H2
	windows []window
	// mcWindows are set when the simulated deposits are fitted per element.
	mcWindows []window
	mcPeaks   []float64

	oldPed, oldGain []float64
	ped, gain       []float64
	series          *Series

	proj   *histo.H1
	models []*fit.Model
	peaks  []float64
	sigmas []float64
	mcE    []float64
	ok     bool
}

// NewPIDEnergy creates the PID energy module.
func NewPIDEnergy(env Env) *PIDEnergy {
	p, _ := LookupProfile("PID.Energy")
	return &PIDEnergy{base: newBase(p, env)}
}

// Init implements Module.
func (p *PIDEnergy) Init(sets []int) error {
	if err := p.setSets(sets); err != nil {
		return err
	}
	n, err := p.env.Config.RequireInt(p.key("Peaks"))
	if err != nil || n < 2 {
		return fmt.Errorf("%s: %w: %s (need at least 2 peaks)", p.profile.Name, ErrMissingConfig, p.key("Peaks"))
	}
	p.windows = make([]window, n)
	for i := range p.windows {
		lo, hi, err := p.requireRange(p.key(fmt.Sprintf("Peak.%d.Range", i)))
		if err != nil {
			return err
		}
		p.windows[i] = window{lo, hi}
	}

	if p.main, err = p.mainHistogram(); err != nil {
		return err
	}
	if err := p.initMC(n); err != nil {
		return err
	}

	if p.oldPed, err = p.read(p.profile.Data[0], p.profile.Defaults[0]); err != nil {
		return err
	}
	if p.oldGain, err = p.read(p.profile.Data[1], p.profile.Defaults[1]); err != nil {
		return err
	}
	p.ped = append([]float64(nil), p.oldPed...)
	p.gain = append([]float64(nil), p.oldGain...)

	p.series = NewSeries("PID gain overview", p.nelem, 0, float64(p.nelem))
	p.series.XLabel, p.series.YLabel = "Element", "Gain [MeV/channel]"
	return nil
}

// initMC reads either the simulated histogram and its peak windows or the
// fixed list of simulated deposits.
func (p *PIDEnergy) initMC(n int) error {
	p.mc, p.mcWindows, p.mcPeaks = nil, nil, nil
	if name, ok := p.env.Config.String(p.key("MC.Histo.Name")); ok && name != "" {
		h, err := p.h2(name)
		if err != nil {
			return err
		}
		p.mc = h
		p.mcWindows = make([]window, n)
		for i := range p.mcWindows {
			lo, hi, err := p.requireRange(p.key(fmt.Sprintf("MC.Peak.%d.Range", i)))
			if err != nil {
				return err
			}
			p.mcWindows[i] = window{lo, hi}
		}
		return nil
	}
	peaks, ok := p.env.Config.Floats(p.key("MC.Peaks"))
	if !ok || len(peaks) < n {
		return fmt.Errorf("%s: %w: %s (need %d values)", p.profile.Name, ErrMissingConfig, p.key("MC.Peaks"), n)
	}
	p.mcPeaks = peaks[:n]
	return nil
}

// fitPeak fits a Gaussian in w, then again within pidPeakWindow sigmas of
// the first mean.
func fitPeak(name string, h *histo.H1, w window) (*fit.Model, bool) {
	i := h.MaximumBinIn(w.lo, w.hi)
	m := fit.NewGaus(name, w.lo, w.hi)
	m.SetParameters(h.Content(i), h.Center(i), (w.hi-w.lo)/4)
	m.SetLimits(1, w.lo, w.hi)
	m.SetLimits(2, 0, w.hi-w.lo)
	if _, err := m.Fit(h); err != nil {
		monitoring.Logf("%s: %v", name, err)
		return m, false
	}
	mean, sigma := m.Param(1), m.Param(2)
	m.SetRange(mean-pidPeakWindow*sigma, mean+pidPeakWindow*sigma)
	if _, err := m.Fit(h); err != nil {
		monitoring.Logf("%s: %v", name, err)
		return m, false
	}
	return m, finite(m.Param(1)) && finite(m.Param(2))
}

// Fit implements Module.
func (p *PIDEnergy) Fit(elem int) []Marker {
	p.proj = p.main.ProjectionX(fmt.Sprintf("ProjHisto_%d", elem), elem)
	p.models = nil
	p.peaks, p.sigmas, p.mcE = nil, nil, nil
	p.ok = false
	if p.proj.Entries() == 0 {
		return nil
	}

	p.mcE = p.mcEnergies(elem)
	var markers []Marker
	for i, w := range p.windows {
		m, ok := fitPeak(fmt.Sprintf("fPeak_%d_%d", elem, i), p.proj, w)
		p.models = append(p.models, m)
		pos, sigma := m.Param(1), m.Param(2)
		if !ok {
			pos = 0
		}
		p.peaks = append(p.peaks, pos)
		p.sigmas = append(p.sigmas, sigma)
		markers = append(markers, Marker{Name: fmt.Sprintf("peak%d", i), Value: pos})
	}
	p.ok = true
	return markers
}

// mcEnergies returns the simulated deposit of each peak for elem.
func (p *PIDEnergy) mcEnergies(elem int) []float64 {
	if p.mc == nil {
		return p.mcPeaks
	}
	h := p.mc.ProjectionX(fmt.Sprintf("ProjHistoMC_%d", elem), elem)
	out := make([]float64, len(p.mcWindows))
	for i, w := range p.mcWindows {
		if h.Entries() == 0 {
			out[i] = 0
			continue
		}
		m, ok := fitPeak(fmt.Sprintf("fPeakMC_%d_%d", elem, i), h, w)
		if ok {
			out[i] = m.Param(1)
		}
	}
	return out
}

// LinearCalibration fits E = alpha + beta*ADC through the peak pairs with
// weights w and returns pedestal -alpha/beta and gain beta.
func LinearCalibration(adc, energy, w []float64) (ped, gain float64, ok bool) {
	if len(adc) < 2 {
		return 0, 0, false
	}
	alpha, beta := stat.LinearRegression(adc, energy, w, false)
	ped, gain = -alpha/beta, beta
	if beta == 0 || !finite(ped) || !finite(gain) {
		return 0, 0, false
	}
	return ped, gain, true
}

// Calculate implements Module.
func (p *PIDEnergy) Calculate(elem int, markers []Marker) Report {
	r := Report{Element: elem}

	var adc, energy, w []float64
	if p.ok {
		for i := range p.peaks {
			pos := markerValue(markers, fmt.Sprintf("peak%d", i), p.peaks[i])
			p.peaks[i] = pos
			if pos == 0 || !finite(pos) || i >= len(p.mcE) || p.mcE[i] == 0 {
				continue
			}
			weight := 1.0
			if s := p.sigmas[i]; s > 0 && finite(s) {
				weight = 1 / (s * s)
			}
			adc = append(adc, pos)
			energy = append(energy, p.mcE[i])
			w = append(w, weight)
		}
	}

	ped, gain, ok := LinearCalibration(adc, energy, w)
	if ok {
		p.ped[elem], p.gain[elem] = ped, gain
		p.series.Set(elem, gain)
	} else {
		p.ped[elem], p.gain[elem] = p.oldPed[elem], p.oldGain[elem]
		r.Unchanged = true
	}

	var peaks strings.Builder
	for _, pos := range p.peaks {
		fmt.Fprintf(&peaks, " %8.2f", pos)
	}
	r.Text = fmt.Sprintf("Element: %03d    Peaks:%s    old ped: %12.8f    new ped: %12.8f    old gain: %12.8f    new gain: %12.8f",
		elem, peaks.String(), p.oldPed[elem], p.ped[elem], p.oldGain[elem], p.gain[elem])
	return r
}

// Finalize implements Module.
func (p *PIDEnergy) Finalize() error { return nil }

// Write implements Module.
func (p *PIDEnergy) Write() error {
	if err := p.write(p.profile.Data[0], p.ped); err != nil {
		return err
	}
	return p.write(p.profile.Data[1], p.gain)
}

// Values returns the current pedestal and gain arrays.
func (p *PIDEnergy) Values() (ped, gain []float64) { return p.ped, p.gain }

// Panels implements Inspectable.
func (p *PIDEnergy) Panels() []Panel {
	if p.proj == nil {
		return nil
	}
	panel := Panel{Name: p.proj.Name, Hist: p.proj, Models: p.models}
	for i, pos := range p.peaks {
		panel.Markers = append(panel.Markers, Marker{Name: fmt.Sprintf("peak%d", i), Value: pos})
	}
	return []Panel{panel}
}

// Overview implements Inspectable.
func (p *PIDEnergy) Overview() []*Series { return []*Series{p.series} }
