package calib

import (
	"fmt"
	"math"

	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/monitoring"
)

const (
	quadFitAttempts = 10
	// etaSearchLo and etaSearchHi bound the search for the eta seed.
	etaSearchLo = 500
	etaSearchHi = 600
	etaFitMinHi = 690
)

// window is a closed invariant mass interval.
type window struct{ lo, hi float64 }

// inside reports whether x lies strictly inside w.
func (w window) inside(x float64) bool { return x > w.lo && x < w.hi }

// QuadEnergy derives the quadratic CB energy correction
// E' = E (par0 + par1 E) from the pi0 and eta invariant mass peaks and the
// background subtracted mean photon energies of both mesons.
type QuadEnergy struct {
	base

	main      *histo.H2
	meanPi0   *histo.H2
	meanEta   *histo.H2
	meanPi0BG *histo.H2
	meanEtaBG *histo.H2

	pi0Prompt, pi0BG1, pi0BG2 window
	etaPrompt, etaBG1, etaBG2 window

	par0 []float64
	par1 []float64

	holes     Geometry
	pi0Series *Series
	etaSeries *Series

	// current element
	imPi0, imEta   *histo.H1
	mePi0, meEta   *histo.H1
	pi0Fit, etaFit *fit.Model
	pi0BG, etaBG   *fit.Model
	pi0Pos, etaPos float64
	pi0E, etaE     float64
	ok             bool
}

// NewQuadEnergy creates the CB quadratic energy correction module.
func NewQuadEnergy(env Env) *QuadEnergy {
	p, _ := LookupProfile("CB.QuadEnergy")
	return &QuadEnergy{base: newBase(p, env)}
}

// Init implements Module.
func (q *QuadEnergy) Init(sets []int) error {
	if err := q.setSets(sets); err != nil {
		return err
	}
	pi0Name, err := q.requireString(q.key("Histo.MeanE.Pi0.Name"))
	if err != nil {
		return err
	}
	etaName, err := q.requireString(q.key("Histo.MeanE.Eta.Name"))
	if err != nil {
		return err
	}

	ranges := []struct {
		key string
		w   *window
	}{
		{"Pi0.Prompt.Range", &q.pi0Prompt},
		{"Pi0.BG1.Range", &q.pi0BG1},
		{"Pi0.BG2.Range", &q.pi0BG2},
		{"Eta.Prompt.Range", &q.etaPrompt},
		{"Eta.BG1.Range", &q.etaBG1},
		{"Eta.BG2.Range", &q.etaBG2},
	}
	for _, r := range ranges {
		lo, hi, err := q.requireRange(q.key(r.key))
		if err != nil {
			return err
		}
		*r.w = window{lo, hi}
	}

	if q.main, err = q.mainHistogram(); err != nil {
		return err
	}
	if q.meanPi0, err = q.h2(pi0Name + "_Prompt"); err != nil {
		return err
	}
	if q.meanEta, err = q.h2(etaName + "_Prompt"); err != nil {
		return err
	}
	if q.meanPi0BG, err = q.h2(pi0Name + "_BG"); err != nil {
		return err
	}
	if q.meanEtaBG, err = q.h2(etaName + "_BG"); err != nil {
		return err
	}

	if q.par0, err = q.read(q.profile.Data[0], q.profile.Defaults[0]); err != nil {
		return err
	}
	if q.par1, err = q.read(q.profile.Data[1], q.profile.Defaults[1]); err != nil {
		return err
	}

	q.holes = NewGeometry(q.env.Config.GetHoles())
	q.pi0Series = NewSeries("Pi0 position overview", q.nelem, 0, float64(q.nelem))
	q.pi0Series.XLabel, q.pi0Series.YLabel = "Element", "Pi0 peak position [MeV]"
	q.etaSeries = NewSeries("Eta position overview", q.nelem, 0, float64(q.nelem))
	q.etaSeries.XLabel, q.etaSeries.YLabel = "Element", "Eta peak position [MeV]"
	return nil
}

// Fit implements Module.
func (q *QuadEnergy) Fit(elem int) []Marker {
	q.imPi0 = q.main.ProjectionX(fmt.Sprintf("ProjHisto_%d", elem), elem)
	q.imEta = q.imPi0.Clone(fmt.Sprintf("ProjHisto_%db", elem))
	q.mePi0 = q.meanPi0.ProjectionX(fmt.Sprintf("ProjHistoMeanPi0_%d", elem), elem)
	q.meEta = q.meanEta.ProjectionX(fmt.Sprintf("ProjHistoMeanEta_%d", elem), elem)
	mePi0BG := q.meanPi0BG.ProjectionX(fmt.Sprintf("ProjHistoMeanPi0BG_%d", elem), elem)
	meEtaBG := q.meanEtaBG.ProjectionX(fmt.Sprintf("ProjHistoMeanEtaBG_%d", elem), elem)

	q.pi0Fit, q.etaFit, q.pi0BG, q.etaBG = nil, nil, nil, nil
	q.pi0Pos, q.etaPos, q.pi0E, q.etaE = 0, 0, 0, 0
	q.ok = false
	if q.imPi0.Entries() == 0 {
		return nil
	}

	pi0Lo, pi0Hi := q.pi0Prompt.lo-10, q.pi0Prompt.hi+20
	etaLo, etaHi := q.etaBG1.lo, math.Max(q.etaBG2.hi, etaFitMinHi)
	etaSeed := q.imEta.Center(q.imEta.MaximumBinIn(etaSearchLo, etaSearchHi))
	ymax := q.imPi0.Maximum()

	q.pi0BG = q.fitBackground(fmt.Sprintf("fPi0_BG_%d", elem), q.imPi0, 1, pi0Lo, pi0Hi, q.pi0Prompt)
	q.etaBG = q.fitBackground(fmt.Sprintf("fEta_BG_%d", elem), q.imEta, 2, etaLo, etaHi, q.etaPrompt)

	q.pi0Fit = fit.NewGausPol(fmt.Sprintf("fPi0_%d", elem), 1, pi0Lo, pi0Hi)
	q.pi0Fit.SetParameters(ymax, 135, 10)
	q.pi0Fit.SetLimits(0, 0, 1e6)
	q.pi0Fit.SetLimits(1, 120, 140)
	q.pi0Fit.SetLimits(2, 0, 40)
	q.pi0Fit.Fix(3, q.pi0BG.Param(0))
	q.pi0Fit.Fix(4, q.pi0BG.Param(1))

	q.etaFit = fit.NewGausPol(fmt.Sprintf("fEta_%d", elem), 2, etaLo, etaHi)
	q.etaFit.SetParameters(ymax, etaSeed, 15)
	q.etaFit.SetLimits(0, 1, ymax+1)
	q.etaFit.SetLimits(1, 520, 580)
	q.etaFit.SetLimits(2, 1, 50)
	for i := 0; i < 3; i++ {
		q.etaFit.Fix(3+i, q.etaBG.Param(i))
	}

	if _, err := q.pi0Fit.FitRetry(q.imPi0, quadFitAttempts); err != nil {
		monitoring.Logf("%s element %d: pi0 fit: %v", q.profile.Name, elem, err)
	}
	if _, err := q.etaFit.FitRetry(q.imEta, quadFitAttempts); err != nil {
		monitoring.Logf("%s element %d: eta fit: %v", q.profile.Name, elem, err)
	}

	pi0Factor := q.subtractionFactor(q.imPi0, q.pi0BG, q.pi0Prompt, q.pi0BG1, q.pi0BG2)
	etaFactor := q.subtractionFactor(q.imEta, q.etaBG, q.etaPrompt, q.etaBG1, q.etaBG2)
	q.subtract(q.mePi0, mePi0BG, pi0Factor)
	q.subtract(q.meEta, meEtaBG, etaFactor)

	q.pi0Pos = clampPi0(q.pi0Fit.Param(1))
	q.etaPos = clampEta(q.etaFit.Param(1))
	q.pi0E = q.mePi0.Mean()
	q.etaE = q.meEta.Mean()
	q.ok = true

	return []Marker{{Name: "pi0", Value: q.pi0Pos}, {Name: "eta", Value: q.etaPos}}
}

// fitBackground fits a polynomial to h over [lo, hi] ignoring the prompt
// window. The returned model no longer rejects points.
func (q *QuadEnergy) fitBackground(name string, h *histo.H1, degree int, lo, hi float64, prompt window) *fit.Model {
	m := fit.NewPol(name, degree, lo, hi)
	m.Reject = prompt.inside
	if _, err := m.FitLinear(h); err != nil {
		monitoring.Logf("%s: background fit %s: %v", q.profile.Name, name, err)
	}
	m.Reject = nil
	return m
}

// subtractionFactor returns the scale applied to the side-band energy
// histogram: the background under the prompt peak over the side-band
// content. A non-finite factor disables the subtraction.
func (q *QuadEnergy) subtractionFactor(h *histo.H1, bg *fit.Model, prompt, bg1, bg2 window) float64 {
	sig := bg.Integral(prompt.lo, prompt.hi)
	side := h.IntegralWidth(h.FindBin(bg1.lo), h.FindBin(bg1.hi)) +
		h.IntegralWidth(h.FindBin(bg2.lo), h.FindBin(bg2.hi))
	f := -sig / side
	if !finite(f) {
		monitoring.Logf("%s %s: empty side-bands, background not subtracted", q.profile.Name, h.Name)
		return 0
	}
	return f
}

func (q *QuadEnergy) subtract(h, bg *histo.H1, factor float64) {
	if err := h.Add(bg, factor); err != nil {
		monitoring.Logf("%s: %v", q.profile.Name, err)
	}
	h.ClampNegative()
}

// Calculate implements Module.
func (q *QuadEnergy) Calculate(elem int, markers []Marker) Report {
	r := Report{Element: elem, Hole: q.holes.IsHole(elem)}

	if q.ok {
		q.pi0Pos = markerValue(markers, "pi0", q.pi0Pos)
		q.etaPos = markerValue(markers, "eta", q.etaPos)
		par0, par1 := QuadCoefficients(q.pi0Pos, q.etaPos, q.pi0E, q.etaE)
		if !finite(par0) || !finite(par1) {
			par0, par1 = 1, 0
			r.NoCorrection = true
		}
		q.par0[elem], q.par1[elem] = par0, par1
		q.pi0Series.Set(elem, q.pi0Pos)
		q.etaSeries.Set(elem, q.etaPos)
	} else {
		q.par0[elem], q.par1[elem] = 1, 0
		r.NoCorrection = true
	}

	r.Text = fmt.Sprintf("Element: %03d    Pi0 Pos.: %6.2f    Pi0 ME: %6.2f    "+
		"Eta Pos.: %6.2f    Eta ME: %6.2f    Par0: %12.8f    Par1: %e",
		elem, q.pi0Pos, q.pi0E, q.etaPos, q.etaE, q.par0[elem], q.par1[elem])
	return r
}

// QuadCoefficients solves for the correction E' = E (par0 + par1 E) that maps
// the measured pi0 and eta positions onto their masses, given the mean photon
// energies of both mesons.
func QuadCoefficients(pi0Pos, etaPos, pi0E, etaE float64) (par0, par1 float64) {
	r := etaE / pi0E
	a := MassPi0 / pi0Pos
	b := MassEta / etaPos
	par0 = (b - r*a) / (1 - r)
	par1 = (a - par0) / pi0E
	return par0, par1
}

// Finalize implements Module.
func (q *QuadEnergy) Finalize() error { return nil }

// Write implements Module.
func (q *QuadEnergy) Write() error {
	if err := q.write(q.profile.Data[0], q.par0); err != nil {
		return err
	}
	return q.write(q.profile.Data[1], q.par1)
}

// Values returns the current par0 and par1 arrays.
func (q *QuadEnergy) Values() (par0, par1 []float64) { return q.par0, q.par1 }

// Panels implements Inspectable.
func (q *QuadEnergy) Panels() []Panel {
	if q.imPi0 == nil {
		return nil
	}
	pi0 := Panel{Name: q.imPi0.Name, Hist: q.imPi0}
	eta := Panel{Name: q.imEta.Name, Hist: q.imEta}
	mePi0 := Panel{Name: q.mePi0.Name, Hist: q.mePi0}
	meEta := Panel{Name: q.meEta.Name, Hist: q.meEta}
	if q.ok {
		pi0.Models = []*fit.Model{q.pi0Fit, q.pi0BG}
		pi0.Markers = []Marker{{Name: "pi0", Value: q.pi0Pos}}
		eta.Models = []*fit.Model{q.etaFit, q.etaBG}
		eta.Markers = []Marker{{Name: "eta", Value: q.etaPos}}
		mePi0.Markers = []Marker{{Name: "mean", Value: q.pi0E}}
		meEta.Markers = []Marker{{Name: "mean", Value: q.etaE}}
	}
	return []Panel{pi0, eta, mePi0, meEta}
}

// Overview implements Inspectable.
func (q *QuadEnergy) Overview() []*Series { return []*Series{q.pi0Series, q.etaSeries} }
