// Package fit implements the parametric models used by the calibration
// modules and their chi-square minimisation against binned data.
//
// A Model holds its parameter values, limits and fixes, a fit range, and an
// optional rejection predicate. Points for which the predicate reports true
// are excluded from the chi-square entirely, which is how side-band
// background fits ignore the prompt peak. Minimisation uses gonum's
// Nelder-Mead; bounded parameters are mapped onto an internal unbounded
// variable with the sine transform.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/banshee-data/calib/internal/histo"
)

// ErrNoPoints is returned when the fit range holds fewer usable points than
// there are free parameters.
var ErrNoPoints = errors.New("not enough points in fit range")

// Func evaluates a model at x for parameters p.
type Func func(x float64, p []float64) float64

// Param is a single model parameter.
type Param struct {
	Name  string
	Value float64
	// Lo and Hi bound the parameter when Lo < Hi.
	Lo, Hi float64
	Fixed  bool
}

// Bounded reports whether the parameter has limits.
func (p Param) Bounded() bool { return p.Lo < p.Hi }

// Model is a parametric function with a fit range.
type Model struct {
	Name   string
	Params []Param
	Lo, Hi float64

	// Reject excludes points from the chi-square when it returns true.
	Reject func(x float64) bool

	f Func
}

// New creates a model with n zero-valued parameters over [lo, hi].
func New(name string, f Func, n int, lo, hi float64) *Model {
	m := &Model{Name: name, Params: make([]Param, n), Lo: lo, Hi: hi, f: f}
	for i := range m.Params {
		m.Params[i].Name = fmt.Sprintf("p%d", i)
	}
	return m
}

// NPar returns the number of parameters.
func (m *Model) NPar() int { return len(m.Params) }

// SetParameters sets the leading parameter values.
func (m *Model) SetParameters(vals ...float64) {
	for i, v := range vals {
		if i >= len(m.Params) {
			break
		}
		m.Params[i].Value = v
	}
}

// SetParameter sets parameter i.
func (m *Model) SetParameter(i int, v float64) { m.Params[i].Value = v }

// SetParName names parameter i.
func (m *Model) SetParName(i int, name string) { m.Params[i].Name = name }

// SetLimits bounds parameter i to [lo, hi].
func (m *Model) SetLimits(i int, lo, hi float64) {
	m.Params[i].Lo, m.Params[i].Hi = lo, hi
	m.Params[i].Fixed = false
}

// Fix fixes parameter i at v.
func (m *Model) Fix(i int, v float64) {
	m.Params[i].Value = v
	m.Params[i].Fixed = true
}

// Release frees a fixed parameter.
func (m *Model) Release(i int) { m.Params[i].Fixed = false }

// Param returns the value of parameter i.
func (m *Model) Param(i int) float64 { return m.Params[i].Value }

// Values returns a copy of all parameter values.
func (m *Model) Values() []float64 {
	out := make([]float64, len(m.Params))
	for i, p := range m.Params {
		out[i] = p.Value
	}
	return out
}

// SetRange sets the fit range.
func (m *Model) SetRange(lo, hi float64) { m.Lo, m.Hi = lo, hi }

// Eval evaluates the model at x with its current parameters.
func (m *Model) Eval(x float64) float64 { return m.f(x, m.Values()) }

// Integral integrates the model over [a, b].
func (m *Model) Integral(a, b float64) float64 {
	p := m.Values()
	return quad.Fixed(func(x float64) float64 { return m.f(x, p) }, a, b, 200, nil, 0)
}

// Fit fits the model to the histogram bins whose centre lies in the fit
// range. Empty bins are skipped and bin errors come from the stored sum of
// squared weights.
func (m *Model) Fit(h *histo.H1) (Result, error) {
	var xs, ys, es []float64
	for i := 0; i < h.Len(); i++ {
		c := h.Content(i)
		if c == 0 {
			continue
		}
		xs = append(xs, h.Center(i))
		ys = append(ys, c)
		es = append(es, h.Error(i))
	}
	return m.FitPoints(xs, ys, es)
}

// FitRetry repeats Fit up to attempts times until it converges and returns the
// last result.
func (m *Model) FitRetry(h *histo.H1, attempts int) (Result, error) {
	var (
		res Result
		err error
	)
	for i := 0; i < attempts; i++ {
		res, err = m.Fit(h)
		if err != nil {
			return res, err
		}
		if res.Converged {
			break
		}
	}
	return res, err
}

// String formats the model name and parameter values.
func (m *Model) String() string {
	s := m.Name + ":"
	for _, p := range m.Params {
		s += fmt.Sprintf(" %s=%g", p.Name, p.Value)
	}
	return s
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
