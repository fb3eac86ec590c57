package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Result summarises a fit.
type Result struct {
	Chi2        float64
	NDF         int
	Converged   bool
	Evaluations int
}

const (
	maxRestarts     = 5
	maxEvaluations  = 20000
	simplexSize     = 0.1
	restartRelative = 1e-9
	badChi2         = 1e300
)

// FitPoints fits the model to (x, y) points with errors e. Points outside the
// fit range or rejected by the model are ignored. Zero or missing errors
// count as unit errors.
func (m *Model) FitPoints(xs, ys, es []float64) (Result, error) {
	var px, py, pw []float64
	for i, x := range xs {
		if m.Lo < m.Hi && (x < m.Lo || x > m.Hi) {
			continue
		}
		if m.Reject != nil && m.Reject(x) {
			continue
		}
		e := 1.0
		if i < len(es) && es[i] > 0 {
			e = es[i]
		}
		px = append(px, x)
		py = append(py, ys[i])
		pw = append(pw, 1/(e*e))
	}

	free := m.freeIndices()
	if len(px) == 0 || len(px) < len(free) {
		return Result{}, fmt.Errorf("%s: %w (%d points, %d free parameters)", m.Name, ErrNoPoints, len(px), len(free))
	}

	params := m.Values()
	chi2 := func(p []float64) float64 {
		var s float64
		for i, x := range px {
			d := py[i] - m.f(x, p)
			s += d * d * pw[i]
		}
		if !finite(s) {
			return badChi2
		}
		return s
	}

	res := Result{NDF: len(px) - len(free)}
	if len(free) == 0 {
		res.Chi2 = chi2(params)
		res.Converged = true
		return res, nil
	}

	best := chi2(params)
	for run := 0; run < maxRestarts; run++ {
		tr := newTransform(m.Params, free, params)
		problem := optimize.Problem{
			Func: func(u []float64) float64 {
				return chi2(tr.external(u))
			},
		}
		settings := &optimize.Settings{
			FuncEvaluations: maxEvaluations,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-12,
				Relative:   1e-12,
				Iterations: 200,
			},
		}
		r, err := optimize.Minimize(problem, tr.start(), settings, &optimize.NelderMead{SimplexSize: simplexSize})
		if r == nil {
			return res, fmt.Errorf("%s: minimisation failed: %w", m.Name, err)
		}
		res.Evaluations += r.Stats.FuncEvaluations
		res.Converged = err == nil && r.Status != optimize.FunctionEvaluationLimit &&
			r.Status != optimize.IterationLimit && r.Status != optimize.Failure

		improved := best - r.F
		if r.F < best {
			best = r.F
			params = tr.external(r.X)
		}
		if improved <= restartRelative*(1+math.Abs(best)) {
			break
		}
	}

	for i := range m.Params {
		m.Params[i].Value = params[i]
	}
	res.Chi2 = best
	if best >= badChi2 {
		res.Converged = false
	}
	return res, nil
}

func (m *Model) freeIndices() []int {
	var free []int
	for i, p := range m.Params {
		if !p.Fixed {
			free = append(free, i)
		}
	}
	return free
}

// transform maps the free parameters onto an unbounded internal space.
// Bounded parameters use p = lo + (hi-lo)(sin(u)+1)/2; the others are
// shifted and scaled around their start value.
type transform struct {
	params []Param
	free   []int
	origin []float64
	scale  []float64
	fixed  []float64
}

func newTransform(params []Param, free []int, values []float64) *transform {
	t := &transform{
		params: params,
		free:   free,
		origin: make([]float64, len(free)),
		scale:  make([]float64, len(free)),
		fixed:  append([]float64(nil), values...),
	}
	for k, i := range free {
		t.origin[k] = values[i]
		s := math.Abs(values[i])
		if s == 0 {
			s = 1
		}
		t.scale[k] = s
	}
	return t
}

func (t *transform) start() []float64 {
	u := make([]float64, len(t.free))
	for k, i := range t.free {
		p := t.params[i]
		if !p.Bounded() {
			continue
		}
		v := math.Min(math.Max(t.origin[k], p.Lo), p.Hi)
		u[k] = math.Asin(2*(v-p.Lo)/(p.Hi-p.Lo) - 1)
	}
	return u
}

func (t *transform) external(u []float64) []float64 {
	out := append([]float64(nil), t.fixed...)
	for k, i := range t.free {
		p := t.params[i]
		if p.Bounded() {
			out[i] = p.Lo + (p.Hi-p.Lo)*(math.Sin(u[k])+1)/2
		} else {
			out[i] = t.origin[k] + t.scale[k]*u[k]
		}
	}
	return out
}
