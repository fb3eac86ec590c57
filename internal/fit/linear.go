package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/calib/internal/histo"
)

// PolyFit returns the weighted least-squares polynomial coefficients of the
// given degree through (xs, ys). A nil ws weighs every point equally.
func PolyFit(xs, ys, ws []float64, degree int) ([]float64, error) {
	k := degree + 1
	design := make([][]float64, len(xs))
	for i, x := range xs {
		row := make([]float64, k)
		xp := 1.0
		for j := range row {
			row[j] = xp
			xp *= x
		}
		design[i] = row
	}
	c, err := solveLinear(design, ys, ws)
	if err != nil {
		return nil, fmt.Errorf("polynomial of degree %d: %w", degree, err)
	}
	return c, nil
}

// FitLinear fits a model that is linear in its free parameters by weighted
// linear least squares over the same points Fit would use. Limits are
// ignored; fixed parameters are honoured.
func (m *Model) FitLinear(h *histo.H1) (Result, error) {
	free := m.freeIndices()
	p := m.Values()

	basis := func(x float64, j int) float64 {
		q := make([]float64, len(p))
		q[j] = 1
		return m.f(x, q)
	}
	fixedPart := func(x float64) float64 {
		q := make([]float64, len(p))
		for i, par := range m.Params {
			if par.Fixed {
				q[i] = par.Value
			}
		}
		return m.f(x, q)
	}

	var (
		design [][]float64
		ys, ws []float64
	)
	for i := 0; i < h.Len(); i++ {
		c := h.Content(i)
		x := h.Center(i)
		if c == 0 || (m.Lo < m.Hi && (x < m.Lo || x > m.Hi)) {
			continue
		}
		if m.Reject != nil && m.Reject(x) {
			continue
		}
		row := make([]float64, len(free))
		for k, j := range free {
			row[k] = basis(x, j)
		}
		e := h.Error(i)
		if e <= 0 {
			e = 1
		}
		design = append(design, row)
		ys = append(ys, c-fixedPart(x))
		ws = append(ws, 1/(e*e))
	}

	res := Result{NDF: len(ys) - len(free)}
	if len(free) > 0 {
		c, err := solveLinear(design, ys, ws)
		if err != nil {
			return res, fmt.Errorf("%s: %w", m.Name, err)
		}
		for k, j := range free {
			m.Params[j].Value = c[k]
		}
	}

	res.Chi2 = m.chi2Hist(h, m.Values())
	res.Converged = finite(res.Chi2)
	return res, nil
}

// chi2Hist evaluates the chi-square of the model over the histogram points
// selected by range and rejection.
func (m *Model) chi2Hist(h *histo.H1, p []float64) float64 {
	var s float64
	for i := 0; i < h.Len(); i++ {
		c := h.Content(i)
		x := h.Center(i)
		if c == 0 || (m.Lo < m.Hi && (x < m.Lo || x > m.Hi)) {
			continue
		}
		if m.Reject != nil && m.Reject(x) {
			continue
		}
		e := h.Error(i)
		if e <= 0 {
			e = 1
		}
		d := (c - m.f(x, p)) / e
		s += d * d
	}
	return s
}

// solveLinear solves the weighted least-squares problem design*c = ys.
func solveLinear(design [][]float64, ys, ws []float64) ([]float64, error) {
	n := len(design)
	if n == 0 {
		return nil, fmt.Errorf("%w (0 points)", ErrNoPoints)
	}
	k := len(design[0])
	if n < k {
		return nil, fmt.Errorf("%w (%d points, %d parameters)", ErrNoPoints, n, k)
	}
	a := mat.NewDense(n, k, nil)
	b := mat.NewVecDense(n, nil)
	for i, row := range design {
		w := 1.0
		if ws != nil {
			w = math.Sqrt(ws[i])
		}
		for j, v := range row {
			a.Set(i, j, w*v)
		}
		b.SetVec(i, w*ys[i])
	}
	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("least squares: %w", err)
	}
	out := make([]float64, k)
	for j := range out {
		out[j] = c.AtVec(j)
	}
	return out, nil
}
