package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calib/internal/histo"
)

// gausHist builds a histogram holding an exact Gaussian shape plus a linear
// background evaluated at the bin centres.
func gausHist(n int, lo, hi, c, mean, sigma, b0, b1 float64) *histo.H1 {
	h := histo.NewH1("test", n, lo, hi)
	for i := 0; i < n; i++ {
		x := h.Center(i)
		h.SetContent(i, Gaus(x, c, mean, sigma)+b0+b1*x)
	}
	h.SetEntries(1000)
	return h
}

func TestFitRecoversGaussian(t *testing.T) {
	h := gausHist(300, 0, 300, 1000, 135, 8, 0, 0)

	m := NewGaus("g", 100, 170)
	m.SetParameters(900, 130, 10)
	res, err := m.Fit(h)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.InDelta(t, 1000, m.Param(0), 5)
	assert.InDelta(t, 135, m.Param(1), 0.05)
	assert.InDelta(t, 8, m.Param(2), 0.05)
	assert.Greater(t, res.NDF, 0)
}

func TestFitRespectsLimits(t *testing.T) {
	h := gausHist(300, 0, 300, 1000, 135, 8, 0, 0)

	m := NewGaus("g", 100, 170)
	m.SetParameters(900, 145, 10)
	m.SetLimits(1, 140, 150)
	m.SetLimits(2, 1, 20)
	_, err := m.Fit(h)
	require.NoError(t, err)

	if mean := m.Param(1); mean < 140 || mean > 150 {
		t.Errorf("mean = %g, want within [140, 150]", mean)
	}
	if sigma := m.Param(2); sigma < 1 || sigma > 20 {
		t.Errorf("sigma = %g, want within [1, 20]", sigma)
	}
}

func TestFitKeepsFixedParameters(t *testing.T) {
	h := gausHist(300, 0, 300, 1000, 135, 8, 0, 0)

	m := NewPolGaus("pg", 1, 100, 170)
	m.SetParameters(1, 0.1, 900, 130, 10)
	m.Fix(0, 0)
	m.Fix(1, 0)
	m.Fix(4, 5)
	_, err := m.Fit(h)
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.Param(0))
	assert.Equal(t, 0.0, m.Param(1))
	assert.Equal(t, 5.0, m.Param(4))
	assert.InDelta(t, 135, m.Param(3), 0.5)
}

func TestFitRejectsPoints(t *testing.T) {
	h := gausHist(100, 0, 100, 100, 50, 3, 10, 0.5)

	m := NewPol("bg", 1, 0, 100)
	m.SetParameters(1, 0.1)
	m.Reject = func(x float64) bool { return x > 35 && x < 65 }
	res, err := m.Fit(h)
	require.NoError(t, err)

	assert.InDelta(t, 10, m.Param(0), 0.05)
	assert.InDelta(t, 0.5, m.Param(1), 0.001)
	assert.Less(t, res.Chi2, 1e-3)
}

func TestFitNoPoints(t *testing.T) {
	h := histo.NewH1("empty", 10, 0, 10)
	m := NewGaus("g", 0, 10)
	m.SetParameters(1, 5, 1)
	_, err := m.Fit(h)
	if !errors.Is(err, ErrNoPoints) {
		t.Errorf("Fit() on empty histogram err = %v, want ErrNoPoints", err)
	}
}

func TestFitAllFixed(t *testing.T) {
	h := gausHist(50, 0, 50, 10, 25, 2, 0, 0)
	m := NewGaus("g", 0, 50)
	m.Fix(0, 10)
	m.Fix(1, 25)
	m.Fix(2, 2)
	res, err := m.Fit(h)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 0, res.Chi2, 1e-9)
}

func TestFitRetry(t *testing.T) {
	h := gausHist(300, 0, 300, 1000, 135, 8, 0, 0)
	m := NewGausPol("gp", 1, 100, 170)
	m.SetParameters(900, 135, 10)
	m.Fix(3, 0)
	m.Fix(4, 0)
	res, err := m.FitRetry(h, 10)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 135, m.Param(1), 0.05)
}

func TestIntegral(t *testing.T) {
	m := NewGaus("g", 0, 0)
	m.SetParameters(2, 0, 3)
	want := 2 * 3 * math.Sqrt(2*math.Pi)
	assert.InDelta(t, want, m.Integral(-40, 40), 1e-6)

	p := NewPol("p", 1, 0, 0)
	p.SetParameters(1, 2)
	assert.InDelta(t, 12.0, p.Integral(0, 3), 1e-9)
}

func TestPol(t *testing.T) {
	tests := []struct {
		x    float64
		c    []float64
		want float64
	}{
		{2, nil, 0},
		{2, []float64{3}, 3},
		{2, []float64{1, 2}, 5},
		{-1, []float64{1, 2, 3}, 2},
	}
	for _, tt := range tests {
		if got := Pol(tt.x, tt.c); got != tt.want {
			t.Errorf("Pol(%g, %v) = %g, want %g", tt.x, tt.c, got, tt.want)
		}
	}
}

func TestPolyFit(t *testing.T) {
	var xs, ys []float64
	for x := -3.0; x <= 3; x += 0.5 {
		xs = append(xs, x)
		ys = append(ys, 4-2*x+0.5*x*x)
	}
	c, err := PolyFit(xs, ys, nil, 2)
	require.NoError(t, err)
	assert.InDelta(t, 4, c[0], 1e-9)
	assert.InDelta(t, -2, c[1], 1e-9)
	assert.InDelta(t, 0.5, c[2], 1e-9)

	_, err = PolyFit([]float64{1}, []float64{1}, nil, 2)
	assert.ErrorIs(t, err, ErrNoPoints)
}

func TestFitLinearWithRejection(t *testing.T) {
	h := gausHist(100, 0, 100, 100, 50, 3, 10, 0.5)

	m := NewPol("bg", 1, 0, 100)
	m.Reject = func(x float64) bool { return x > 35 && x < 65 }
	res, err := m.FitLinear(h)
	require.NoError(t, err)

	assert.InDelta(t, 10, m.Param(0), 1e-3)
	assert.InDelta(t, 0.5, m.Param(1), 1e-4)
	assert.Equal(t, 68, res.NDF)
	assert.True(t, res.Converged)
}

func TestFitLinearFixed(t *testing.T) {
	h := gausHist(50, 0, 50, 0, 0, 1, 4, 2)

	m := NewPol("bg", 2, 0, 50)
	m.Fix(2, 0)
	_, err := m.FitLinear(h)
	require.NoError(t, err)
	assert.InDelta(t, 4, m.Param(0), 1e-8)
	assert.InDelta(t, 2, m.Param(1), 1e-9)
	assert.Equal(t, 0.0, m.Param(2))
}
