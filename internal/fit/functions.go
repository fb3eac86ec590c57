package fit

import (
	"math"
)

// Gaus evaluates c*exp(-0.5*((x-mean)/sigma)^2).
func Gaus(x, c, mean, sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	d := (x - mean) / sigma
	return c * math.Exp(-0.5*d*d)
}

// Pol evaluates the polynomial with coefficients c at x.
func Pol(x float64, c []float64) float64 {
	var s float64
	for i := len(c) - 1; i >= 0; i-- {
		s = s*x + c[i]
	}
	return s
}

// NewGaus returns a Gaussian model with parameters (constant, mean, sigma).
func NewGaus(name string, lo, hi float64) *Model {
	m := New(name, func(x float64, p []float64) float64 {
		return Gaus(x, p[0], p[1], p[2])
	}, 3, lo, hi)
	m.SetParName(0, "Constant")
	m.SetParName(1, "Mean")
	m.SetParName(2, "Sigma")
	return m
}

// NewPol returns a polynomial model of the given degree.
func NewPol(name string, degree int, lo, hi float64) *Model {
	return New(name, func(x float64, p []float64) float64 {
		return Pol(x, p)
	}, degree+1, lo, hi)
}

// NewGausPol returns gaus(0)+polN(3): parameters 0..2 are the Gaussian and
// 3.. the background polynomial.
func NewGausPol(name string, degree int, lo, hi float64) *Model {
	m := New(name, func(x float64, p []float64) float64 {
		return Gaus(x, p[0], p[1], p[2]) + Pol(x, p[3:])
	}, degree+4, lo, hi)
	m.SetParName(0, "Constant")
	m.SetParName(1, "Mean")
	m.SetParName(2, "Sigma")
	return m
}

// NewPolGaus returns polN(0)+gaus(N+1): the background polynomial comes first
// and the Gaussian occupies the last three parameters.
func NewPolGaus(name string, degree int, lo, hi float64) *Model {
	k := degree + 1
	m := New(name, func(x float64, p []float64) float64 {
		return Pol(x, p[:k]) + Gaus(x, p[k], p[k+1], p[k+2])
	}, k+3, lo, hi)
	m.SetParName(k, "Constant")
	m.SetParName(k+1, "Mean")
	m.SetParName(k+2, "Sigma")
	return m
}
