package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/store"
)

func pidConfig() map[string]interface{} {
	return map[string]interface{}{
		"PID.Energy.Histo.Fit.Name": "CaLib_PID_dE_E",
		"PID.Energy.Elements":       2.0,
		"PID.Energy.Peaks":          2.0,
		"PID.Energy.Peak.0.Range":   []interface{}{150.0, 400.0},
		"PID.Energy.Peak.1.Range":   []interface{}{400.0, 900.0},
		"PID.Energy.MC.Peaks":       []interface{}{1.2, 2.9},
	}
}

func pidHisto() *histo.H2 {
	h := histo.NewH2("CaLib_PID_dE_E", 200, 0, 1000, 2, 0, 2)
	fillRow(h, 0, func(x float64) float64 {
		return gaus(200, 250, 20, 1)(x) + gaus(100, 650, 40, 0)(x)
	})
	return h
}

func TestPIDEnergy(t *testing.T) {
	env, src, st := testEnv(t, pidConfig())
	src.AddH2(pidHisto())
	require.NoError(t, st.WriteParameters(store.PIDE0, testCalibration, 0, []float64{-10, -20}))
	require.NoError(t, st.WriteParameters(store.PIDE1, testCalibration, 0, []float64{0.004, 0.005}))

	m := NewPIDEnergy(env)
	require.NoError(t, m.Init([]int{0}))

	markers := m.Fit(0)
	require.Len(t, markers, 2)
	assert.Equal(t, "peak0", markers[0].Name)
	assert.InDelta(t, 250, markers[0].Value, 1)
	assert.InDelta(t, 650, markers[1].Value, 2)

	r := m.Calculate(0, markers)
	assert.False(t, r.Unchanged)
	ped, gain := m.Values()
	wantGain := (2.9 - 1.2) / (650 - 250.0)
	assert.InDelta(t, wantGain, gain[0], 1e-4)
	assert.InDelta(t, 250-1.2/wantGain, ped[0], 5)

	// Without statistics the old values stay.
	assert.Nil(t, m.Fit(1))
	r = m.Calculate(1, nil)
	assert.True(t, r.Unchanged)
	assert.Equal(t, -20.0, ped[1])
	assert.Equal(t, 0.005, gain[1])
	assert.Equal(t, 1, m.Overview()[0].Len())

	require.NoError(t, m.Write())
	got, err := st.ReadParameters(store.PIDE1, testCalibration, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, gain, got)
}

func TestPIDEnergyOverride(t *testing.T) {
	env, src, _ := testEnv(t, pidConfig())
	src.AddH2(pidHisto())

	m := NewPIDEnergy(env)
	require.NoError(t, m.Init([]int{0}))
	require.NotNil(t, m.Fit(0))

	m.Calculate(0, []Marker{{Name: "peak0", Value: 100}, {Name: "peak1", Value: 270}})
	ped, gain := m.Values()
	assert.InDelta(t, 0.01, gain[0], 1e-12)
	assert.InDelta(t, -20, ped[0], 1e-9)
}

func TestPIDEnergyMCHistogram(t *testing.T) {
	values := pidConfig()
	delete(values, "PID.Energy.MC.Peaks")
	values["PID.Energy.MC.Histo.Name"] = "CaLib_PID_MC"
	env, src, _ := testEnv(t, values)
	src.AddH2(pidHisto())

	err := NewPIDEnergy(env).Init([]int{0})
	assert.ErrorIs(t, err, ErrMissingHistogram)

	mc := histo.NewH2("CaLib_PID_MC", 400, 0, 8, 2, 0, 2)
	fillRow(mc, 0, func(x float64) float64 {
		return math.Round(gaus(500, 1.2, 0.1, 0)(x) + gaus(300, 2.9, 0.2, 0)(x))
	})
	src.AddH2(mc)
	err = NewPIDEnergy(env).Init([]int{0})
	assert.ErrorIs(t, err, ErrMissingConfig, "MC peak windows are required")

	env.Config.Set("PID.Energy.MC.Peak.0.Range", []interface{}{0.5, 2.0})
	env.Config.Set("PID.Energy.MC.Peak.1.Range", []interface{}{2.0, 4.0})
	m := NewPIDEnergy(env)
	require.NoError(t, m.Init([]int{0}))
	r := m.Calculate(0, m.Fit(0))
	require.Len(t, m.mcE, 2)
	assert.InDelta(t, 1.2, m.mcE[0], 0.01)
	assert.InDelta(t, 2.9, m.mcE[1], 0.02)
	assert.False(t, r.Unchanged, r.String())
	_, gain := m.Values()
	assert.InDelta(t, (2.9-1.2)/400, gain[0], 1e-4)
}

func TestLinearCalibration(t *testing.T) {
	ped, gain, ok := LinearCalibration([]float64{110, 210, 310}, []float64{1, 2, 3}, nil)
	require.True(t, ok)
	assert.InDelta(t, 10, ped, 1e-9)
	assert.InDelta(t, 0.01, gain, 1e-12)

	_, _, ok = LinearCalibration([]float64{100}, []float64{1}, nil)
	assert.False(t, ok, "one point")

	_, _, ok = LinearCalibration([]float64{100, 200}, []float64{1, 1}, nil)
	assert.False(t, ok, "zero gain")
}

func TestPIDEnergyInitErrors(t *testing.T) {
	values := pidConfig()
	delete(values, "PID.Energy.MC.Peaks")
	env, src, _ := testEnv(t, values)
	src.AddH2(pidHisto())
	assert.ErrorIs(t, NewPIDEnergy(env).Init([]int{0}), ErrMissingConfig)

	values = pidConfig()
	values["PID.Energy.Peaks"] = 1.0
	env, src, _ = testEnv(t, values)
	src.AddH2(pidHisto())
	assert.ErrorIs(t, NewPIDEnergy(env).Init([]int{0}), ErrMissingConfig)

	env, _, _ = testEnv(t, pidConfig())
	assert.ErrorIs(t, NewPIDEnergy(env).Init(nil), ErrNoSets)
}
