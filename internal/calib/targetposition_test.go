package calib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/store"
)

func targetConfig() map[string]interface{} {
	return map[string]interface{}{
		"Target.Position.Histo.Fit.Name": "CaLib_Target_Position_IM",
		"Target.Position.Bins":           40.0,
		"Target.Position.Range":          []interface{}{-5.0, 5.0},
	}
}

func TestTargetPositionParabola(t *testing.T) {
	env, src, st := testEnv(t, targetConfig())

	// The pi0 width grows quadratically away from the real position.
	const want = 2.5
	h := histo.NewH2("CaLib_Target_Position_IM", 150, 0, 300, 40, 0, 40)
	for elem := 0; elem < 40; elem++ {
		x := -5 + (float64(elem)+0.5)*0.25
		sigma := 10 + 0.3*(x-want)*(x-want)
		fillRow(h, elem, gaus(1000, 135, sigma, 5))
	}
	src.AddH2(h)

	m, err := NewTargetPosition(env)
	require.NoError(t, err)
	r := &Runner{Module: m, Sets: []int{0}}
	require.NoError(t, r.Run(context.Background()))

	assert.Greater(t, m.Overview()[0].Len(), 30)
	assert.InDelta(t, want, m.Position(), 0.05)
	require.NotNil(t, m.Overview()[0].Fit)
	assert.Len(t, m.Summary(), 1)
	assert.Contains(t, m.Summary()[0], "Target position: 2.")

	got, err := st.ReadParameters(store.TargetPos, testCalibration, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{m.Position()}, got)
}

func TestWidthAccepted(t *testing.T) {
	tests := []struct {
		prev     float64
		havePrev bool
		sigma    float64
		want     bool
	}{
		{0, false, 12, true},
		{10, true, 10.5, true},
		{10, true, 11.2, false},
		{10, true, 9.0, false},
		{10, true, 9.2, true},
	}
	for _, tt := range tests {
		if got := widthAccepted(tt.prev, tt.havePrev, tt.sigma); got != tt.want {
			t.Errorf("widthAccepted(%v, %v, %v) = %v, want %v", tt.prev, tt.havePrev, tt.sigma, got, tt.want)
		}
	}
}

func TestTargetPositionWidthOutliers(t *testing.T) {
	env, _, _ := testEnv(t, map[string]interface{}{"Target.Position.Bins": 6.0})
	m, err := NewTargetPosition(env)
	require.NoError(t, err)
	m.series = NewSeries("overview", 6, -3, 3)

	widths := []float64{10, 10.5, 15, 10.8, 11, 30}
	wantRejected := []bool{false, false, true, false, false, true}
	for elem, sigma := range widths {
		m.ok = true
		r := m.Calculate(elem, []Marker{{Name: "sigma", Value: sigma}})
		assert.Equal(t, wantRejected[elem], r.Rejected, "element %d sigma %v", elem, sigma)
	}
	assert.Equal(t, 4, m.series.Len())
	_, ok := m.series.Get(2)
	assert.False(t, ok, "rejected width must not enter the overview")

	// An element without statistics does not reset the reference width.
	m.ok = false
	r := m.Calculate(5, nil)
	assert.True(t, r.Unchanged)
	assert.Equal(t, 11.0, m.prevSigma)
}

func TestTargetPositionNoWidths(t *testing.T) {
	env, src, st := testEnv(t, targetConfig())
	src.AddH2(histo.NewH2("CaLib_Target_Position_IM", 150, 0, 300, 40, 0, 40))
	require.NoError(t, st.WriteParameters(store.TargetPos, testCalibration, 0, []float64{1.25}))

	m, err := NewTargetPosition(env)
	require.NoError(t, err)
	r := &Runner{Module: m, Sets: []int{0}}
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1.25, m.Position())
	assert.Contains(t, m.Summary()[0], "unchanged")
}
