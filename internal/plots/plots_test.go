package plots

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/calib/internal/calib"
	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
)

func testPanel() calib.Panel {
	h := histo.NewH1("proj", 50, 0, 10)
	for i := 0; i < h.Len(); i++ {
		x := h.Center(i)
		h.Fill(x, 100*fit.Gaus(x, 1, 5, 1))
	}
	m := fit.NewGaus("fGauss", 2, 8)
	m.SetParameters(100, 5, 1)
	return calib.Panel{
		Name:    "Time",
		Hist:    h,
		Models:  []*fit.Model{m},
		Markers: []calib.Marker{{Name: "peak", Value: 5}},
	}
}

func testSeries() *calib.Series {
	s := calib.NewSeries("Time overview", 4, 0, 4)
	s.XLabel = "Element"
	s.YLabel = "Offset [ns]"
	s.Set(0, 1)
	s.Set(2, 3)
	s.Fit = fit.NewPol("fResult", 1, 0, 4)
	s.Fit.SetParameters(0.5, 1)
	return s
}

func TestElementPlotter_StartStop(t *testing.T) {
	ep := NewElementPlotter("CB.Time")
	outputDir := filepath.Join(t.TempDir(), "nested", "plots")

	require.NoError(t, ep.Start(outputDir))
	assert.True(t, ep.IsEnabled())
	assert.Equal(t, outputDir, ep.GetOutputDir())

	info, err := os.Stat(outputDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	ep.Stop()
	assert.False(t, ep.IsEnabled())

	// Nothing is recorded while stopped.
	ep.AddElement(0, []calib.Panel{testPanel()})
	assert.Equal(t, 0, ep.GetElementCount())
}

func TestElementPlotter_GeneratePlots_NoOutputDir(t *testing.T) {
	ep := NewElementPlotter("CB.Time")
	_, err := ep.GeneratePlots()
	assert.Error(t, err)
}

func TestElementPlotter_GeneratePlots(t *testing.T) {
	ep := NewElementPlotter("CB.Time")
	dir := t.TempDir()
	require.NoError(t, ep.Start(dir))

	ep.AddElement(0, []calib.Panel{testPanel()})
	ep.AddElement(1, nil)
	ep.AddElement(2, []calib.Panel{testPanel(), testPanel(), testPanel()})
	ep.AddOverview([]*calib.Series{testSeries(), nil})
	assert.Equal(t, 2, ep.GetElementCount())

	n, err := ep.GeneratePlots()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, name := range []string{"CB.Time_elem_000.png", "CB.Time_elem_002.png", "CB.Time_overview_0.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
	_, err = os.Stat(filepath.Join(dir, "CB.Time_elem_001.png"))
	assert.True(t, os.IsNotExist(err), "elements without panels are not plotted")
}

func TestElementPlotter_StartResetsState(t *testing.T) {
	ep := NewElementPlotter("CB.Time")
	require.NoError(t, ep.Start(t.TempDir()))
	ep.AddElement(0, []calib.Panel{testPanel()})
	require.Equal(t, 1, ep.GetElementCount())

	require.NoError(t, ep.Start(t.TempDir()))
	assert.Equal(t, 0, ep.GetElementCount())
}

func TestElementPlotter_SnapshotsPanels(t *testing.T) {
	ep := NewElementPlotter("CB.Time")
	require.NoError(t, ep.Start(t.TempDir()))

	p := testPanel()
	ep.AddElement(0, []calib.Panel{p})
	p.Markers[0].Value = 9
	p.Models[0].SetParameter(1, 1)

	rec := ep.elements[0].panels[0]
	assert.Equal(t, 5.0, rec.markers[0].Value)
	require.Len(t, rec.curves, 1)
	assert.Len(t, rec.curves[0].pts, curveSamples)
	assert.InDelta(t, 100, maxY(rec.curves[0].pts), 1)
}

func maxY(pts plotter.XYs) float64 {
	var y float64
	for _, p := range pts {
		if p.Y > y {
			y = p.Y
		}
	}
	return y
}

func TestSampleModel(t *testing.T) {
	m := fit.NewPol("line", 1, 0, 1)
	m.SetParameters(1, 2)

	pts := sampleModel(m, 0, 1)
	require.Len(t, pts, curveSamples)
	assert.Equal(t, 0.0, pts[0].X)
	assert.Equal(t, 1.0, pts[0].Y)
	assert.InDelta(t, 3.0, pts[curveSamples-1].Y, 1e-12)

	assert.Nil(t, sampleModel(m, 1, 1))
}

func TestWriteOverviewHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOverviewHTML(&buf, "CB.Time", testSeries(), nil))

	html := buf.String()
	assert.True(t, strings.Contains(html, "Time overview"))
	assert.True(t, strings.Contains(html, "fResult"))
	assert.True(t, strings.Contains(html, "2 of 4 elements"))
}

func TestGenerateColors(t *testing.T) {
	for _, n := range []int{0, 1, 5, 20} {
		assert.Len(t, generateColors(n), n)
	}

	seen := make(map[color.RGBA]bool)
	for _, c := range generateColors(6) {
		rgba, ok := c.(color.RGBA)
		require.True(t, ok)
		assert.Equal(t, uint8(255), rgba.A)
		assert.False(t, seen[rgba], "duplicate colour")
		seen[rgba] = true
	}
}

func TestHslToRGB(t *testing.T) {
	tests := []struct {
		h, s, l float64
		r, g, b uint8
	}{
		{0.0, 1.0, 0.5, 255, 0, 0},
		{0.0, 0.0, 0.5, 127, 127, 127},
		{0.0, 0.0, 1.0, 255, 255, 255},
	}
	for _, tt := range tests {
		r, g, b := hslToRGB(tt.h, tt.s, tt.l)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("hslToRGB(%v, %v, %v) = (%d, %d, %d), want (%d, %d, %d)",
				tt.h, tt.s, tt.l, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}

func TestMakeOutputDir(t *testing.T) {
	dir := MakeOutputDir("plots", "CB.Time")
	assert.True(t, strings.HasPrefix(dir, filepath.Join("plots", "CB.Time")+string(filepath.Separator)))
	assert.Len(t, filepath.Base(dir), len("20060102_150405"))
}

func TestElementPlotter_SanitizesPrefix(t *testing.T) {
	ep := NewElementPlotter("../CB Time")
	assert.Equal(t, "CB_Time", ep.prefix)
}
