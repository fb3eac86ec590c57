// Package plots renders the per-element fit panels and the overview series
// of a calibration pass.
package plots

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/calib/internal/calib"
	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/security"
)

// curveSamples is the number of points a model curve is drawn with.
const curveSamples = 200

// ElementPlotter records the panels of every calibrated element and the
// overview series, and writes them as PNG files after the pass.
// Panels are copied when recorded, so modules may reuse their histograms
// and models for the next element.
type ElementPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	prefix    string

	elements []elementRecord
	overview []seriesRecord
}

type elementRecord struct {
	elem   int
	panels []panelRecord
}

type panelRecord struct {
	name    string
	hist    *hbook.H1D
	ymax    float64
	curves  []curveRecord
	markers []calib.Marker
}

type curveRecord struct {
	name string
	pts  plotter.XYs
}

type seriesRecord struct {
	name   string
	xLabel string
	yLabel string
	pts    plotter.XYs
	fit    *curveRecord
}

// NewElementPlotter creates a plotter whose files are named after prefix,
// normally the calibration profile.
func NewElementPlotter(prefix string) *ElementPlotter {
	return &ElementPlotter{prefix: security.SanitizeFilename(prefix)}
}

// Start initializes the plotter for a new pass.
// outputDir should be a timestamped directory (see MakeOutputDir).
func (ep *ElementPlotter) Start(outputDir string) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	ep.outputDir = outputDir
	ep.enabled = true
	ep.elements = nil
	ep.overview = nil
	return nil
}

// Stop disables recording. Call GeneratePlots() to produce output files.
func (ep *ElementPlotter) Stop() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (ep *ElementPlotter) IsEnabled() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.enabled
}

// AddElement records the panels of one element.
func (ep *ElementPlotter) AddElement(elem int, panels []calib.Panel) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.enabled {
		return
	}

	rec := elementRecord{elem: elem}
	for _, p := range panels {
		if p.Hist == nil {
			continue
		}
		pr := panelRecord{
			name:    p.Name,
			hist:    p.Hist.H1D(),
			ymax:    p.Hist.Maximum(),
			markers: append([]calib.Marker(nil), p.Markers...),
		}
		for _, m := range p.Models {
			if m == nil {
				continue
			}
			pr.curves = append(pr.curves, curveRecord{name: m.Name, pts: sampleModel(m, m.Lo, m.Hi)})
		}
		rec.panels = append(rec.panels, pr)
	}
	if len(rec.panels) > 0 {
		ep.elements = append(ep.elements, rec)
	}
}

// AddOverview records the overview series of the pass.
func (ep *ElementPlotter) AddOverview(series []*calib.Series) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.enabled {
		return
	}

	for _, s := range series {
		if s == nil {
			continue
		}
		xs, ys := s.Points()
		rec := seriesRecord{name: s.Name, xLabel: s.XLabel, yLabel: s.YLabel, pts: make(plotter.XYs, len(xs))}
		for i := range xs {
			rec.pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
		}
		if s.Fit != nil {
			rec.fit = &curveRecord{name: s.Fit.Name, pts: sampleModel(s.Fit, s.Fit.Lo, s.Fit.Hi)}
		}
		ep.overview = append(ep.overview, rec)
	}
}

// GetOutputDir returns the current output directory for plots.
func (ep *ElementPlotter) GetOutputDir() string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.outputDir
}

// GetElementCount returns the number of recorded elements.
func (ep *ElementPlotter) GetElementCount() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.elements)
}

// GeneratePlots writes one PNG per element and one per overview series and
// returns the number of files written.
func (ep *ElementPlotter) GeneratePlots() (int, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	plotCount := 0
	for _, rec := range ep.elements {
		if err := ep.generateElementPlot(rec); err != nil {
			return plotCount, fmt.Errorf("element %d: %w", rec.elem, err)
		}
		plotCount++
	}
	for i, rec := range ep.overview {
		if err := ep.generateOverviewPlot(i, rec); err != nil {
			return plotCount, fmt.Errorf("overview %q: %w", rec.name, err)
		}
		plotCount++
	}
	return plotCount, nil
}

// generateElementPlot draws the panels of one element side by side.
func (ep *ElementPlotter) generateElementPlot(rec elementRecord) error {
	rows, cols := 1, len(rec.panels)
	if cols > 2 {
		rows, cols = (cols+1)/2, 2
	}

	tiles := make([][]*plot.Plot, rows)
	for r := range tiles {
		tiles[r] = make([]*plot.Plot, cols)
	}
	for i, pr := range rec.panels {
		p, err := panelPlot(rec.elem, pr)
		if err != nil {
			return fmt.Errorf("panel %q: %w", pr.name, err)
		}
		tiles[i/cols][i%cols] = p
	}

	for r := range tiles {
		for c := range tiles[r] {
			if tiles[r][c] == nil {
				empty := plot.New()
				empty.HideAxes()
				tiles[r][c] = empty
			}
		}
	}

	file := filepath.Join(ep.outputDir, fmt.Sprintf("%s_elem_%03d.png", ep.prefix, rec.elem))
	if err := saveTiles(tiles, vg.Length(cols)*7*vg.Inch, vg.Length(rows)*5*vg.Inch, file); err != nil {
		return fmt.Errorf("save element plot: %w", err)
	}
	return nil
}

// saveTiles draws the aligned plots onto one PNG canvas.
func saveTiles(tiles [][]*plot.Plot, width, height vg.Length, file string) error {
	img := vgimg.New(width, height)
	dc := draw.New(img)
	t := draw.Tiles{
		Rows:      len(tiles),
		Cols:      len(tiles[0]),
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(2),
		PadBottom: vg.Points(2),
		PadLeft:   vg.Points(2),
		PadRight:  vg.Points(2),
	}
	canvases := plot.Align(tiles, t, dc)
	for r := range tiles {
		for c := range tiles[r] {
			tiles[r][c].Draw(canvases[r][c])
		}
	}

	w, err := os.Create(file)
	if err != nil {
		return err
	}
	defer w.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return err
	}
	return w.Close()
}

func panelPlot(elem int, pr panelRecord) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (element %d)", pr.name, elem)

	h := hplot.NewH1D(pr.hist)
	h.FillColor = nil
	h.LineStyle.Color = color.Black
	h.Infos.Style = hplot.HInfoNone
	p.Add(h)

	colors := generateColors(len(pr.curves) + len(pr.markers))
	for i, c := range pr.curves {
		if len(c.pts) < 2 {
			continue
		}
		line, err := plotter.NewLine(c.pts)
		if err != nil {
			return nil, fmt.Errorf("curve %q: %w", c.name, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(c.name, line)
	}

	ymax := pr.ymax
	for i, m := range pr.markers {
		line, err := plotter.NewLine(plotter.XYs{{X: m.Value, Y: 0}, {X: m.Value, Y: ymax}})
		if err != nil {
			return nil, fmt.Errorf("marker %q: %w", m.Name, err)
		}
		line.Color = colors[len(pr.curves)+i]
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s %.2f", m.Name, m.Value), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// generateOverviewPlot draws one overview series with its optional global fit.
func (ep *ElementPlotter) generateOverviewPlot(idx int, rec seriesRecord) error {
	p := plot.New()
	p.Title.Text = rec.name
	p.X.Label.Text = rec.xLabel
	p.Y.Label.Text = rec.yLabel

	if len(rec.pts) > 0 {
		sc, err := plotter.NewScatter(rec.pts)
		if err != nil {
			return fmt.Errorf("scatter: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(2)
		sc.GlyphStyle.Color = color.RGBA{R: 33, G: 102, B: 172, A: 255}
		p.Add(sc)
	}
	if rec.fit != nil && len(rec.fit.pts) > 1 {
		line, err := plotter.NewLine(rec.fit.pts)
		if err != nil {
			return fmt.Errorf("fit curve: %w", err)
		}
		line.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(rec.fit.name, line)
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	file := filepath.Join(ep.outputDir, fmt.Sprintf("%s_overview_%d.png", ep.prefix, idx))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save overview plot: %w", err)
	}
	return nil
}

// sampleModel evaluates m at evenly spaced points of [lo, hi], skipping
// non-finite values.
func sampleModel(m *fit.Model, lo, hi float64) plotter.XYs {
	if !(hi > lo) {
		return nil
	}
	pts := make(plotter.XYs, 0, curveSamples)
	step := (hi - lo) / float64(curveSamples-1)
	for i := 0; i < curveSamples; i++ {
		x := lo + float64(i)*step
		y := m.Eval(x)
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	return pts
}

// generateColors creates a palette of distinct colors for model curves and markers.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// MakeOutputDir returns a timestamped plot directory for one pass:
// <baseDir>/<profile>/<timestamp>.
func MakeOutputDir(baseDir, profile string) string {
	return filepath.Join(baseDir, security.SanitizeFilename(profile), time.Now().Format("20060102_150405"))
}
