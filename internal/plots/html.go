package plots

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/calib/internal/calib"
)

// WriteOverviewHTML renders one interactive scatter chart per series onto a
// single page. A series' global fit, when present, is drawn as a second
// series sampled over its range.
func WriteOverviewHTML(w io.Writer, title string, series ...*calib.Series) error {
	page := components.NewPage()
	page.PageTitle = title

	for _, s := range series {
		if s == nil {
			continue
		}
		xs, ys := s.Points()
		pts := make([]opts.ScatterData, 0, len(xs))
		for i := range xs {
			pts = append(pts, opts.ScatterData{Value: []interface{}{xs[i], ys[i]}})
		}

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
			charts.WithTitleOpts(opts.Title{Title: s.Name, Subtitle: fmt.Sprintf("%d of %d elements", s.Len(), s.Elements())}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: s.XLabel, NameLocation: "middle", NameGap: 25, Type: "value"}),
			charts.WithYAxisOpts(opts.YAxis{Name: s.YLabel, NameLocation: "middle", NameGap: 50, Type: "value"}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		)
		scatter.AddSeries("elements", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

		if s.Fit != nil {
			curve := sampleModel(s.Fit, s.Fit.Lo, s.Fit.Hi)
			fitPts := make([]opts.ScatterData, 0, len(curve))
			for _, p := range curve {
				fitPts = append(fitPts, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
			}
			scatter.AddSeries(s.Fit.Name, fitPts,
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"}))
		}
		page.AddCharts(scatter)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render overview: %w", err)
	}
	return nil
}
