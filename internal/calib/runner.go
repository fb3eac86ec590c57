package calib

import (
	"context"
	"fmt"

	"github.com/banshee-data/calib/internal/monitoring"
)

// Plotter records the state of an Inspectable module for later rendering.
type Plotter interface {
	AddElement(elem int, panels []Panel)
	AddOverview(series []*Series)
}

// Runner drives a Module over all of its elements.
type Runner struct {
	Module   Module
	Sets     []int
	Reviewer Reviewer
	Sink     *monitoring.ReportSink
	// Format renders a report line; Report.String is used when nil.
	Format  func(Report) string
	Plotter Plotter
	// DryRun skips Write.
	DryRun bool

	reports []Report
}

// Run initialises the module, processes every element in order, finalises
// and writes. Cancellation is checked between elements and aborts without
// writing.
func (r *Runner) Run(ctx context.Context) error {
	m := r.Module
	name := m.Profile().Name
	if err := m.Init(r.Sets); err != nil {
		return fmt.Errorf("init %s: %w", name, err)
	}
	monitoring.Logf("%s: calibrating %d elements for sets %v", name, m.Elements(), r.Sets)

	inspect, _ := m.(Inspectable)
	r.reports = r.reports[:0]
	for elem := 0; elem < m.Elements(); elem++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		markers := m.Fit(elem)
		if len(markers) > 0 && r.Reviewer != nil {
			reviewed, err := r.Reviewer.Review(ctx, elem, markers)
			if err != nil {
				return err
			}
			markers = reviewed
		}

		rep := m.Calculate(elem, markers)
		r.reports = append(r.reports, rep)
		r.Sink.Println(r.format(rep))
		if r.Plotter != nil && inspect != nil {
			r.Plotter.AddElement(elem, inspect.Panels())
		}
	}

	if err := m.Finalize(); err != nil {
		return fmt.Errorf("finalize %s: %w", name, err)
	}
	if s, ok := m.(Summarizer); ok {
		for _, line := range s.Summary() {
			r.Sink.Println(line)
		}
	}
	if r.Plotter != nil && inspect != nil {
		r.Plotter.AddOverview(inspect.Overview())
	}

	if r.DryRun {
		monitoring.Logf("%s: dry run, nothing written", name)
		return nil
	}
	if err := m.Write(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Reports returns the reports of the last Run in element order.
func (r *Runner) Reports() []Report { return r.reports }

func (r *Runner) format(rep Report) string {
	if r.Format != nil {
		return r.Format(rep)
	}
	return rep.String()
}
