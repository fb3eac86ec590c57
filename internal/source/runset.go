package source

import (
	"fmt"
	"path/filepath"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/groot/root"
	"go-hep.org/x/hep/hbook/rootcnv"

	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/monitoring"
	"github.com/banshee-data/calib/internal/security"
	"github.com/banshee-data/calib/internal/store"
)

// RunSetSource sums histograms over the per-run ROOT files of a list of
// run-sets. Files that cannot be opened are logged and skipped.
type RunSetSource struct {
	Dir         string
	Pattern     string
	Calibration string
	Sets        []int
	Runs        store.RunLister
}

// NewRunSetSource creates a RunSetSource. pattern is a fmt pattern taking the
// run number, e.g. "ARHistograms_CB_%d.root".
func NewRunSetSource(dir, pattern, calibration string, sets []int, runs store.RunLister) *RunSetSource {
	return &RunSetSource{
		Dir:         dir,
		Pattern:     pattern,
		Calibration: calibration,
		Sets:        sets,
		Runs:        runs,
	}
}

// Files returns the per-run file paths of all configured sets. A pattern that
// resolves outside Dir is an error.
func (s *RunSetSource) Files() ([]string, error) {
	var files []string
	for _, set := range s.Sets {
		runs, err := s.Runs.Runs(s.Calibration, set)
		if err != nil {
			return nil, fmt.Errorf("runs of set %d: %w", set, err)
		}
		for _, run := range runs {
			path := filepath.Join(s.Dir, fmt.Sprintf(s.Pattern, run))
			if err := security.ValidatePathWithinDirectory(path, s.Dir); err != nil {
				return nil, fmt.Errorf("run %d: %w", run, err)
			}
			files = append(files, path)
		}
	}
	return files, nil
}

// GetH1 returns the named 1D histogram summed over all runs.
func (s *RunSetSource) GetH1(name string) (*histo.H1, error) {
	var sum *histo.H1
	err := s.each(name, func(path string, obj root.Object) error {
		rh, ok := obj.(rhist.H1)
		if !ok {
			return fmt.Errorf("%s in %s is a %s, not a 1D histogram", name, path, obj.Class())
		}
		h := histo.FromH1D(name, rootcnv.H1D(rh))
		if sum == nil {
			sum = h
			return nil
		}
		return sum.Add(h, 1)
	})
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return sum, nil
}

// GetH2 returns the named 2D histogram summed over all runs.
func (s *RunSetSource) GetH2(name string) (*histo.H2, error) {
	var sum *histo.H2
	err := s.each(name, func(path string, obj root.Object) error {
		rh, ok := obj.(rhist.H2)
		if !ok {
			return fmt.Errorf("%s in %s is a %s, not a 2D histogram", name, path, obj.Class())
		}
		h := histo.FromH2D(name, rootcnv.H2D(rh))
		if sum == nil {
			sum = h
			return nil
		}
		return sum.Add(h)
	})
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return sum, nil
}

// each calls fn with the named object of every readable run file.
func (s *RunSetSource) each(name string, fn func(path string, obj root.Object) error) error {
	files, err := s.Files()
	if err != nil {
		return err
	}
	for _, path := range files {
		f, err := groot.Open(path)
		if err != nil {
			monitoring.Logf("skipping %s: %v", path, err)
			continue
		}
		obj, err := f.Get(name)
		if err != nil {
			f.Close()
			continue
		}
		err = fn(path, obj)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
