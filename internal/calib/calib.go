// Package calib holds the calibration modules and the loop that drives them.
//
// A Module is built for one calibration profile and a list of run-sets. The
// Runner initialises it, then fits and calculates every element strictly in
// order, optionally handing each element's markers to a Reviewer before the
// calculation, and finally lets the module finalise and write its constants.
// Only initialisation and persistence return errors; insufficient
// statistics, non-finite results and implausible fits are recovered per
// element and surface as report flags.
package calib

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/calib/internal/config"
	"github.com/banshee-data/calib/internal/fit"
	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/source"
	"github.com/banshee-data/calib/internal/store"
)

var (
	// ErrMissingConfig is returned by Init when a required key is absent.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrMissingHistogram is returned by Init when a histogram cannot be found.
	ErrMissingHistogram = errors.New("missing histogram")
	// ErrUnknownProfile is returned by New for an unregistered profile name.
	ErrUnknownProfile = errors.New("unknown calibration profile")
	// ErrNoSets is returned by Init when no run-set is given.
	ErrNoSets = errors.New("no run-sets given")
)

// Particle masses in MeV.
const (
	MassPi0 = 134.9766
	MassEta = 547.853
)

// Marker is a named fit result an operator may move before Calculate.
type Marker struct {
	Name  string
	Value float64
}

// Module is one calibration kind bound to its collaborators.
type Module interface {
	Profile() Profile
	Elements() int
	Init(sets []int) error
	// Fit returns nil markers when the element lacks statistics.
	Fit(elem int) []Marker
	Calculate(elem int, markers []Marker) Report
	Finalize() error
	Write() error
}

// Panel is one projection of the current element with the models fitted to it.
type Panel struct {
	Name    string
	Hist    *histo.H1
	Models  []*fit.Model
	Markers []Marker
}

// Inspectable modules expose their current element and overview for plotting.
type Inspectable interface {
	Panels() []Panel
	Overview() []*Series
}

// Summarizer modules report global results after Finalize.
type Summarizer interface {
	Summary() []string
}

// Env holds the collaborators a module is constructed with.
type Env struct {
	Config      *config.Config
	Store       store.ParameterStore
	Source      source.HistogramSource
	Calibration string
}

// base carries the state shared by every kind.
type base struct {
	env     Env
	profile Profile
	nelem   int
	sets    []int
}

func newBase(p Profile, env Env) base {
	if env.Config == nil {
		env.Config = config.New(nil)
	}
	return base{env: env, profile: p, nelem: env.Config.GetElements(p.Name, p.Elements)}
}

func (b *base) Profile() Profile { return b.profile }

func (b *base) Elements() int { return b.nelem }

func (b *base) setSets(sets []int) error {
	if len(sets) == 0 {
		return ErrNoSets
	}
	b.sets = append([]int(nil), sets...)
	return nil
}

// key returns "<profile>.<suffix>".
func (b *base) key(suffix string) string { return b.profile.Name + "." + suffix }

func (b *base) requireString(key string) (string, error) {
	s, err := b.env.Config.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", b.profile.Name, ErrMissingConfig, key)
	}
	return s, nil
}

func (b *base) requireRange(key string) (lo, hi float64, err error) {
	lo, hi, err = b.env.Config.RequireRange(key)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w: %s", b.profile.Name, ErrMissingConfig, key)
	}
	return lo, hi, nil
}

// h2 fetches a 2D histogram through the source.
func (b *base) h2(name string) (*histo.H2, error) {
	h, err := b.env.Source.GetH2(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s: %v", b.profile.Name, ErrMissingHistogram, name, err)
	}
	return h, nil
}

// mainHistogram resolves "<profile>.Histo.Fit.Name" and fetches it.
func (b *base) mainHistogram() (*histo.H2, error) {
	name, err := b.requireString(b.key("Histo.Fit.Name"))
	if err != nil {
		return nil, err
	}
	return b.h2(name)
}

// read loads an array for the first set, or def for every element when the
// store holds nothing.
func (b *base) read(kind store.DataKind, def float64) ([]float64, error) {
	return b.readN(kind, def, b.nelem)
}

func (b *base) readN(kind store.DataKind, def float64, n int) ([]float64, error) {
	vals, err := b.env.Store.ReadParameters(kind, b.env.Calibration, b.sets[0], n)
	if errors.Is(err, store.ErrNoParameters) {
		vals = make([]float64, n)
		for i := range vals {
			vals[i] = def
		}
		return vals, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", b.profile.Name, kind, err)
	}
	return vals, nil
}

// write stores vals under kind for every set.
func (b *base) write(kind store.DataKind, vals []float64) error {
	for _, set := range b.sets {
		if err := b.env.Store.WriteParameters(kind, b.env.Calibration, set, vals); err != nil {
			return fmt.Errorf("%s: write %s for set %d: %w", b.profile.Name, kind, set, err)
		}
	}
	return nil
}

// markerValue returns the value of the named marker, or def.
func markerValue(markers []Marker, name string, def float64) float64 {
	for _, m := range markers {
		if m.Name == name {
			return m.Value
		}
	}
	return def
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
