// Package store persists calibration constants. Values are keyed by data
// kind, calibration identifier, run-set index and element, and are always
// read and written as a dense array for one set.
package store

import (
	"errors"
	"sort"
	"sync"
)

// ErrNoParameters is returned when nothing is stored for a key. Callers fall
// back to defaults.
var ErrNoParameters = errors.New("no stored parameters")

// DataKind identifies one kind of calibration constant.
type DataKind string

const (
	CBT0      DataKind = "cb.t0"
	CBRise    DataKind = "cb.rise"
	CBEQuad0  DataKind = "cb.equad0"
	CBEQuad1  DataKind = "cb.equad1"
	TAPST0    DataKind = "taps.t0"
	TAPST1    DataKind = "taps.t1"
	VetoT0    DataKind = "veto.t0"
	VetoT1    DataKind = "veto.t1"
	PIDT0     DataKind = "pid.t0"
	PIDE0     DataKind = "pid.e0"
	PIDE1     DataKind = "pid.e1"
	TaggT0    DataKind = "tagg.t0"
	TargetPos DataKind = "target.pos"
)

// ParameterStore reads and writes constant arrays.
type ParameterStore interface {
	// ReadParameters returns n values for the set. Elements not stored are 0.
	ReadParameters(kind DataKind, calibration string, set int, n int) ([]float64, error)
	WriteParameters(kind DataKind, calibration string, set int, vals []float64) error
}

// RunLister resolves the runs belonging to a set.
type RunLister interface {
	Runs(calibration string, set int) ([]int, error)
}

// RunSet is an ordered list of runs aggregated into one sample.
type RunSet struct {
	Index int   `json:"index"`
	Runs  []int `json:"runs"`
}

type memKey struct {
	kind        DataKind
	calibration string
	set         int
}

// MemoryStore is an in-memory ParameterStore and RunLister.
type MemoryStore struct {
	mu     sync.Mutex
	params map[memKey][]float64
	runs   map[string]map[int][]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		params: make(map[memKey][]float64),
		runs:   make(map[string]map[int][]int),
	}
}

// ReadParameters implements ParameterStore.
func (s *MemoryStore) ReadParameters(kind DataKind, calibration string, set int, n int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.params[memKey{kind, calibration, set}]
	if !ok {
		return nil, ErrNoParameters
	}
	out := make([]float64, n)
	copy(out, stored)
	return out, nil
}

// WriteParameters implements ParameterStore.
func (s *MemoryStore) WriteParameters(kind DataKind, calibration string, set int, vals []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.params[memKey{kind, calibration, set}] = append([]float64(nil), vals...)
	return nil
}

// AddRunSet registers the runs of a set.
func (s *MemoryStore) AddRunSet(calibration string, rs RunSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs[calibration] == nil {
		s.runs[calibration] = make(map[int][]int)
	}
	s.runs[calibration][rs.Index] = append(s.runs[calibration][rs.Index], rs.Runs...)
	sort.Ints(s.runs[calibration][rs.Index])
	return nil
}

// Runs implements RunLister.
func (s *MemoryStore) Runs(calibration string, set int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.runs[calibration][set]...), nil
}
