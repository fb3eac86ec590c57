// Package source provides the histograms a calibration pass works on. A
// source answers by name with a histogram already summed over every run of
// the configured run-sets.
package source

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/calib/internal/histo"
)

// ErrNotFound is returned when a histogram is not available.
var ErrNotFound = errors.New("histogram not found")

// HistogramSource looks up aggregated histograms by name.
type HistogramSource interface {
	GetH1(name string) (*histo.H1, error)
	GetH2(name string) (*histo.H2, error)
}

// MemorySource serves histograms held in memory.
type MemorySource struct {
	mu  sync.RWMutex
	h1s map[string]*histo.H1
	h2s map[string]*histo.H2
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		h1s: make(map[string]*histo.H1),
		h2s: make(map[string]*histo.H2),
	}
}

// AddH1 stores h under its name.
func (s *MemorySource) AddH1(h *histo.H1) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h1s[h.Name] = h
}

// AddH2 stores h under its name.
func (s *MemorySource) AddH2(h *histo.H2) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h2s[h.Name] = h
}

// GetH1 returns a copy of the named histogram.
func (s *MemorySource) GetH1(name string) (*histo.H1, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.h1s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return h.Clone(name), nil
}

// GetH2 returns a copy of the named histogram.
func (s *MemorySource) GetH2(name string) (*histo.H2, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.h2s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return h.Clone(name), nil
}
