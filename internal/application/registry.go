// Package application contains the application services.
package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// ExtractorRegistry maps asset kinds to their metadata extractors.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors map[domain.AssetKind]output.AssetExtractor
}

// NewExtractorRegistry creates a registry holding the given extractors.
func NewExtractorRegistry(extractors ...output.AssetExtractor) *ExtractorRegistry {
	r := &ExtractorRegistry{
		extractors: make(map[domain.AssetKind]output.AssetExtractor),
	}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Register adds an extractor, replacing any earlier one for the same kind.
func (r *ExtractorRegistry) Register(e output.AssetExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Kind()] = e
}

// Extractor returns the extractor for a kind.
func (r *ExtractorRegistry) Extractor(kind domain.AssetKind) (output.AssetExtractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[kind]
	if !ok {
		return nil, fmt.Errorf("no extractor for %s assets: %w", kind, domain.ErrUnsupportedFormat)
	}
	return e, nil
}

// Estimator returns the size estimator of a kind, if its extractor has one.
func (r *ExtractorRegistry) Estimator(kind domain.AssetKind) (output.SizeEstimator, bool) {
	e, err := r.Extractor(kind)
	if err != nil {
		return nil, false
	}
	est, ok := e.(output.SizeEstimator)
	return est, ok
}

// Sampler returns the point sampler of a kind, if its extractor has one.
func (r *ExtractorRegistry) Sampler(kind domain.AssetKind) (output.PointSampler, bool) {
	e, err := r.Extractor(kind)
	if err != nil {
		return nil, false
	}
	s, ok := e.(output.PointSampler)
	return s, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *ExtractorRegistry) Kinds() []domain.AssetKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.AssetKind, 0, len(r.extractors))
	for k := range r.extractors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
