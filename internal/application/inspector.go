package application

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// DefaultSkipLayers are geodatabase layer name fragments that are never
// cataloged. They name reference datasets bundled with model deliveries.
var DefaultSkipLayers = []string{"FEMA", "NHD", "NSI"}

// InspectorService opens archives and classifies their entries.
type InspectorService struct {
	opener     output.ArchiveOpener
	layers     output.LayerSource
	detector   output.ModelProjectDetector
	skipLayers []string
	logger     *slog.Logger
}

// NewInspectorService creates a new inspector. layers and detector may be
// nil, which disables geodatabase layers and hydraulic models respectively.
func NewInspectorService(
	opener output.ArchiveOpener,
	layers output.LayerSource,
	detector output.ModelProjectDetector,
	skipLayers []string,
	logger *slog.Logger,
) *InspectorService {
	return &InspectorService{
		opener:     opener,
		layers:     layers,
		detector:   detector,
		skipLayers: skipLayers,
		logger:     logger,
	}
}

// Open opens an archive. The returned handle must be closed.
func (s *InspectorService) Open(ctx context.Context, locator domain.ArchiveLocator) (*ArchiveHandle, error) {
	archive, err := s.opener.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &ArchiveHandle{archive: archive, inspector: s}, nil
}

// Inspect implements input.Inspector.
func (s *InspectorService) Inspect(ctx context.Context, locator domain.ArchiveLocator) (*domain.ContentInventory, error) {
	h, err := s.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Close() }()
	return h.Inventory(ctx)
}

func (s *InspectorService) classify(ctx context.Context, archive output.Archive) (*domain.ContentInventory, error) {
	locator := archive.Locator()

	entries := archive.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	var layers []string
	if locator.IsGeodatabase() && s.layers != nil {
		all, err := s.layers.Layers(ctx, archive)
		if err != nil {
			return nil, &domain.ArchiveReadError{Archive: locator.String(), Err: err}
		}
		for _, l := range all {
			if s.skipLayer(l) {
				s.logger.Info("skipping reference layer", "archive", locator.String(), "layer", l)
				continue
			}
			layers = append(layers, l)
		}
	}

	inv := domain.ClassifyEntries(names, layers, s.modelPredicate(ctx, archive))

	if n := len(inv.Skipped); n > 0 && !locator.IsGeodatabase() {
		s.logger.Warn("archive has entries that are not traversed",
			"archive", locator.String(),
			"skipped", n,
		)
	}

	s.logger.Debug("classified archive",
		"archive", locator.String(),
		"kind", inv.Kind(),
		"shapefiles", len(inv.Shapefiles),
		"layers", len(inv.DatabaseLayers),
		"rasters", len(inv.Rasters),
		"models", len(inv.Models),
		"non_spatial", len(inv.NonSpatial),
	)
	return inv, nil
}

func (s *InspectorService) modelPredicate(ctx context.Context, archive output.Archive) domain.ModelProjectPredicate {
	if s.detector == nil {
		return nil
	}
	return func(name string) bool {
		ok, err := s.detector.IsModelProject(ctx, archive, name)
		if err != nil {
			s.logger.Debug("model project check failed", "entry", name, "error", err)
			return false
		}
		return ok
	}
}

func (s *InspectorService) skipLayer(name string) bool {
	upper := strings.ToUpper(name)
	for _, frag := range s.skipLayers {
		if frag != "" && strings.Contains(upper, strings.ToUpper(frag)) {
			return true
		}
	}
	return false
}

// ArchiveHandle is an opened archive with its lazily computed inventory.
type ArchiveHandle struct {
	archive   output.Archive
	inspector *InspectorService

	once sync.Once
	inv  *domain.ContentInventory
	err  error
}

// Archive returns the underlying archive.
func (h *ArchiveHandle) Archive() output.Archive {
	return h.archive
}

// Locator returns the bucket and key of the archive.
func (h *ArchiveHandle) Locator() domain.ArchiveLocator {
	return h.archive.Locator()
}

// Inventory classifies the archive entries on first use and returns the
// same inventory afterwards.
func (h *ArchiveHandle) Inventory(ctx context.Context) (*domain.ContentInventory, error) {
	h.once.Do(func() {
		h.inv, h.err = h.inspector.classify(ctx, h.archive)
	})
	return h.inv, h.err
}

// Close releases the archive.
func (h *ArchiveHandle) Close() error {
	return h.archive.Close()
}
