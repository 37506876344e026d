package output

import (
	"context"

	"github.com/jobrunner/zipcat/internal/domain"
)

// AssetExtractor reads the native metadata of one kind of asset.
// Extractors return domain.ErrNoMetadata for assets without usable
// georeferencing; the caller skips those without counting a failure.
type AssetExtractor interface {
	// Kind returns the asset kind the extractor handles.
	Kind() domain.AssetKind

	// Extract reads the metadata of an asset. BBox is in the native
	// projection of the asset.
	Extract(ctx context.Context, archive Archive, asset domain.AssetRef) (domain.AssetMetadata, error)
}

// SizeEstimator extrapolates the in-memory size of an asset from one sample
// feature and the feature count.
type SizeEstimator interface {
	EstimateSize(ctx context.Context, archive Archive, asset domain.AssetRef) (domain.SizeEstimate, error)
}

// PointSampler returns at most max vertices of an asset's geometries in the
// native projection.
type PointSampler interface {
	SamplePoints(ctx context.Context, archive Archive, asset domain.AssetRef, max int) ([]domain.Coordinate, error)
}

// LayerSource lists the layers of a database archive.
type LayerSource interface {
	Layers(ctx context.Context, archive Archive) ([]string, error)
}

// ModelProjectDetector decides whether a .prj entry is a hydraulic model
// project file.
type ModelProjectDetector interface {
	IsModelProject(ctx context.Context, archive Archive, name string) (bool, error)
}
