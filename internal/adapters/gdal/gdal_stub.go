//go:build !gdal

package gdal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Available reports whether the binary was built with GDAL support.
const Available = false

var errNoGDAL = fmt.Errorf("GDAL readers need a build with the gdal tag: %w", domain.ErrUnsupportedFormat)

// Extractor is the placeholder used when GDAL is not compiled in. Every
// call fails with domain.ErrUnsupportedFormat.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates the placeholder extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *Extractor) Kind() domain.AssetKind {
	return domain.AssetKindDatabaseLayer
}

// Layers implements output.LayerSource.
func (e *Extractor) Layers(context.Context, output.Archive) ([]string, error) {
	return nil, errNoGDAL
}

// Extract implements output.AssetExtractor.
func (e *Extractor) Extract(_ context.Context, _ output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	return domain.AssetMetadata{}, &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindDatabaseLayer, Err: errNoGDAL}
}

// EstimateSize implements output.SizeEstimator.
func (e *Extractor) EstimateSize(_ context.Context, _ output.Archive, asset domain.AssetRef) (domain.SizeEstimate, error) {
	return domain.SizeEstimate{}, &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindDatabaseLayer, Err: errNoGDAL}
}

// SamplePoints implements output.PointSampler.
func (e *Extractor) SamplePoints(_ context.Context, _ output.Archive, asset domain.AssetRef, _ int) ([]domain.Coordinate, error) {
	return nil, &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindDatabaseLayer, Err: errNoGDAL}
}

// RasterExtractor is the placeholder raster extractor. It is never
// registered because Available is false.
type RasterExtractor struct {
	logger *slog.Logger
}

// NewRasterExtractor creates the placeholder raster extractor.
func NewRasterExtractor(logger *slog.Logger) *RasterExtractor {
	return &RasterExtractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *RasterExtractor) Kind() domain.AssetKind {
	return domain.AssetKindRaster
}

// Extract implements output.AssetExtractor.
func (e *RasterExtractor) Extract(_ context.Context, _ output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	return domain.AssetMetadata{}, &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindRaster, Err: errNoGDAL}
}
