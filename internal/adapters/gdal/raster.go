//go:build gdal

package gdal

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_srs_api.h"
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"unsafe"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// RasterExtractor reads raster georeferencing with GDAL. It replaces the
// pure Go GeoTIFF reader in gdal builds and also handles user-defined
// coordinate systems and raster formats other than GeoTIFF.
type RasterExtractor struct {
	logger *slog.Logger
}

// NewRasterExtractor creates a GDAL-backed raster extractor.
func NewRasterExtractor(logger *slog.Logger) *RasterExtractor {
	registerOnce.Do(func() { C.GDALAllRegister() })
	return &RasterExtractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *RasterExtractor) Kind() domain.AssetKind {
	return domain.AssetKindRaster
}

// Extract reads the raster size, geotransform and spatial reference.
func (e *RasterExtractor) Extract(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssetMetadata{}, err
	}

	path := archive.VSIPath(asset.Name)
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	ds := C.GDALOpen(cPath, C.GA_ReadOnly)
	if ds == nil {
		return domain.AssetMetadata{}, e.wrap(asset, fmt.Errorf("opening %s: %s: %w", path, lastError(), domain.ErrUnsupportedFormat))
	}
	defer C.GDALClose(ds)

	var gt [6]C.double
	if C.GDALGetGeoTransform(ds, &gt[0]) != C.CE_None {
		return domain.AssetMetadata{}, fmt.Errorf("%s: no geotransform: %w", asset.Name, domain.ErrNoMetadata)
	}

	wkt := C.GDALGetProjectionRef(ds)
	if wkt == nil || C.GoString(wkt) == "" {
		return domain.AssetMetadata{}, fmt.Errorf("%s: no spatial reference: %w", asset.Name, domain.ErrNoMetadata)
	}
	srs := C.OSRNewSpatialReference(wkt)
	if srs == nil {
		return domain.AssetMetadata{}, &domain.ProjectionError{Identifier: asset.Name, Reason: "parsing spatial reference: " + lastError()}
	}
	defer C.OSRDestroySpatialReference(srs)

	proj, err := projection(srs)
	if err != nil {
		return domain.AssetMetadata{}, err
	}

	g := [6]float64{}
	for i := range gt {
		g[i] = float64(gt[i])
	}
	width := float64(C.GDALGetRasterXSize(ds))
	height := float64(C.GDALGetRasterYSize(ds))

	bbox := rasterBounds(g, width, height)
	if !bbox.IsValid() {
		return domain.AssetMetadata{}, e.wrap(asset, fmt.Errorf("invalid bounding box %v", bbox))
	}

	e.logger.Debug("read raster", "path", path, "width", width, "height", height)
	return domain.AssetMetadata{
		Kind:       domain.AssetKindRaster,
		Name:       asset.Name,
		BBox:       bbox,
		Projection: proj,
		Resolution: [2]float64{math.Hypot(g[1], g[4]), math.Hypot(g[2], g[5])},
	}, nil
}

func (e *RasterExtractor) wrap(asset domain.AssetRef, err error) error {
	return &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindRaster, Err: err}
}

// rasterBounds returns the envelope of the raster corners under a GDAL
// geotransform.
func rasterBounds(gt [6]float64, width, height float64) domain.BBox {
	box := domain.BBox{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range [][2]float64{{0, 0}, {width, 0}, {0, height}, {width, height}} {
		x := gt[0] + c[0]*gt[1] + c[1]*gt[2]
		y := gt[3] + c[0]*gt[4] + c[1]*gt[5]
		box[0] = math.Min(box[0], x)
		box[1] = math.Min(box[1], y)
		box[2] = math.Max(box[2], x)
		box[3] = math.Max(box[3], y)
	}
	return box
}
