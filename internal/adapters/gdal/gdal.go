//go:build gdal

// Package gdal reads file geodatabase layers and rasters through GDAL/OGR.
// It is only built with the gdal tag; without it every call reports the
// format as unsupported.
package gdal

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #include "cpl_conv.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Available reports whether the binary was built with GDAL support.
const Available = true

var registerOnce sync.Once

// Extractor implements output.LayerSource, output.AssetExtractor,
// output.SizeEstimator and output.PointSampler for geodatabase layers.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a GDAL-backed layer extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	registerOnce.Do(func() { C.GDALAllRegister() })
	return &Extractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *Extractor) Kind() domain.AssetKind {
	return domain.AssetKindDatabaseLayer
}

// Layers lists the layers of the geodatabase held in the archive.
func (e *Extractor) Layers(ctx context.Context, archive output.Archive) ([]string, error) {
	ds, err := e.open(archive)
	if err != nil {
		return nil, err
	}
	defer C.GDALClose(ds)

	n := int(C.GDALDatasetGetLayerCount(ds))
	layers := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l := C.GDALDatasetGetLayer(ds, C.int(i))
		if l == nil {
			continue
		}
		layers = append(layers, C.GoString(C.OGR_L_GetName(l)))
	}
	return layers, nil
}

// Extract reads the extent, spatial reference, geometry type, fields and
// feature count of one layer.
func (e *Extractor) Extract(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	ds, err := e.open(archive)
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}
	defer C.GDALClose(ds)

	l, err := layer(ds, asset.Name)
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}

	srs := C.OGR_L_GetSpatialRef(l)
	if srs == nil {
		return domain.AssetMetadata{}, fmt.Errorf("layer %s: no spatial reference: %w", asset.Name, domain.ErrNoMetadata)
	}
	proj, err := projection(srs)
	if err != nil {
		return domain.AssetMetadata{}, err
	}

	var env C.OGREnvelope
	if C.OGR_L_GetExtent(l, &env, 1) != C.OGRERR_NONE {
		return domain.AssetMetadata{}, fmt.Errorf("layer %s: no extent: %w", asset.Name, domain.ErrNoMetadata)
	}

	meta := domain.AssetMetadata{
		Kind:         domain.AssetKindDatabaseLayer,
		Name:         asset.Name,
		BBox:         domain.NewBBox(float64(env.MinX), float64(env.MinY), float64(env.MaxX), float64(env.MaxY)),
		Projection:   proj,
		GeometryType: C.GoString(C.OGRGeometryTypeToName(C.OGR_L_GetGeomType(l))),
		FeatureCount: int64(C.OGR_L_GetFeatureCount(l, 1)),
	}

	defn := C.OGR_L_GetLayerDefn(l)
	for i := 0; i < int(C.OGR_FD_GetFieldCount(defn)); i++ {
		meta.Fields = append(meta.Fields, C.GoString(C.OGR_Fld_GetNameRef(C.OGR_FD_GetFieldDefn(defn, C.int(i)))))
	}
	return meta, nil
}

// EstimateSize measures the WKB size and attribute count of the first
// feature.
func (e *Extractor) EstimateSize(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.SizeEstimate, error) {
	ds, err := e.open(archive)
	if err != nil {
		return domain.SizeEstimate{}, e.wrap(asset, err)
	}
	defer C.GDALClose(ds)

	l, err := layer(ds, asset.Name)
	if err != nil {
		return domain.SizeEstimate{}, e.wrap(asset, err)
	}

	est := domain.SizeEstimate{FeatureCount: int64(C.OGR_L_GetFeatureCount(l, 1))}
	C.OGR_L_ResetReading(l)
	f := C.OGR_L_GetNextFeature(l)
	if f == nil {
		return est, nil
	}
	defer C.OGR_F_Destroy(f)

	if g := C.OGR_F_GetGeometryRef(f); g != nil {
		est.BytesPerFeature += int64(C.OGR_G_WkbSize(g))
	}
	for i := 0; i < int(C.OGR_F_GetFieldCount(f)); i++ {
		est.BytesPerFeature += int64(len(C.GoString(C.OGR_F_GetFieldAsString(f, C.int(i))))) + 8
	}
	return est, nil
}

// SamplePoints walks every feature of the layer and keeps an evenly spread
// subset of at most max vertices.
func (e *Extractor) SamplePoints(ctx context.Context, archive output.Archive, asset domain.AssetRef, max int) ([]domain.Coordinate, error) {
	if max <= 0 {
		return nil, nil
	}
	ds, err := e.open(archive)
	if err != nil {
		return nil, e.wrap(asset, err)
	}
	defer C.GDALClose(ds)

	l, err := layer(ds, asset.Name)
	if err != nil {
		return nil, e.wrap(asset, err)
	}

	sampler := domain.NewVertexSampler(max)
	C.OGR_L_ResetReading(l)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := C.OGR_L_GetNextFeature(l)
		if f == nil {
			break
		}
		if g := C.OGR_F_GetGeometryRef(f); g != nil {
			addVertices(sampler, g)
		}
		C.OGR_F_Destroy(f)
	}
	return sampler.Points(), nil
}

// open opens the geodatabase directory inside the archive through /vsizip/.
func (e *Extractor) open(archive output.Archive) (C.GDALDatasetH, error) {
	path := strings.TrimSuffix(archive.VSIPath(geodatabaseDir(archive)), "/")
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	ds := C.GDALOpenEx(cPath, C.GDAL_OF_VECTOR|C.GDAL_OF_READONLY, nil, nil, nil)
	if ds == nil {
		return nil, fmt.Errorf("opening %s: %s: %w", path, lastError(), domain.ErrUnsupportedFormat)
	}
	e.logger.Debug("opened geodatabase", "path", path)
	return ds, nil
}

func (e *Extractor) wrap(asset domain.AssetRef, err error) error {
	return &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindDatabaseLayer, Err: err}
}

// geodatabaseDir returns the top-level .gdb directory of the archive, or ""
// when the archive root is the geodatabase itself.
func geodatabaseDir(archive output.Archive) string {
	for _, entry := range archive.Entries() {
		top := strings.SplitN(entry.Name, "/", 2)[0]
		if strings.HasSuffix(strings.ToLower(top), ".gdb") {
			return top
		}
	}
	return ""
}

func layer(ds C.GDALDatasetH, name string) (C.OGRLayerH, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	l := C.GDALDatasetGetLayerByName(ds, cName)
	if l == nil {
		return nil, fmt.Errorf("layer %s: %w", name, domain.ErrEntryNotFound)
	}
	return l, nil
}

func projection(srs C.OGRSpatialReferenceH) (domain.Projection, error) {
	var wkt *C.char
	if C.OSRExportToWkt(srs, &wkt) != C.OGRERR_NONE {
		return domain.Projection{}, &domain.ProjectionError{Reason: "exporting spatial reference: " + lastError()}
	}
	defer C.VSIFree(unsafe.Pointer(wkt))

	p, err := domain.ParseProjection(C.GoString(wkt))
	if err != nil {
		return domain.Projection{}, err
	}
	if p.SRID == 0 {
		_ = C.OSRAutoIdentifyEPSG(srs)
		if code := C.OSRGetAuthorityCode(srs, nil); code != nil {
			if n, err := strconv.Atoi(C.GoString(code)); err == nil {
				p.SRID = n
			}
		}
	}
	return p, nil
}

func addVertices(s *domain.VertexSampler, g C.OGRGeometryH) {
	if n := int(C.OGR_G_GetGeometryCount(g)); n > 0 {
		for i := 0; i < n; i++ {
			addVertices(s, C.OGR_G_GetGeometryRef(g, C.int(i)))
		}
		return
	}
	for i := 0; i < int(C.OGR_G_GetPointCount(g)); i++ {
		s.Add(float64(C.OGR_G_GetX(g, C.int(i))), float64(C.OGR_G_GetY(g, C.int(i))))
	}
}

func lastError() string {
	msg := C.GoString(C.CPLGetLastErrorMsg())
	if msg == "" {
		return "unknown GDAL error"
	}
	return msg
}
