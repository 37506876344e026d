// Package shapefile reads ESRI shapefile metadata out of zip archives.
//
// Headers of the .shp, .shx and .dbf members are parsed directly, which
// needs only the first few hundred bytes of each. Feature geometry is decoded
// with go-shp and only read for size estimates and footprint sampling.
package shapefile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

const (
	shpHeaderSize = 100
	shpFileCode   = 9994
	dbfHeaderSize = 32
	dbfFieldSize  = 32
	dbfTerminator = 0x0D

	// maxPrjBytes bounds the projection sidecar read.
	maxPrjBytes = 64 << 10
)

// geometryTypes maps shapefile shape type codes to geometry names.
var geometryTypes = map[int32]string{
	0:  "None",
	1:  "Point",
	3:  "LineString",
	5:  "Polygon",
	8:  "MultiPoint",
	11: "PointZ",
	13: "LineStringZ",
	15: "PolygonZ",
	18: "MultiPointZ",
	21: "PointM",
	23: "LineStringM",
	25: "PolygonM",
	28: "MultiPointM",
	31: "MultiPatch",
}

// Extractor reads shapefile assets. It implements output.AssetExtractor,
// output.SizeEstimator and output.PointSampler.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a shapefile extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *Extractor) Kind() domain.AssetKind {
	return domain.AssetKindVector
}

// Extract reads the bbox and shape type from the .shp header, the projection
// from the .prj sidecar and the attribute table layout from the .dbf.
func (e *Extractor) Extract(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	proj, err := e.projection(ctx, archive, asset)
	if err != nil {
		return domain.AssetMetadata{}, err
	}

	hdr, err := readHeader(ctx, archive, asset.Name)
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}

	meta := domain.AssetMetadata{
		Kind:         domain.AssetKindVector,
		Name:         asset.Name,
		BBox:         hdr.bbox,
		Projection:   proj,
		GeometryType: geometryTypeName(hdr.shapeType),
	}

	counted := true
	if dbf, ok := asset.Sidecar(".dbf"); ok {
		tbl, err := readTable(ctx, archive, dbf)
		if err != nil {
			return domain.AssetMetadata{}, e.wrap(asset, err)
		}
		meta.Fields = tbl.fields
		meta.FeatureCount = tbl.records
	} else if shx, ok := asset.Sidecar(".shx"); ok {
		n, err := countFromIndex(ctx, archive, shx)
		if err != nil {
			return domain.AssetMetadata{}, e.wrap(asset, err)
		}
		meta.FeatureCount = n
	} else {
		counted = false
	}

	if counted && meta.FeatureCount == 0 {
		e.logger.Debug("shapefile has no features", "asset", asset.Name)
		return domain.AssetMetadata{}, fmt.Errorf("%s: empty shapefile: %w", asset.Name, domain.ErrNoMetadata)
	}
	if !hdr.bbox.IsValid() {
		return domain.AssetMetadata{}, e.wrap(asset, fmt.Errorf("invalid header bounding box %v", hdr.bbox))
	}

	return meta, nil
}

// EstimateSize decodes the first feature and extrapolates its size over the
// feature count taken from the .dbf header.
func (e *Extractor) EstimateSize(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.SizeEstimate, error) {
	dbf, ok := asset.Sidecar(".dbf")
	if !ok {
		return domain.SizeEstimate{}, e.wrap(asset, errors.New("missing .dbf sidecar"))
	}
	tbl, err := readTable(ctx, archive, dbf)
	if err != nil {
		return domain.SizeEstimate{}, e.wrap(asset, err)
	}

	sr, err := e.openSequential(ctx, archive, asset)
	if err != nil {
		return domain.SizeEstimate{}, err
	}
	defer func() { _ = sr.Close() }()

	if !sr.Next() {
		if err := sr.Err(); err != nil {
			return domain.SizeEstimate{}, e.wrap(asset, err)
		}
		return domain.SizeEstimate{FeatureCount: tbl.records}, nil
	}
	_, shape := sr.Shape()

	return domain.SizeEstimate{
		BytesPerFeature: shapeBytes(shape) + tbl.recordLength,
		FeatureCount:    tbl.records,
	}, nil
}

// SamplePoints walks every feature and keeps an evenly spread subset of at
// most max vertices.
func (e *Extractor) SamplePoints(ctx context.Context, archive output.Archive, asset domain.AssetRef, max int) ([]domain.Coordinate, error) {
	if max <= 0 {
		return nil, nil
	}
	sr, err := e.openSequential(ctx, archive, asset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sr.Close() }()

	sampler := domain.NewVertexSampler(max)
	for sr.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, shape := sr.Shape()
		for _, p := range vertices(shape) {
			sampler.Add(p.X, p.Y)
		}
	}
	if err := sr.Err(); err != nil {
		return nil, e.wrap(asset, err)
	}
	return sampler.Points(), nil
}

func (e *Extractor) projection(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.Projection, error) {
	prj, ok := asset.Sidecar(".prj")
	if !ok {
		return domain.Projection{}, fmt.Errorf("%s: no .prj sidecar: %w", asset.Name, domain.ErrNoMetadata)
	}
	rc, err := archive.Open(ctx, prj)
	if err != nil {
		return domain.Projection{}, e.wrap(asset, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxPrjBytes))
	if err != nil {
		return domain.Projection{}, e.wrap(asset, err)
	}
	text := strings.TrimSpace(string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	if text == "" {
		return domain.Projection{}, fmt.Errorf("%s: blank .prj sidecar: %w", asset.Name, domain.ErrNoMetadata)
	}
	return domain.ParseProjection(text)
}

func (e *Extractor) openSequential(ctx context.Context, archive output.Archive, asset domain.AssetRef) (shp.SequentialReader, error) {
	dbfName, ok := asset.Sidecar(".dbf")
	if !ok {
		return nil, e.wrap(asset, errors.New("missing .dbf sidecar"))
	}
	shpFile, err := archive.Open(ctx, asset.Name)
	if err != nil {
		return nil, e.wrap(asset, err)
	}
	dbfFile, err := archive.Open(ctx, dbfName)
	if err != nil {
		_ = shpFile.Close()
		return nil, e.wrap(asset, err)
	}
	sr := shp.SequentialReaderFromExt(shpFile, dbfFile)
	if err := sr.Err(); err != nil {
		_ = sr.Close()
		return nil, e.wrap(asset, err)
	}
	return sr, nil
}

func (e *Extractor) wrap(asset domain.AssetRef, err error) error {
	return &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindVector, Err: err}
}

type header struct {
	shapeType int32
	bbox      domain.BBox
}

func readHeader(ctx context.Context, archive output.Archive, name string) (header, error) {
	buf, err := readPrefix(ctx, archive, name, shpHeaderSize)
	if err != nil {
		return header{}, err
	}
	if code := binary.BigEndian.Uint32(buf[0:4]); code != shpFileCode {
		return header{}, fmt.Errorf("%s: bad file code %d: %w", name, code, domain.ErrUnsupportedFormat)
	}
	le := binary.LittleEndian
	return header{
		shapeType: int32(le.Uint32(buf[32:36])),
		bbox: domain.NewBBox(
			math.Float64frombits(le.Uint64(buf[36:44])),
			math.Float64frombits(le.Uint64(buf[44:52])),
			math.Float64frombits(le.Uint64(buf[52:60])),
			math.Float64frombits(le.Uint64(buf[60:68])),
		),
	}, nil
}

type table struct {
	records      int64
	recordLength int64
	fields       []string
}

func readTable(ctx context.Context, archive output.Archive, name string) (table, error) {
	rc, err := archive.Open(ctx, name)
	if err != nil {
		return table{}, err
	}
	defer func() { _ = rc.Close() }()

	hdr := make([]byte, dbfHeaderSize)
	if _, err := io.ReadFull(rc, hdr); err != nil {
		return table{}, fmt.Errorf("%s: reading header: %w", name, err)
	}
	le := binary.LittleEndian
	t := table{
		records:      int64(le.Uint32(hdr[4:8])),
		recordLength: int64(le.Uint16(hdr[10:12])),
	}
	headerLen := int(le.Uint16(hdr[8:10]))
	if headerLen < dbfHeaderSize+1 {
		return table{}, fmt.Errorf("%s: header length %d: %w", name, headerLen, domain.ErrUnsupportedFormat)
	}

	desc := make([]byte, headerLen-dbfHeaderSize)
	if _, err := io.ReadFull(rc, desc); err != nil {
		return table{}, fmt.Errorf("%s: reading field descriptors: %w", name, err)
	}
	for off := 0; off+dbfFieldSize <= len(desc) && desc[off] != dbfTerminator; off += dbfFieldSize {
		raw := desc[off : off+11]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		t.fields = append(t.fields, strings.TrimSpace(string(raw)))
	}
	return t, nil
}

// countFromIndex derives the record count from the .shx file length; every
// index record is 8 bytes.
func countFromIndex(ctx context.Context, archive output.Archive, name string) (int64, error) {
	buf, err := readPrefix(ctx, archive, name, shpHeaderSize)
	if err != nil {
		return 0, err
	}
	words := int64(binary.BigEndian.Uint32(buf[24:28]))
	n := (words*2 - shpHeaderSize) / 8
	if n < 0 {
		return 0, fmt.Errorf("%s: negative record count: %w", name, domain.ErrUnsupportedFormat)
	}
	return n, nil
}

func readPrefix(ctx context.Context, archive output.Archive, name string, n int) ([]byte, error) {
	rc, err := archive.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	buf := make([]byte, n)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	return buf, nil
}

func geometryTypeName(code int32) string {
	if name, ok := geometryTypes[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

func vertices(s shp.Shape) []shp.Point {
	switch g := s.(type) {
	case *shp.Point:
		return []shp.Point{*g}
	case *shp.PointZ:
		return []shp.Point{{X: g.X, Y: g.Y}}
	case *shp.PointM:
		return []shp.Point{{X: g.X, Y: g.Y}}
	case *shp.PolyLine:
		return g.Points
	case *shp.Polygon:
		return g.Points
	case *shp.MultiPoint:
		return g.Points
	case *shp.PolyLineZ:
		return g.Points
	case *shp.PolygonZ:
		return g.Points
	case *shp.MultiPointZ:
		return g.Points
	case *shp.PolyLineM:
		return g.Points
	case *shp.PolygonM:
		return g.Points
	case *shp.MultiPointM:
		return g.Points
	case *shp.MultiPatch:
		return g.Points
	}
	return nil
}

// shapeBytes approximates the decoded size of a shape: 16 bytes per vertex,
// 4 per part index, plus the record's bounding box and counts.
func shapeBytes(s shp.Shape) int64 {
	switch g := s.(type) {
	case *shp.Point, *shp.PointZ, *shp.PointM:
		return 32
	case *shp.PolyLine:
		return 40 + int64(len(g.Parts))*4 + int64(len(g.Points))*16
	case *shp.Polygon:
		return 40 + int64(len(g.Parts))*4 + int64(len(g.Points))*16
	case *shp.PolyLineZ:
		return 72 + int64(len(g.Parts))*4 + int64(len(g.Points))*32
	case *shp.PolygonZ:
		return 72 + int64(len(g.Parts))*4 + int64(len(g.Points))*32
	}
	return 40 + int64(len(vertices(s)))*16
}
