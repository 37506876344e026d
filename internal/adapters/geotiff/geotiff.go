// Package geotiff reads the georeferencing of GeoTIFF rasters inside zip
// archives. Only the first image directory is parsed; pixel data is never
// read.
package geotiff

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Extractor implements output.AssetExtractor for rasters.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a GeoTIFF extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Kind implements output.AssetExtractor.
func (e *Extractor) Kind() domain.AssetKind {
	return domain.AssetKindRaster
}

// Extract reads the raster size, geotransform and coordinate system.
func (e *Extractor) Extract(ctx context.Context, archive output.Archive, asset domain.AssetRef) (domain.AssetMetadata, error) {
	sec, err := archive.OpenSection(ctx, asset.Name)
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}
	defer func() { _ = sec.Close() }()

	d, err := readIFD0(sec, sec.Size())
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}

	width, err := d.integer(tagImageWidth)
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}
	height, err := d.integer(tagImageLength)
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}

	keys, err := d.geoKeys()
	if errors.Is(err, errNoGeoKeys) {
		return domain.AssetMetadata{}, fmt.Errorf("%s: %v: %w", asset.Name, err, domain.ErrNoMetadata)
	}
	if err != nil {
		return domain.AssetMetadata{}, e.wrap(asset, err)
	}
	proj, err := keys.projection()
	if err != nil {
		return domain.AssetMetadata{}, err
	}

	gt, err := e.transform(ctx, archive, asset, d)
	if err != nil {
		return domain.AssetMetadata{}, err
	}
	if keys.pixelIsPoint() {
		gt = gt.shifted(-0.5, -0.5)
	}

	bbox := gt.bounds(float64(width), float64(height))
	if !bbox.IsValid() {
		return domain.AssetMetadata{}, e.wrap(asset, fmt.Errorf("invalid bounding box %v", bbox))
	}

	return domain.AssetMetadata{
		Kind:       domain.AssetKindRaster,
		Name:       asset.Name,
		BBox:       bbox,
		Projection: proj,
		Resolution: gt.resolution(),
	}, nil
}

// transform derives the pixel-to-model transform from the tiepoint and pixel
// scale tags, the transformation matrix tag, or a world file sidecar, in that
// order.
func (e *Extractor) transform(ctx context.Context, archive output.Archive, asset domain.AssetRef, d *ifd) (geoTransform, error) {
	if d.has(tagModelPixelScale) && d.has(tagModelTiepoint) {
		scale, err := d.floats(tagModelPixelScale)
		if err != nil {
			return geoTransform{}, e.wrap(asset, err)
		}
		tie, err := d.floats(tagModelTiepoint)
		if err != nil {
			return geoTransform{}, e.wrap(asset, err)
		}
		if len(scale) < 2 || len(tie) < 6 {
			return geoTransform{}, e.wrap(asset, fmt.Errorf("short tiepoint or pixel scale: %w", domain.ErrUnsupportedFormat))
		}
		if len(tie) > 6 {
			e.logger.Debug("raster has multiple tiepoints, using the first", "asset", asset.Name, "tiepoints", len(tie)/6)
		}
		return fromTiepoint(scale, tie), nil
	}

	if d.has(tagModelTransformation) {
		m, err := d.floats(tagModelTransformation)
		if err != nil {
			return geoTransform{}, e.wrap(asset, err)
		}
		if len(m) < 16 {
			return geoTransform{}, e.wrap(asset, fmt.Errorf("transformation has %d values: %w", len(m), domain.ErrUnsupportedFormat))
		}
		return geoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}

	for _, ext := range []string{".tfw", ".tifw", ".tiffw"} {
		if name, ok := asset.Sidecar(ext); ok {
			gt, err := readWorldFile(ctx, archive, name)
			if err != nil {
				return geoTransform{}, e.wrap(asset, err)
			}
			return gt, nil
		}
	}

	return geoTransform{}, fmt.Errorf("%s: no geotransform: %w", asset.Name, domain.ErrNoMetadata)
}

func (e *Extractor) wrap(asset domain.AssetRef, err error) error {
	return &domain.MetadataExtractionError{Asset: asset.Name, Kind: domain.AssetKindRaster, Err: err}
}

// geoTransform maps pixel edge coordinates (col, row) to model coordinates:
//
//	x = originX + col*xCol + row*xRow
//	y = originY + col*yCol + row*yRow
type geoTransform struct {
	originX, xCol, xRow float64
	originY, yCol, yRow float64
}

func fromTiepoint(scale, tie []float64) geoTransform {
	sx, sy := scale[0], scale[1]
	i, j, x, y := tie[0], tie[1], tie[3], tie[4]
	return geoTransform{
		originX: x - i*sx, xCol: sx,
		originY: y + j*sy, yRow: -sy,
	}
}

func (g geoTransform) apply(col, row float64) (float64, float64) {
	return g.originX + col*g.xCol + row*g.xRow, g.originY + col*g.yCol + row*g.yRow
}

// shifted moves the origin by a fraction of a pixel.
func (g geoTransform) shifted(dcol, drow float64) geoTransform {
	g.originX, g.originY = g.apply(dcol, drow)
	return g
}

// bounds returns the envelope of the four raster corners.
func (g geoTransform) bounds(width, height float64) domain.BBox {
	box := domain.BBox{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range [][2]float64{{0, 0}, {width, 0}, {0, height}, {width, height}} {
		x, y := g.apply(c[0], c[1])
		box[0] = math.Min(box[0], x)
		box[1] = math.Min(box[1], y)
		box[2] = math.Max(box[2], x)
		box[3] = math.Max(box[3], y)
	}
	return box
}

func (g geoTransform) resolution() [2]float64 {
	return [2]float64{math.Hypot(g.xCol, g.yCol), math.Hypot(g.xRow, g.yRow)}
}

// readWorldFile parses a six-line world file. Its origin names the centre of
// the upper-left pixel, so the result is shifted back to the pixel edge.
func readWorldFile(ctx context.Context, archive output.Archive, name string) (geoTransform, error) {
	rc, err := archive.Open(ctx, name)
	if err != nil {
		return geoTransform{}, err
	}
	defer func() { _ = rc.Close() }()

	var v []float64
	sc := bufio.NewScanner(io.LimitReader(rc, 4096))
	for sc.Scan() && len(v) < 6 {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return geoTransform{}, fmt.Errorf("%s: line %d: %w", name, len(v)+1, err)
		}
		v = append(v, f)
	}
	if err := sc.Err(); err != nil {
		return geoTransform{}, err
	}
	if len(v) < 6 {
		return geoTransform{}, fmt.Errorf("%s: world file has %d values: %w", name, len(v), domain.ErrUnsupportedFormat)
	}

	// A D B E C F
	g := geoTransform{
		originX: v[4], xCol: v[0], xRow: v[2],
		originY: v[5], yCol: v[1], yRow: v[3],
	}
	return g.shifted(-0.5, -0.5), nil
}
