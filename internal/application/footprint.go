package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// ConusRegion is the default region inside which hull footprints are derived.
var ConusRegion = domain.NewBBox(-129.740295, 20.941240, -61.888733, 50.106708)

// Footprint methods reported to metrics.
const (
	FootprintHull      = "hull"
	FootprintRectangle = "rectangle"
)

// FootprintConfig holds configuration for footprint derivation.
type FootprintConfig struct {
	Region          domain.BBox // hulls are only derived inside this box
	HullMaxFeatures int64       // larger assets get the rectangle
	HullMaxPoints   int         // vertex sample size
	Tolerance       float64     // snap grid and simplification threshold, degrees
}

// FootprintService derives item geometries.
type FootprintService struct {
	config     FootprintConfig
	normalizer *Normalizer
	metrics    output.MetricsCollector
	logger     *slog.Logger
}

// NewFootprintService creates a new footprint service.
func NewFootprintService(cfg FootprintConfig, normalizer *Normalizer, metrics output.MetricsCollector, logger *slog.Logger) *FootprintService {
	if cfg.Region == (domain.BBox{}) {
		cfg.Region = ConusRegion
	}
	if cfg.HullMaxFeatures <= 0 {
		cfg.HullMaxFeatures = 10000
	}
	if cfg.HullMaxPoints <= 0 {
		cfg.HullMaxPoints = 5000
	}
	return &FootprintService{
		config:     cfg,
		normalizer: normalizer,
		metrics:    metrics,
		logger:     logger,
	}
}

// Rectangle returns the rectangle footprint of a bbox.
func (s *FootprintService) Rectangle(b domain.BBox) orb.Polygon {
	return b.Polygon()
}

// Derive returns the footprint of an asset in WGS84. meta carries the
// native projection and feature count, bbox the already reprojected box.
// Assets that qualify get a convex hull of their sampled vertices; all
// others, and every hull that cannot be derived, get the rectangle.
func (s *FootprintService) Derive(ctx context.Context, sampler output.PointSampler, archive output.Archive, asset domain.AssetRef, meta domain.AssetMetadata, bbox domain.BBox) orb.Polygon {
	if sampler == nil || !s.qualifies(meta, bbox) {
		s.metrics.IncFootprints(FootprintRectangle)
		return s.Rectangle(bbox)
	}

	hull, err := s.hull(ctx, sampler, archive, asset, meta)
	if err != nil {
		s.logger.Debug("using rectangle footprint", "asset", asset.Name, "error", err)
		s.metrics.IncFootprints(FootprintRectangle)
		return s.Rectangle(bbox)
	}
	s.metrics.IncFootprints(FootprintHull)
	return hull
}

func (s *FootprintService) qualifies(meta domain.AssetMetadata, bbox domain.BBox) bool {
	switch meta.Kind {
	case domain.AssetKindVector, domain.AssetKindDatabaseLayer:
	default:
		return false
	}
	return meta.FeatureCount <= s.config.HullMaxFeatures && bbox.Within(s.config.Region)
}

func (s *FootprintService) hull(ctx context.Context, sampler output.PointSampler, archive output.Archive, asset domain.AssetRef, meta domain.AssetMetadata) (orb.Polygon, error) {
	fail := func(format string, args ...any) error {
		return &domain.FootprintDerivationError{Asset: asset.Name, Reason: fmt.Sprintf(format, args...)}
	}

	native, err := sampler.SamplePoints(ctx, archive, asset, s.config.HullMaxPoints)
	if err != nil {
		return nil, fail("sampling vertices: %v", err)
	}
	if len(native) < 3 {
		return nil, fail("%d vertices sampled", len(native))
	}

	points, err := s.normalizer.PointsToWGS84(ctx, native, meta.Projection)
	if err != nil {
		return nil, fail("reprojecting vertices: %v", err)
	}

	ring := convexHull(snap(points, s.config.Tolerance))
	if len(ring) < 4 {
		return nil, fail("hull has %d vertices", len(ring)-1)
	}
	if s.config.Tolerance > 0 {
		ring = simplify.DouglasPeucker(s.config.Tolerance).Ring(ring)
	}

	if err := validRing(ring); err != nil {
		return nil, fail("%v", err)
	}
	return orb.Polygon{ring}, nil
}

// snap rounds points to a grid of the given size and drops duplicates.
func snap(points []domain.Coordinate, grid float64) []orb.Point {
	seen := make(map[orb.Point]bool, len(points))
	out := make([]orb.Point, 0, len(points))
	for _, p := range points {
		pt := orb.Point{p.X, p.Y}
		if grid > 0 {
			pt = orb.Point{math.Round(p.X/grid) * grid, math.Round(p.Y/grid) * grid}
		}
		if seen[pt] {
			continue
		}
		seen[pt] = true
		out = append(out, pt)
	}
	return out
}

// convexHull returns the closed counter-clockwise hull ring of the points.
// Degenerate inputs whose hull is a point or a line yield nil.
func convexHull(points []orb.Point) orb.Ring {
	seen := make(map[orb.Point]bool, len(points))
	flat := make([]float64, 0, 2*len(points))
	for _, p := range points {
		if !seen[p] {
			seen[p] = true
			flat = append(flat, p[0], p[1])
		}
	}
	if len(seen) < 3 {
		return nil
	}

	poly, ok := xy.ConvexHullFlat(geom.XY, flat).(*geom.Polygon)
	if !ok {
		return nil
	}
	coords := poly.FlatCoords()
	ring := make(orb.Ring, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		ring = append(ring, orb.Point{coords[i], coords[i+1]})
	}
	if ring.Orientation() == orb.CW {
		ring.Reverse()
	}
	return ring
}

func validRing(ring orb.Ring) error {
	if !ring.Closed() {
		return fmt.Errorf("ring is not closed")
	}
	distinct := make(map[orb.Point]bool, len(ring))
	for _, p := range ring {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return fmt.Errorf("ring has NaN vertices")
		}
		distinct[p] = true
	}
	if len(distinct) < 3 {
		return fmt.Errorf("ring has %d distinct vertices", len(distinct))
	}
	if area := planar.Area(orb.Polygon{ring}); area <= 0 {
		return fmt.Errorf("ring area %g is not positive", area)
	}
	return nil
}
