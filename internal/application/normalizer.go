package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// BBoxMode selects how a bounding box is carried into the common frame.
type BBoxMode string

const (
	// BBoxModeAuto uses the diagonal transform for geographic and Web
	// Mercator sources and the envelope transform for everything else.
	BBoxModeAuto BBoxMode = "auto"
	// BBoxModeDiagonal transforms the (minX,minY) and (maxX,maxY) corners.
	BBoxModeDiagonal BBoxMode = "diagonal"
	// BBoxModeEnvelope transforms all four corners and returns their
	// enclosing box.
	BBoxModeEnvelope BBoxMode = "envelope"
)

// ParseBBoxMode validates a configured bbox mode. Empty means auto.
func ParseBBoxMode(s string) (BBoxMode, error) {
	switch BBoxMode(s) {
	case "", BBoxModeAuto:
		return BBoxModeAuto, nil
	case BBoxModeDiagonal, BBoxModeEnvelope:
		return BBoxMode(s), nil
	}
	return "", fmt.Errorf("unknown bbox mode %q: %w", s, domain.ErrInvalidInput)
}

// Normalizer reprojects boxes and points into WGS84 longitude/latitude.
type Normalizer struct {
	transformer output.CoordinateTransformer
	mode        BBoxMode
}

// NewNormalizer creates a normalizer using the given transformer.
func NewNormalizer(transformer output.CoordinateTransformer, mode BBoxMode) *Normalizer {
	if mode == "" {
		mode = BBoxModeAuto
	}
	return &Normalizer{transformer: transformer, mode: mode}
}

// Mode returns the configured bbox mode.
func (n *Normalizer) Mode() BBoxMode {
	return n.mode
}

// BBoxToWGS84 transforms a native bbox into [minLon, minLat, maxLon, maxLat].
// An unset projection fails with a ProjectionError; there is no fallback
// frame.
func (n *Normalizer) BBoxToWGS84(ctx context.Context, bbox domain.BBox, from domain.Projection) (domain.BBox, error) {
	if err := checkProjection(from); err != nil {
		return domain.BBox{}, err
	}
	if !bbox.IsFinite() {
		return domain.BBox{}, &domain.ProjectionError{
			Identifier: from.String(),
			Reason:     fmt.Sprintf("bbox %v is not finite", [4]float64(bbox)),
		}
	}
	if from.SRID == domain.SRIDWGS84 {
		return bbox, nil
	}

	if n.envelope(from) {
		corners := bbox.Corners()
		out, err := n.transform(ctx, corners[:], from)
		if err != nil {
			return domain.BBox{}, err
		}
		box, _ := domain.BBoxFromCoordinates(out)
		return box, nil
	}

	out, err := n.transform(ctx, []domain.Coordinate{
		{X: bbox.MinX(), Y: bbox.MinY()},
		{X: bbox.MaxX(), Y: bbox.MaxY()},
	}, from)
	if err != nil {
		return domain.BBox{}, err
	}
	return domain.NewBBox(out[0].X, out[0].Y, out[1].X, out[1].Y), nil
}

// PointsToWGS84 transforms a point cloud into longitude/latitude.
func (n *Normalizer) PointsToWGS84(ctx context.Context, points []domain.Coordinate, from domain.Projection) ([]domain.Coordinate, error) {
	if err := checkProjection(from); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	if from.SRID == domain.SRIDWGS84 {
		out := make([]domain.Coordinate, len(points))
		for i, p := range points {
			out[i] = domain.NewWGS84Coordinate(p.X, p.Y)
		}
		return out, nil
	}
	return n.transform(ctx, points, from)
}

func (n *Normalizer) envelope(from domain.Projection) bool {
	switch n.mode {
	case BBoxModeDiagonal:
		return false
	case BBoxModeEnvelope:
		return true
	}
	return !from.IsGeographic() && !from.IsWebMercator()
}

func (n *Normalizer) transform(ctx context.Context, coords []domain.Coordinate, from domain.Projection) ([]domain.Coordinate, error) {
	out, err := n.transformer.Transform(ctx, coords, from, domain.SRIDWGS84)
	if err != nil {
		var perr *domain.ProjectionError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &domain.ProjectionError{Identifier: from.String(), Err: err}
	}
	if len(out) != len(coords) {
		return nil, &domain.ProjectionError{
			Identifier: from.String(),
			Reason:     fmt.Sprintf("transformer returned %d of %d coordinates", len(out), len(coords)),
		}
	}
	for i, c := range out {
		if !c.IsFinite() {
			return nil, &domain.ProjectionError{
				Identifier: from.String(),
				Reason:     fmt.Sprintf("coordinate %v has no finite image", coords[i]),
			}
		}
		out[i].SRID = domain.SRIDWGS84
	}
	return out, nil
}

func checkProjection(p domain.Projection) error {
	if p.IsZero() {
		return &domain.ProjectionError{Reason: "empty projection identifier"}
	}
	return nil
}
