package output

import (
	"context"

	"github.com/jobrunner/zipcat/internal/domain"
)

// CoordinateTransformer defines the secondary port for coordinate transformations.
type CoordinateTransformer interface {
	// Transform transforms coordinates from the source projection to the
	// target SRID. Output order matches input order and the axis order is
	// always (x/lon, y/lat).
	Transform(ctx context.Context, coords []domain.Coordinate, from domain.Projection, targetSRID int) ([]domain.Coordinate, error)

	// IsSupported checks if a transformation is supported.
	IsSupported(from domain.Projection, targetSRID int) bool
}
