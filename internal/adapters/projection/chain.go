package projection

import (
	"context"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// Chain tries transformers in order and uses the first one that supports
// the projection pair.
type Chain struct {
	transformers []output.CoordinateTransformer
}

// NewChain creates a chain; nil entries are ignored.
func NewChain(transformers ...output.CoordinateTransformer) *Chain {
	c := &Chain{}
	for _, t := range transformers {
		if t != nil {
			c.transformers = append(c.transformers, t)
		}
	}
	return c
}

// IsSupported reports whether any transformer supports the pair.
func (c *Chain) IsSupported(from domain.Projection, targetSRID int) bool {
	if from.SRID != 0 && from.SRID == targetSRID {
		return true
	}
	for _, t := range c.transformers {
		if t.IsSupported(from, targetSRID) {
			return true
		}
	}
	return false
}

// Transform delegates to the first supporting transformer. A source equal
// to the target returns the input unchanged.
func (c *Chain) Transform(ctx context.Context, coords []domain.Coordinate, from domain.Projection, targetSRID int) ([]domain.Coordinate, error) {
	if from.SRID != 0 && from.SRID == targetSRID {
		out := make([]domain.Coordinate, len(coords))
		for i, co := range coords {
			out[i] = domain.NewCoordinate(co.X, co.Y, targetSRID)
		}
		return out, nil
	}
	for _, t := range c.transformers {
		if t.IsSupported(from, targetSRID) {
			return t.Transform(ctx, coords, from, targetSRID)
		}
	}
	return nil, &domain.ProjectionError{Identifier: from.String(), Err: domain.ErrUnsupportedProjection}
}
