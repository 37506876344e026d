package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/zipcat/internal/domain"
)

// fixedTransformer maps every coordinate to a fixed point.
type fixedTransformer struct {
	srids map[int]bool
	x, y  float64
	calls int
}

func (f *fixedTransformer) IsSupported(from domain.Projection, targetSRID int) bool {
	return f.srids[from.SRID] && targetSRID == domain.SRIDWGS84
}

func (f *fixedTransformer) Transform(_ context.Context, coords []domain.Coordinate, _ domain.Projection, targetSRID int) ([]domain.Coordinate, error) {
	f.calls++
	out := make([]domain.Coordinate, len(coords))
	for i := range coords {
		out[i] = domain.NewCoordinate(f.x, f.y, targetSRID)
	}
	return out, nil
}

func TestChainOrder(t *testing.T) {
	library := &fixedTransformer{srids: map[int]bool{32614: true, 26914: true}, x: 1, y: 1}
	fallback := &fixedTransformer{srids: map[int]bool{32614: true, 26914: true, 5070: true}, x: 2, y: 2}
	chain := NewChain(library, nil, fallback)

	tests := []struct {
		srid  int
		wantX float64
	}{
		{32614, 1},
		{26914, 1},
		{5070, 2},
	}
	for _, tt := range tests {
		t.Run(domain.EPSG(tt.srid).String(), func(t *testing.T) {
			got, err := chain.Transform(context.Background(), []domain.Coordinate{{X: 500000, Y: 0}}, domain.EPSG(tt.srid), domain.SRIDWGS84)
			if err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			if got[0].X != tt.wantX {
				t.Errorf("X = %v, want %v", got[0].X, tt.wantX)
			}
		})
	}
	if library.calls != 2 || fallback.calls != 1 {
		t.Errorf("calls = %d/%d, want 2/1", library.calls, fallback.calls)
	}
}

func TestChainIdentityAndUnsupported(t *testing.T) {
	chain := NewChain(&fixedTransformer{})

	got, err := chain.Transform(context.Background(), []domain.Coordinate{{X: -99, Y: 30}}, domain.WGS84(), domain.SRIDWGS84)
	if err != nil {
		t.Fatalf("Transform(identity) error = %v", err)
	}
	if got[0].X != -99 || got[0].Y != 30 || got[0].SRID != domain.SRIDWGS84 {
		t.Errorf("identity = %+v", got[0])
	}

	_, err = chain.Transform(context.Background(), nil, domain.EPSG(2229), domain.SRIDWGS84)
	if !errors.Is(err, domain.ErrUnsupportedProjection) {
		t.Errorf("Transform(unsupported) error = %v, want ErrUnsupportedProjection", err)
	}
	if chain.IsSupported(domain.EPSG(2229), domain.SRIDWGS84) {
		t.Error("IsSupported(2229) = true")
	}
}
