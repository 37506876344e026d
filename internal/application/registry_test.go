package application

import (
	"errors"
	"testing"

	"github.com/jobrunner/zipcat/internal/domain"
)

func TestExtractorRegistry(t *testing.T) {
	vector := &mockExtractor{kind: domain.AssetKindVector}
	raster := plainExtractor{inner: &mockExtractor{kind: domain.AssetKindRaster}}

	r := NewExtractorRegistry(vector, raster)

	t.Run("lookup", func(t *testing.T) {
		e, err := r.Extractor(domain.AssetKindVector)
		if err != nil {
			t.Fatalf("Extractor() error = %v", err)
		}
		if e != vector {
			t.Error("Extractor() returned the wrong extractor")
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := r.Extractor(domain.AssetKindModel)
		if !errors.Is(err, domain.ErrUnsupportedFormat) {
			t.Errorf("Extractor() error = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("optional capabilities", func(t *testing.T) {
		if _, ok := r.Estimator(domain.AssetKindVector); !ok {
			t.Error("vector extractor should provide a size estimator")
		}
		if _, ok := r.Sampler(domain.AssetKindVector); !ok {
			t.Error("vector extractor should provide a point sampler")
		}
		if _, ok := r.Estimator(domain.AssetKindRaster); ok {
			t.Error("raster extractor should not provide a size estimator")
		}
		if _, ok := r.Sampler(domain.AssetKindModel); ok {
			t.Error("unknown kind should not provide a point sampler")
		}
	})

	t.Run("kinds", func(t *testing.T) {
		got := r.Kinds()
		want := []domain.AssetKind{domain.AssetKindRaster, domain.AssetKindVector}
		if len(got) != len(want) {
			t.Fatalf("Kinds() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Kinds()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("register replaces", func(t *testing.T) {
		other := &mockExtractor{kind: domain.AssetKindVector}
		r.Register(other)
		if e, _ := r.Extractor(domain.AssetKindVector); e != other {
			t.Error("Register() did not replace the vector extractor")
		}
	})
}
