package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/zipcat/internal/domain"
)

func TestSizeGuardCheck(t *testing.T) {
	const gb = 1024 * 1024 * 1024

	tests := []struct {
		name        string
		maxGB       float64
		estimate    domain.SizeEstimate
		estErr      error
		wantTooBig  bool
		wantExtract bool
	}{
		{
			name:     "under ceiling",
			maxGB:    1,
			estimate: domain.SizeEstimate{BytesPerFeature: 100, FeatureCount: 1000},
		},
		{
			name:       "over ceiling",
			maxGB:      1,
			estimate:   domain.SizeEstimate{BytesPerFeature: gb / 2, FeatureCount: 3},
			wantTooBig: true,
		},
		{
			name:     "exactly at ceiling",
			maxGB:    1,
			estimate: domain.SizeEstimate{BytesPerFeature: gb / 4, FeatureCount: 4},
		},
		{
			name:     "disabled",
			maxGB:    0,
			estimate: domain.SizeEstimate{BytesPerFeature: gb, FeatureCount: 100},
		},
		{
			name:        "estimate fails",
			maxGB:       1,
			estErr:      errors.New("corrupt record"),
			wantExtract: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewSizeGuard(tt.maxGB, testLogger())
			est := &mockExtractor{kind: domain.AssetKindVector, estimate: tt.estimate, estErr: tt.estErr}
			asset := domain.AssetRef{Kind: domain.AssetKindVector, Name: "roads.shp"}

			got, err := g.Check(context.Background(), est, newMockArchive("a.zip"), asset)

			if errors.Is(err, domain.ErrAssetTooLarge) != tt.wantTooBig {
				t.Errorf("Check() error = %v, wantTooBig %v", err, tt.wantTooBig)
			}
			var merr *domain.MetadataExtractionError
			if errors.As(err, &merr) != tt.wantExtract {
				t.Errorf("Check() error = %v, want MetadataExtractionError %v", err, tt.wantExtract)
			}
			if !tt.wantExtract && got != tt.estimate {
				t.Errorf("Check() estimate = %+v, want %+v", got, tt.estimate)
			}
			if !tt.wantTooBig && !tt.wantExtract && err != nil {
				t.Errorf("Check() unexpected error = %v", err)
			}
		})
	}
}
