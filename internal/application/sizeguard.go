package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// DefaultMaxAssetGB is the default in-memory ceiling per asset.
const DefaultMaxAssetGB = 1.0

// SizeGuard rejects vector assets whose extrapolated in-memory size exceeds
// the configured ceiling.
type SizeGuard struct {
	maxGB  float64
	logger *slog.Logger
}

// NewSizeGuard creates a size guard. A non-positive maxGB disables the check.
func NewSizeGuard(maxGB float64, logger *slog.Logger) *SizeGuard {
	return &SizeGuard{maxGB: maxGB, logger: logger}
}

// Check estimates the size of an asset. It returns ErrAssetTooLarge when the
// estimate is above the ceiling and a MetadataExtractionError when the
// estimate itself fails. The estimate is returned in both the success and
// the too-large case.
func (g *SizeGuard) Check(ctx context.Context, estimator output.SizeEstimator, archive output.Archive, asset domain.AssetRef) (domain.SizeEstimate, error) {
	est, err := estimator.EstimateSize(ctx, archive, asset)
	if err != nil {
		return domain.SizeEstimate{}, &domain.MetadataExtractionError{
			Asset: asset.Name,
			Kind:  asset.Kind,
			Err:   fmt.Errorf("estimating size: %w", err),
		}
	}

	if g.maxGB > 0 && est.GB() > g.maxGB {
		g.logger.Warn("asset exceeds memory budget",
			"asset", asset.Name,
			"estimate_gb", est.RoundedGB(),
			"max_gb", g.maxGB,
			"features", est.FeatureCount,
		)
		return est, fmt.Errorf("%s: %.3f GB > %.3f GB: %w", asset.Name, est.GB(), g.maxGB, domain.ErrAssetTooLarge)
	}
	return est, nil
}
