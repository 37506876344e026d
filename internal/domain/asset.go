package domain

import "math"

// AssetMetadata is the immutable snapshot an extractor produces for one
// asset. BBox is in the native projection; the reprojected box is computed
// from it on demand and never stored here.
type AssetMetadata struct {
	Kind         AssetKind
	Name         string
	BBox         BBox
	Projection   Projection
	GeometryType string

	// Vector and database layer.
	Fields       []string
	FeatureCount int64

	// Raster pixel size (x, y) in projection units.
	Resolution [2]float64

	// Hydraulic model file groupings.
	GeometryFiles []string
	OtherFiles    []string
}

// WithProjection returns a copy with the projection replaced.
func (m AssetMetadata) WithProjection(p Projection) AssetMetadata {
	m.Projection = p
	return m
}

// SizeEstimate is the extrapolated in-memory size of a vector asset.
type SizeEstimate struct {
	BytesPerFeature int64
	FeatureCount    int64
}

const bytesPerGB = 1024 * 1024 * 1024

// GB returns the estimate in gigabytes.
func (e SizeEstimate) GB() float64 {
	return float64(e.BytesPerFeature) * float64(e.FeatureCount) / bytesPerGB
}

// RoundedGB returns the estimate rounded to six decimals for reporting.
func (e SizeEstimate) RoundedGB() float64 {
	return math.Round(e.GB()*1e6) / 1e6
}
