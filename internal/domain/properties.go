package domain

// Schema extensions referenced by item records.
const (
	ExtensionStorage    = "https://stac-extensions.github.io/storage/v1.0.0/schema.json"
	ExtensionProcessing = "https://stac-extensions.github.io/processing/v1.1.0/schema.json"
	ExtensionProjection = "https://stac-extensions.github.io/projection/v1.1.0/schema.json"
)

// Data type tags written to the data_type property.
const (
	DataTypeShapefile = "ESRI Shapefile"
	DataTypeFGDB      = "ESRI FGDB"
	DataTypeGeoTIFF   = "GeoTIFF"
	DataTypeModel     = "HEC-RAS Model"
)

// PropertyDefaults are the descriptive values stamped on every item. A value
// is constructed per catalog run; nothing here is shared mutable state.
type PropertyDefaults struct {
	ProjectName     string
	ProjectType     string
	Status          string
	Platform        string
	Region          string
	SoftwareName    string
	SoftwareVersion string
}

// Properties builds the property map for an asset. estimate is only used for
// vector and database layer assets.
func (d PropertyDefaults) Properties(meta AssetMetadata, estimate SizeEstimate) map[string]any {
	fields := meta.Fields
	if fields == nil {
		fields = []string{}
	}

	props := map[string]any{
		"FFRD:project_name":   d.ProjectName,
		"FFRD:project_type":   d.ProjectType,
		"FFRD:status":         d.Status,
		"storage:platform":    d.Platform,
		"storage:region":      d.Region,
		"processing:software": map[string]string{d.SoftwareName: d.SoftwareVersion},
		"data_type":           DataTypeFor(meta.Kind),
		"fields":              fields,
	}

	switch meta.Kind {
	case AssetKindVector, AssetKindDatabaseLayer:
		props["feature_count"] = meta.FeatureCount
		props["approx_gb_in_memory"] = estimate.RoundedGB()
		if meta.GeometryType != "" {
			props["geometry_type"] = meta.GeometryType
		}
	case AssetKindRaster:
		props["FFRD:resolution"] = []float64{meta.Resolution[0], meta.Resolution[1]}
		if meta.Projection.SRID != 0 {
			props["proj:epsg"] = meta.Projection.SRID
		}
		if meta.Projection.IsWKT() {
			props["proj:wkt2"] = meta.Projection.Definition
		}
	}

	return props
}

// ExtensionsFor returns the schema extensions an item of the given kind uses.
func ExtensionsFor(kind AssetKind) []string {
	exts := []string{ExtensionStorage, ExtensionProcessing}
	if kind == AssetKindRaster {
		exts = append(exts, ExtensionProjection)
	}
	return exts
}

// DataTypeFor returns the data_type tag for an asset kind.
func DataTypeFor(kind AssetKind) string {
	switch kind {
	case AssetKindVector:
		return DataTypeShapefile
	case AssetKindDatabaseLayer:
		return DataTypeFGDB
	case AssetKindRaster:
		return DataTypeGeoTIFF
	case AssetKindModel:
		return DataTypeModel
	}
	return ""
}
