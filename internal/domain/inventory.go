package domain

import (
	"path"
	"regexp"
	"strings"
)

// AssetKind is the classification tag an asset is dispatched on.
type AssetKind string

// Asset kinds.
const (
	AssetKindVector        AssetKind = "vector"
	AssetKindDatabaseLayer AssetKind = "database-layer"
	AssetKindRaster        AssetKind = "raster"
	AssetKindModel         AssetKind = "hydraulic-model"
)

// ArchiveKind is the archive-level classification derived from the number of
// spatial assets an archive holds.
type ArchiveKind string

// Archive kinds.
const (
	ArchiveKindAsset      ArchiveKind = "asset"      // no spatial assets
	ArchiveKindItem       ArchiveKind = "item"       // exactly one
	ArchiveKindCollection ArchiveKind = "collection" // more than one
)

// ArchiveLocator identifies a remote archive.
type ArchiveLocator struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Validate checks that the locator names an archive.
func (l ArchiveLocator) Validate() error {
	if strings.TrimSpace(l.Key) == "" {
		return &ValidationError{
			Field:      "key",
			Value:      l.Key,
			Constraint: "non-empty",
			Message:    "archive key is required",
		}
	}
	if !strings.HasSuffix(strings.ToLower(l.Key), ".zip") {
		return &ValidationError{
			Field:      "key",
			Value:      l.Key,
			Constraint: "*.zip",
			Message:    "archive key must name a zip file",
		}
	}
	return nil
}

// IsGeodatabase reports whether the archive holds a file geodatabase, whose
// inventory lists layers instead of file entries.
func (l ArchiveLocator) IsGeodatabase() bool {
	return strings.HasSuffix(strings.ToLower(l.Key), ".gdb.zip")
}

// Name returns the archive's base name.
func (l ArchiveLocator) Name() string {
	return path.Base(l.Key)
}

// String returns bucket/key.
func (l ArchiveLocator) String() string {
	if l.Bucket == "" {
		return l.Key
	}
	return l.Bucket + "/" + l.Key
}

// AssetRef is a classified asset inside an archive: a primary entry (or a
// layer name) plus the entries grouped under it.
type AssetRef struct {
	Kind          AssetKind `json:"kind"`
	Name          string    `json:"name"`
	Sidecars      []string  `json:"sidecars,omitempty"`
	GeometryFiles []string  `json:"geometry_files,omitempty"`
	OtherFiles    []string  `json:"other_files,omitempty"`
}

// Stem returns the asset name without its extension.
func (a AssetRef) Stem() string {
	return stem(a.Name)
}

// Sidecar returns the grouped entry with the given extension, if any.
func (a AssetRef) Sidecar(ext string) (string, bool) {
	for _, s := range a.Sidecars {
		if strings.EqualFold(path.Ext(s), ext) {
			return s, true
		}
	}
	return "", false
}

// Files returns every archive entry the asset is made of.
func (a AssetRef) Files() []string {
	var files []string
	if a.Kind != AssetKindDatabaseLayer && a.Kind != AssetKindModel {
		files = append(files, a.Name)
	}
	files = append(files, a.Sidecars...)
	files = append(files, a.GeometryFiles...)
	files = append(files, a.OtherFiles...)
	return files
}

// ContentInventory is the classified listing of an archive's top level.
// It is built once and read-only afterwards.
type ContentInventory struct {
	Entries        []string   `json:"entries"`
	Skipped        []string   `json:"skipped,omitempty"`
	Shapefiles     []AssetRef `json:"shapefiles,omitempty"`
	DatabaseLayers []AssetRef `json:"database_layers,omitempty"`
	Rasters        []AssetRef `json:"rasters,omitempty"`
	Models         []AssetRef `json:"models,omitempty"`
	NonSpatial     []string   `json:"non_spatial,omitempty"`
}

var (
	shapefileSidecars = []string{
		".shx", ".dbf", ".prj", ".cpg", ".sbn", ".sbx", ".qix", ".fix",
		".aih", ".ain", ".atx", ".xml", ".shp.xml",
	}
	rasterSidecars = []string{".tfw", ".tifw", ".tiffw", ".aux.xml", ".tif.aux.xml", ".ovr", ".tif.ovr", ".msk", ".tif.msk"}
	rasterExts     = []string{".tif", ".tiff"}

	modelGeometryRe = regexp.MustCompile(`^g\d+$`)
)

// ModelProjectPredicate reports whether a .prj entry is a hydraulic-model
// project file rather than a projection definition.
type ModelProjectPredicate func(name string) bool

// ClassifyEntries builds an inventory from archive entry names in enumeration
// order. Only top-level entries are classified; directories and nested
// entries end up in Skipped. Layers are database layer names and
// isModelProject may be nil.
func ClassifyEntries(entries, layers []string, isModelProject ModelProjectPredicate) *ContentInventory {
	inv := &ContentInventory{Entries: []string{}}

	var top []string
	for _, name := range entries {
		if strings.HasSuffix(name, "/") || strings.Contains(name, "/") || strings.Contains(name, `\`) {
			inv.Skipped = append(inv.Skipped, name)
			continue
		}
		inv.Entries = append(inv.Entries, name)
		top = append(top, name)
	}

	claimed := make(map[string]bool, len(top))

	for _, name := range top {
		if strings.EqualFold(path.Ext(name), ".shp") {
			ref := AssetRef{Kind: AssetKindVector, Name: name}
			ref.Sidecars = groupSidecars(top, name, shapefileSidecars, claimed)
			claimed[name] = true
			inv.Shapefiles = append(inv.Shapefiles, ref)
		}
	}

	for _, name := range top {
		if claimed[name] || !hasExt(name, rasterExts) {
			continue
		}
		ref := AssetRef{Kind: AssetKindRaster, Name: name}
		ref.Sidecars = groupSidecars(top, name, rasterSidecars, claimed)
		claimed[name] = true
		inv.Rasters = append(inv.Rasters, ref)
	}

	if isModelProject != nil {
		for _, name := range top {
			if claimed[name] || !strings.EqualFold(path.Ext(name), ".prj") {
				continue
			}
			if !isModelProject(name) {
				continue
			}
			inv.Models = append(inv.Models, groupModel(top, name, claimed))
		}
	}

	for _, layer := range layers {
		inv.DatabaseLayers = append(inv.DatabaseLayers, AssetRef{Kind: AssetKindDatabaseLayer, Name: layer})
	}

	for _, name := range top {
		if claimed[name] {
			continue
		}
		if path.Ext(name) == "" {
			inv.Skipped = append(inv.Skipped, name)
			continue
		}
		inv.NonSpatial = append(inv.NonSpatial, name)
	}

	return inv
}

// groupSidecars claims entries named <stem><ext> for each sidecar extension.
func groupSidecars(top []string, primary string, exts []string, claimed map[string]bool) []string {
	base := strings.ToLower(stem(primary))
	var out []string
	for _, name := range top {
		if name == primary || claimed[name] {
			continue
		}
		lower := strings.ToLower(name)
		for _, ext := range exts {
			if lower == base+ext {
				out = append(out, name)
				claimed[name] = true
				break
			}
		}
	}
	return out
}

// groupModel claims every entry sharing the project file's stem and splits
// them into geometry files (sub-extension g01, g02, ...) and other files.
func groupModel(top []string, project string, claimed map[string]bool) AssetRef {
	ref := AssetRef{Kind: AssetKindModel, Name: project}
	claimed[project] = true
	prefix := strings.ToLower(stem(project)) + "."
	for _, name := range top {
		if claimed[name] {
			continue
		}
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		sub := strings.TrimPrefix(lower, prefix)
		if i := strings.IndexByte(sub, '.'); i >= 0 {
			sub = sub[:i]
		}
		if modelGeometryRe.MatchString(sub) {
			ref.GeometryFiles = append(ref.GeometryFiles, name)
		} else {
			ref.OtherFiles = append(ref.OtherFiles, name)
		}
		claimed[name] = true
	}
	return ref
}

// Assets returns all spatial assets in processing order: vectors, database
// layers, rasters, then hydraulic models.
func (inv *ContentInventory) Assets() []AssetRef {
	out := make([]AssetRef, 0, inv.SpatialCount())
	out = append(out, inv.Shapefiles...)
	out = append(out, inv.DatabaseLayers...)
	out = append(out, inv.Rasters...)
	out = append(out, inv.Models...)
	return out
}

// SpatialCount returns the number of spatial assets.
func (inv *ContentInventory) SpatialCount() int {
	return len(inv.Shapefiles) + len(inv.DatabaseLayers) + len(inv.Rasters) + len(inv.Models)
}

// Kind classifies the archive by its number of spatial assets.
func (inv *ContentInventory) Kind() ArchiveKind {
	switch n := inv.SpatialCount(); {
	case n == 0:
		return ArchiveKindAsset
	case n == 1:
		return ArchiveKindItem
	default:
		return ArchiveKindCollection
	}
}

// ShapefileNames returns the primary .shp entries.
func (inv *ContentInventory) ShapefileNames() []string {
	return names(inv.Shapefiles)
}

// RasterNames returns the raster entries.
func (inv *ContentInventory) RasterNames() []string {
	return names(inv.Rasters)
}

// LayerNames returns the database layer names.
func (inv *ContentInventory) LayerNames() []string {
	return names(inv.DatabaseLayers)
}

// Sidecars returns the entries grouped under a shapefile or raster.
func (inv *ContentInventory) Sidecars(primary string) []string {
	for _, list := range [][]AssetRef{inv.Shapefiles, inv.Rasters} {
		for _, ref := range list {
			if ref.Name == primary {
				return ref.Sidecars
			}
		}
	}
	return nil
}

func names(refs []AssetRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Name
	}
	return out
}

func hasExt(name string, exts []string) bool {
	ext := path.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
