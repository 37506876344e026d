package domain

import (
	"reflect"
	"strings"
	"testing"
)

func TestClassifyEntries(t *testing.T) {
	inv := ClassifyEntries([]string{"a.shp", "a.shx", "a.dbf", "b.tif", "readme.txt"}, nil, nil)

	if got := inv.ShapefileNames(); !reflect.DeepEqual(got, []string{"a.shp"}) {
		t.Errorf("ShapefileNames() = %v", got)
	}
	if got := inv.RasterNames(); !reflect.DeepEqual(got, []string{"b.tif"}) {
		t.Errorf("RasterNames() = %v", got)
	}
	if !reflect.DeepEqual(inv.NonSpatial, []string{"readme.txt"}) {
		t.Errorf("NonSpatial = %v", inv.NonSpatial)
	}
	if got := inv.Sidecars("a.shp"); !reflect.DeepEqual(got, []string{"a.shx", "a.dbf"}) {
		t.Errorf("Sidecars(a.shp) = %v", got)
	}
	if inv.Kind() != ArchiveKindCollection {
		t.Errorf("Kind() = %v, want collection", inv.Kind())
	}
}

func TestClassifyEntriesCaseInsensitive(t *testing.T) {
	inv := ClassifyEntries([]string{"Parcels.SHP", "parcels.DBF", "parcels.prj", "DEM.TIF", "dem.tfw"}, nil, nil)

	if got := inv.ShapefileNames(); !reflect.DeepEqual(got, []string{"Parcels.SHP"}) {
		t.Errorf("ShapefileNames() = %v", got)
	}
	if got := inv.Sidecars("Parcels.SHP"); !reflect.DeepEqual(got, []string{"parcels.DBF", "parcels.prj"}) {
		t.Errorf("Sidecars() = %v", got)
	}
	if got := inv.Sidecars("DEM.TIF"); !reflect.DeepEqual(got, []string{"dem.tfw"}) {
		t.Errorf("raster Sidecars() = %v", got)
	}
	if len(inv.NonSpatial) != 0 {
		t.Errorf("NonSpatial = %v, want empty", inv.NonSpatial)
	}
}

func TestClassifyEntriesSkipsNestedAndDirectories(t *testing.T) {
	inv := ClassifyEntries([]string{"data/", "data/roads.shp", "top.tif", "LICENSE"}, nil, nil)

	want := []string{"data/", "data/roads.shp", "LICENSE"}
	if !reflect.DeepEqual(inv.Skipped, want) {
		t.Errorf("Skipped = %v, want %v", inv.Skipped, want)
	}
	if len(inv.Shapefiles) != 0 {
		t.Errorf("nested shapefile should not be classified: %v", inv.Shapefiles)
	}
	if inv.Kind() != ArchiveKindItem {
		t.Errorf("Kind() = %v, want item", inv.Kind())
	}
}

func TestClassifyEntriesModels(t *testing.T) {
	entries := []string{
		"Creek.prj", "Creek.g01", "Creek.g02", "Creek.p01", "Creek.u01",
		"Creek.g01.hdf", "other.prj", "notes.txt",
	}
	isProject := func(name string) bool { return strings.HasPrefix(name, "Creek") }

	inv := ClassifyEntries(entries, nil, isProject)

	if len(inv.Models) != 1 {
		t.Fatalf("Models = %d, want 1", len(inv.Models))
	}
	m := inv.Models[0]
	if m.Name != "Creek.prj" {
		t.Errorf("Name = %q", m.Name)
	}
	if want := []string{"Creek.g01", "Creek.g02", "Creek.g01.hdf"}; !reflect.DeepEqual(m.GeometryFiles, want) {
		t.Errorf("GeometryFiles = %v, want %v", m.GeometryFiles, want)
	}
	if want := []string{"Creek.p01", "Creek.u01"}; !reflect.DeepEqual(m.OtherFiles, want) {
		t.Errorf("OtherFiles = %v, want %v", m.OtherFiles, want)
	}
	if want := []string{"other.prj", "notes.txt"}; !reflect.DeepEqual(inv.NonSpatial, want) {
		t.Errorf("NonSpatial = %v, want %v", inv.NonSpatial, want)
	}
	if want := []string{"Creek.g01", "Creek.g02", "Creek.g01.hdf", "Creek.p01", "Creek.u01"}; !reflect.DeepEqual(m.Files(), want) {
		t.Errorf("Files() = %v, want %v", m.Files(), want)
	}
}

func TestClassifyEntriesLayers(t *testing.T) {
	inv := ClassifyEntries(nil, []string{"roads", "parcels"}, nil)

	if got := inv.LayerNames(); !reflect.DeepEqual(got, []string{"roads", "parcels"}) {
		t.Errorf("LayerNames() = %v", got)
	}
	assets := inv.Assets()
	if len(assets) != 2 || assets[0].Kind != AssetKindDatabaseLayer {
		t.Errorf("Assets() = %v", assets)
	}
}

func TestContentInventoryAssetsOrder(t *testing.T) {
	inv := ClassifyEntries(
		[]string{"z.tif", "m.prj", "m.g01", "a.shp"},
		[]string{"layer"},
		func(name string) bool { return name == "m.prj" },
	)

	var kinds []AssetKind
	for _, a := range inv.Assets() {
		kinds = append(kinds, a.Kind)
	}
	want := []AssetKind{AssetKindVector, AssetKindDatabaseLayer, AssetKindRaster, AssetKindModel}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("Assets() kinds = %v, want %v", kinds, want)
	}
}

func TestArchiveKind(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    ArchiveKind
	}{
		{"no spatial", []string{"readme.txt"}, ArchiveKindAsset},
		{"one", []string{"a.shp"}, ArchiveKindItem},
		{"two", []string{"a.shp", "b.tif"}, ArchiveKindCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyEntries(tt.entries, nil, nil).Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArchiveLocator(t *testing.T) {
	tests := []struct {
		name    string
		loc     ArchiveLocator
		wantErr bool
		wantGDB bool
	}{
		{"zip", ArchiveLocator{Bucket: "b", Key: "dir/data.zip"}, false, false},
		{"upper case", ArchiveLocator{Bucket: "b", Key: "DATA.ZIP"}, false, false},
		{"geodatabase", ArchiveLocator{Bucket: "b", Key: "roads.gdb.zip"}, false, true},
		{"empty", ArchiveLocator{Bucket: "b"}, true, false},
		{"not zip", ArchiveLocator{Bucket: "b", Key: "data.tar"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := tt.loc.IsGeodatabase(); got != tt.wantGDB {
				t.Errorf("IsGeodatabase() = %v, want %v", got, tt.wantGDB)
			}
		})
	}

	loc := ArchiveLocator{Bucket: "b", Key: "dir/data.zip"}
	if loc.Name() != "data.zip" || loc.String() != "b/dir/data.zip" {
		t.Errorf("Name/String = %q/%q", loc.Name(), loc.String())
	}
}

func TestAssetRefSidecar(t *testing.T) {
	ref := AssetRef{Kind: AssetKindVector, Name: "a.shp", Sidecars: []string{"a.dbf", "A.PRJ"}}

	if got, ok := ref.Sidecar(".prj"); !ok || got != "A.PRJ" {
		t.Errorf("Sidecar(.prj) = %q, %v", got, ok)
	}
	if _, ok := ref.Sidecar(".shx"); ok {
		t.Error("Sidecar(.shx) should not be found")
	}
	if ref.Stem() != "a" {
		t.Errorf("Stem() = %q", ref.Stem())
	}
}
