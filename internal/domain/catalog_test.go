package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func testItem(id string, box BBox, ts time.Time, exts ...string) Item {
	return NewItem(ItemSpec{
		ID:           id,
		CollectionID: "c1",
		Datetime:     ts,
		BBox:         box,
		Extensions:   exts,
		Properties:   map[string]any{"data_type": "GeoTIFF"},
		Assets: map[string]Asset{
			"k": {Href: "s3://b/a.zip/" + id, Roles: []string{"data"}},
		},
	})
}

func TestNewItem(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	props := map[string]any{"fields": []string{"a"}}
	item := NewItem(ItemSpec{
		ID:           "roads",
		CollectionID: "c1",
		Datetime:     ts,
		BBox:         NewBBox(0, 0, 1, 1),
		Properties:   props,
		Extensions:   []string{ExtensionStorage},
	})

	if item.Type != "Feature" || item.StacVersion != StacVersion {
		t.Errorf("Type/StacVersion = %q/%q", item.Type, item.StacVersion)
	}
	if item.Properties["datetime"] != "2024-05-01T12:00:00Z" {
		t.Errorf("datetime = %v", item.Properties["datetime"])
	}
	if _, ok := props["datetime"]; ok {
		t.Error("NewItem must not modify the given properties")
	}
	poly, ok := item.Geometry.Coordinates.(orb.Polygon)
	if !ok {
		t.Fatalf("Geometry = %T, want orb.Polygon", item.Geometry.Coordinates)
	}
	if !reflect.DeepEqual(poly, NewBBox(0, 0, 1, 1).Polygon()) {
		t.Errorf("footprint = %v, want bbox rectangle", poly)
	}
	if len(item.Links) != 2 || item.Links[0].Rel != "collection" {
		t.Errorf("Links = %v", item.Links)
	}
}

func TestNewItemWithFootprint(t *testing.T) {
	hull := orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {0, 1}, {0, 0}}}
	item := NewItem(ItemSpec{ID: "x", BBox: NewBBox(0, 0, 1, 1), Footprint: hull})

	if !reflect.DeepEqual(item.Geometry.Coordinates, hull) {
		t.Errorf("Geometry = %v, want hull", item.Geometry.Coordinates)
	}
	if len(item.Links) != 0 {
		t.Errorf("item without collection should have no links, got %v", item.Links)
	}
}

func TestNewCollection(t *testing.T) {
	early := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []Item{
		testItem("a", NewBBox(0, 0, 1, 1), late, ExtensionStorage, ExtensionProcessing),
		testItem("b", NewBBox(0.5, -1, 2, 0.5), early, ExtensionStorage, ExtensionProcessing, ExtensionProjection),
	}

	coll, err := NewCollection(CollectionSpec{ID: "c1", Title: "data", Description: "Zip archive"}, items)
	if err != nil {
		t.Fatalf("NewCollection() error = %v", err)
	}

	if got, want := coll.Extent.Spatial.BBox[0], NewBBox(0, -1, 2, 1); got != want {
		t.Errorf("spatial extent = %v, want %v", got, want)
	}
	interval := coll.Extent.Temporal.Interval[0]
	if interval[0] == nil || !interval[0].Equal(early) || interval[1] != nil {
		t.Errorf("temporal interval = %v", interval)
	}
	want := []string{ExtensionStorage, ExtensionProcessing, ExtensionProjection}
	if !reflect.DeepEqual(coll.StacExtensions, want) {
		t.Errorf("StacExtensions = %v, want %v", coll.StacExtensions, want)
	}
	if coll.License != "proprietary" {
		t.Errorf("License = %q", coll.License)
	}
	if len(coll.Links) != 2 || coll.Links[1].Href != "./b/b.json" {
		t.Errorf("Links = %v", coll.Links)
	}
	if len(coll.Items) != 2 {
		t.Errorf("Items = %d, want 2", len(coll.Items))
	}
}

func TestNewCollectionEmpty(t *testing.T) {
	_, err := NewCollection(CollectionSpec{ID: "c1"}, nil)

	var extentErr *EmptyExtentError
	if !errors.As(err, &extentErr) {
		t.Fatalf("error = %v, want EmptyExtentError", err)
	}
}

func TestCollectionSelfLink(t *testing.T) {
	coll, err := NewCollection(CollectionSpec{ID: "c1"}, []Item{testItem("a", NewBBox(0, 0, 1, 1), time.Now())})
	if err != nil {
		t.Fatalf("NewCollection() error = %v", err)
	}

	coll.SetSelfLink("s3://b/stac/collections/c1/collection.json")
	coll.SetSelfLink("s3://b/other/collection.json")

	var selfLinks []Link
	for _, l := range coll.Links {
		if l.Rel == "self" {
			selfLinks = append(selfLinks, l)
		}
	}
	if len(selfLinks) != 1 || selfLinks[0].Href != "s3://b/other/collection.json" {
		t.Errorf("self links = %v", selfLinks)
	}
}

func TestCollectionJSON(t *testing.T) {
	coll, err := NewCollection(CollectionSpec{ID: "c1"}, []Item{testItem("a", NewBBox(0, 0, 1, 1), time.Time{})})
	if err != nil {
		t.Fatalf("NewCollection() error = %v", err)
	}

	data, err := json.Marshal(coll)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := decoded["Items"]; ok {
		t.Error("items must not be embedded in the collection record")
	}
	extent := decoded["extent"].(map[string]any)
	interval := extent["temporal"].(map[string]any)["interval"].([]any)[0].([]any)
	if interval[0] != nil || interval[1] != nil {
		t.Errorf("interval = %v, want [null, null] without item datetimes", interval)
	}
}

func TestMergeExtensions(t *testing.T) {
	got := MergeExtensions([]string{"a", "b"}, nil, []string{"b", "c", "a"})
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("MergeExtensions() = %v, want %v", got, want)
	}
	if got := MergeExtensions(); got == nil || len(got) != 0 {
		t.Errorf("MergeExtensions() = %v, want empty non-nil slice", got)
	}
}
