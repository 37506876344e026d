package domain

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// StacVersion is the catalog record schema version written to every record.
const StacVersion = "1.0.0"

// Media types used for assets and links.
const (
	MediaTypeJSON      = "application/json"
	MediaTypeGeoJSON   = "application/geo+json"
	MediaTypeZip       = "application/zip"
	MediaTypeGeoTIFF   = "image/tiff; application=geotiff"
	MediaTypeShapefile = "application/vnd.shp"
	MediaTypeText      = "text/plain"
)

// Asset is a file linked from an item or collection.
type Asset struct {
	Href        string   `json:"href"`
	MediaType   string   `json:"type,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Link is a relation to another record.
type Link struct {
	Rel       string `json:"rel"`
	Href      string `json:"href"`
	MediaType string `json:"type,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Item is the normalized record of one spatial asset.
type Item struct {
	Type           string            `json:"type"`
	StacVersion    string            `json:"stac_version"`
	StacExtensions []string          `json:"stac_extensions"`
	ID             string            `json:"id"`
	Collection     string            `json:"collection,omitempty"`
	Geometry       *geojson.Geometry `json:"geometry"`
	BBox           BBox              `json:"bbox"`
	Properties     map[string]any    `json:"properties"`
	Assets         map[string]Asset  `json:"assets"`
	Links          []Link            `json:"links"`

	Datetime time.Time `json:"-"`
}

// ItemSpec carries everything NewItem assembles into an Item.
type ItemSpec struct {
	ID           string
	CollectionID string
	Datetime     time.Time
	BBox         BBox        // common reference frame
	Footprint    orb.Polygon // nil falls back to the BBox rectangle
	Properties   map[string]any
	Extensions   []string
	Assets       map[string]Asset
}

// NewItem assembles an item. It performs no I/O and copies every map and
// slice it is given. Extensions are kept as given; deduplication happens
// when items are merged into a collection.
func NewItem(spec ItemSpec) Item {
	footprint := spec.Footprint
	if len(footprint) == 0 {
		footprint = spec.BBox.Polygon()
	}

	props := make(map[string]any, len(spec.Properties)+1)
	for k, v := range spec.Properties {
		props[k] = v
	}
	props["datetime"] = spec.Datetime.UTC().Format(time.RFC3339)

	assets := make(map[string]Asset, len(spec.Assets))
	for k, v := range spec.Assets {
		assets[k] = v
	}

	links := []Link{}
	if spec.CollectionID != "" {
		links = append(links,
			Link{Rel: "collection", Href: "../collection.json", MediaType: MediaTypeJSON},
			Link{Rel: "parent", Href: "../collection.json", MediaType: MediaTypeJSON},
		)
	}

	return Item{
		Type:           "Feature",
		StacVersion:    StacVersion,
		StacExtensions: append([]string{}, spec.Extensions...),
		ID:             spec.ID,
		Collection:     spec.CollectionID,
		Geometry:       geojson.NewGeometry(footprint),
		BBox:           spec.BBox,
		Properties:     props,
		Assets:         assets,
		Links:          links,
		Datetime:       spec.Datetime,
	}
}

// Collection is the aggregate record of an archive.
type Collection struct {
	Type           string           `json:"type"`
	StacVersion    string           `json:"stac_version"`
	StacExtensions []string         `json:"stac_extensions"`
	ID             string           `json:"id"`
	Title          string           `json:"title,omitempty"`
	Description    string           `json:"description"`
	License        string           `json:"license"`
	Extent         CollectionExtent `json:"extent"`
	Links          []Link           `json:"links"`
	Assets         map[string]Asset `json:"assets,omitempty"`

	Items []Item `json:"-"`
}

// CollectionExtent is the merged spatial and temporal extent.
type CollectionExtent struct {
	Spatial  SpatialExtent  `json:"spatial"`
	Temporal TemporalExtent `json:"temporal"`
}

// SpatialExtent lists bounding boxes; the first one encloses all items.
type SpatialExtent struct {
	BBox []BBox `json:"bbox"`
}

// TemporalExtent lists [start, end] intervals, open ends as null.
type TemporalExtent struct {
	Interval [][2]*time.Time `json:"interval"`
}

// CollectionSpec carries the descriptive part of a collection.
type CollectionSpec struct {
	ID          string
	Title       string
	Description string
	License     string
	Assets      map[string]Asset // non-spatial archive entries
}

// NewCollection merges items into a collection. The spatial extent is the
// smallest rectangle enclosing every item bbox; an empty item list has no
// extent and is rejected with EmptyExtentError.
func NewCollection(spec CollectionSpec, items []Item) (*Collection, error) {
	boxes := make([]BBox, len(items))
	exts := make([][]string, len(items))
	var start *time.Time
	for i, item := range items {
		boxes[i] = item.BBox
		exts[i] = item.StacExtensions
		if item.Datetime.IsZero() {
			continue
		}
		if start == nil || item.Datetime.Before(*start) {
			t := item.Datetime.UTC()
			start = &t
		}
	}

	merged, ok := MergeBBoxes(boxes)
	if !ok {
		return nil, &EmptyExtentError{Archive: spec.ID}
	}

	license := spec.License
	if license == "" {
		license = "proprietary"
	}

	links := make([]Link, 0, len(items))
	for _, item := range items {
		links = append(links, Link{
			Rel:       "item",
			Href:      "./" + item.ID + "/" + item.ID + ".json",
			MediaType: MediaTypeGeoJSON,
			Title:     item.ID,
		})
	}

	var assets map[string]Asset
	if len(spec.Assets) > 0 {
		assets = make(map[string]Asset, len(spec.Assets))
		for k, v := range spec.Assets {
			assets[k] = v
		}
	}

	return &Collection{
		Type:           "Collection",
		StacVersion:    StacVersion,
		StacExtensions: MergeExtensions(exts...),
		ID:             spec.ID,
		Title:          spec.Title,
		Description:    spec.Description,
		License:        license,
		Extent: CollectionExtent{
			Spatial:  SpatialExtent{BBox: []BBox{merged}},
			Temporal: TemporalExtent{Interval: [][2]*time.Time{{start, nil}}},
		},
		Links:  links,
		Assets: assets,
		Items:  append([]Item(nil), items...),
	}, nil
}

// SetSelfLink sets or replaces the collection's self link.
func (c *Collection) SetSelfLink(href string) {
	for i, l := range c.Links {
		if l.Rel == "self" {
			c.Links[i].Href = href
			return
		}
	}
	c.Links = append([]Link{{Rel: "self", Href: href, MediaType: MediaTypeJSON}}, c.Links...)
}

// MergeExtensions concatenates extension lists, dropping duplicates and
// keeping the order of first appearance.
func MergeExtensions(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, ext := range list {
			if seen[ext] {
				continue
			}
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}
