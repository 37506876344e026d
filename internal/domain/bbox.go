package domain

import (
	"math"

	"github.com/paulmach/orb"
)

// BBox is a bounding box as four ordered numbers [minX, minY, maxX, maxY].
// The reference frame is implied by where the box comes from: native boxes
// live in AssetMetadata, reprojected boxes on Item.
type BBox [4]float64

// NewBBox creates a bounding box from its corner values.
func NewBBox(minX, minY, maxX, maxY float64) BBox {
	return BBox{minX, minY, maxX, maxY}
}

// MinX returns the minimum x value.
func (b BBox) MinX() float64 { return b[0] }

// MinY returns the minimum y value.
func (b BBox) MinY() float64 { return b[1] }

// MaxX returns the maximum x value.
func (b BBox) MaxX() float64 { return b[2] }

// MaxY returns the maximum y value.
func (b BBox) MaxY() float64 { return b[3] }

// IsFinite reports whether all four values are finite.
func (b BBox) IsFinite() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsValid checks that the box is finite and ordered. Degenerate boxes
// (min == max on an axis) are valid.
func (b BBox) IsValid() bool {
	return b.IsFinite() && b[0] <= b[2] && b[1] <= b[3]
}

// Normalized returns the box with each axis ordered min to max.
func (b BBox) Normalized() BBox {
	return BBox{
		math.Min(b[0], b[2]), math.Min(b[1], b[3]),
		math.Max(b[0], b[2]), math.Max(b[1], b[3]),
	}
}

// Width returns the width of the box.
func (b BBox) Width() float64 {
	return math.Abs(b[2] - b[0])
}

// Height returns the height of the box.
func (b BBox) Height() float64 {
	return math.Abs(b[3] - b[1])
}

// Corners returns the four corners in ring order starting at (minX, minY).
func (b BBox) Corners() [4]Coordinate {
	return [4]Coordinate{
		{X: b[0], Y: b[1]},
		{X: b[0], Y: b[3]},
		{X: b[2], Y: b[3]},
		{X: b[2], Y: b[1]},
	}
}

// Union returns the smallest box enclosing both boxes.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		math.Min(b[0], o[0]), math.Min(b[1], o[1]),
		math.Max(b[2], o[2]), math.Max(b[3], o[3]),
	}
}

// Within reports whether b lies completely inside o.
func (b BBox) Within(o BBox) bool {
	return b[0] >= o[0] && b[1] >= o[1] && b[2] <= o[2] && b[3] <= o[3]
}

// Bound converts the box to an orb.Bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
}

// Polygon returns the rectangle footprint of the box as a closed ring
// (minX,minY), (minX,maxY), (maxX,maxY), (maxX,minY), (minX,minY).
// It is always valid, also for degenerate boxes.
func (b BBox) Polygon() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b[0], b[1]},
		{b[0], b[3]},
		{b[2], b[3]},
		{b[2], b[1]},
		{b[0], b[1]},
	}}
}

// BBoxFromCoordinates returns the enclosing box of the given coordinates.
// ok is false when coords is empty.
func BBoxFromCoordinates(coords []Coordinate) (box BBox, ok bool) {
	if len(coords) == 0 {
		return BBox{}, false
	}
	box = BBox{coords[0].X, coords[0].Y, coords[0].X, coords[0].Y}
	for _, c := range coords[1:] {
		box = box.Union(BBox{c.X, c.Y, c.X, c.Y})
	}
	return box, true
}

// MergeBBoxes returns the smallest box enclosing all boxes. An empty input
// has no extent; ok is false and callers must reject it.
func MergeBBoxes(boxes []BBox) (merged BBox, ok bool) {
	if len(boxes) == 0 {
		return BBox{}, false
	}
	merged = boxes[0]
	for _, b := range boxes[1:] {
		merged = merged.Union(b)
	}
	return merged, true
}
