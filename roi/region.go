// Package roi - Parking-space regions and the catalog that maps cameras to them.
package roi

import (
	"image"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// DefaultRegionID is assigned when a match record carries no usable identifier.
const DefaultRegionID = 0

// Region is one parking space: a polygon over image pixel coordinates.
type Region struct {
	// ID is the canonical numeric identifier of the parking space.
	ID int `json:"id"`
	// Points are the polygon vertices in drawing order.
	Points []image.Point `json:"points"`
}

// Degenerate reports whether the polygon cannot enclose any area.
func (r Region) Degenerate() bool {
	return len(r.Points) < 3
}

// Center returns the arithmetic mean of the vertices, truncated to integers.
func (r Region) Center() image.Point {
	if len(r.Points) == 0 {
		return image.Point{}
	}

	var sum image.Point
	for _, p := range r.Points {
		sum = sum.Add(p)
	}
	return image.Pt(sum.X/len(r.Points), sum.Y/len(r.Points))
}

// DecodePolygon converts a flat coordinate list [x0,y0,x1,y1,...] into points.
//
// Elements may be any numeric representation the catalog decoder produced
// (float64, int, json.Number or numeric strings); fractional values are
// truncated. A trailing unpaired coordinate is dropped.
//
// Arguments:
//   - raw: The decoded coordinate list.
//
// Returns:
//   - []image.Point: The decoded vertices, possibly empty.
//   - bool: false if raw is not a list or holds a non-numeric element.
func DecodePolygon(raw any) ([]image.Point, bool) {
	coords, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, false
	}

	points := make([]image.Point, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		x, err := cast.ToIntE(coords[i])
		if err != nil {
			return nil, false
		}
		y, err := cast.ToIntE(coords[i+1])
		if err != nil {
			return nil, false
		}
		points = append(points, image.Pt(x, y))
	}
	return points, true
}

// ParseRegionID normalizes a region identifier.
//
// Strings keep only the numeric suffix after the last underscore ("P3_12"
// becomes 12); strings without an underscore must parse as a whole ("7").
// Numbers are used directly. Anything else yields DefaultRegionID.
func ParseRegionID(raw any) int {
	switch v := raw.(type) {
	case nil:
		return DefaultRegionID
	case string:
		s := v
		if i := strings.LastIndex(s, "_"); i >= 0 {
			s = s[i+1:]
		}
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return DefaultRegionID
		}
		return id
	case bool:
		return DefaultRegionID
	default:
		id, err := cast.ToIntE(v)
		if err != nil {
			return DefaultRegionID
		}
		return id
	}
}
