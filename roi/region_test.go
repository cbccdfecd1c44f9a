package roi

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRegionID(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want int
	}{
		{name: "suffix after last underscore", raw: "P3_12", want: 12},
		{name: "multiple underscores", raw: "B2_P3_40", want: 40},
		{name: "plain numeric string", raw: "7", want: 7},
		{name: "json number", raw: 7.0, want: 7},
		{name: "int", raw: 7, want: 7},
		{name: "missing", raw: nil, want: DefaultRegionID},
		{name: "non numeric string", raw: "P3", want: DefaultRegionID},
		{name: "non numeric suffix", raw: "P3_x", want: DefaultRegionID},
		{name: "trailing underscore", raw: "P3_", want: DefaultRegionID},
		{name: "bool", raw: true, want: DefaultRegionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRegionID(tt.raw))
		})
	}
}

func TestDecodePolygon(t *testing.T) {
	points, ok := DecodePolygon([]any{0.0, 0.0, 10.0, 0.0, 5.0, 10.0})
	assert.True(t, ok)
	assert.Equal(t, []image.Point{{0, 0}, {10, 0}, {5, 10}}, points)

	points, ok = DecodePolygon([]any{1, 2, 3})
	assert.True(t, ok)
	assert.Equal(t, []image.Point{{1, 2}}, points)

	points, ok = DecodePolygon([]any{})
	assert.True(t, ok)
	assert.Empty(t, points)

	_, ok = DecodePolygon([]any{1, "x"})
	assert.False(t, ok)

	_, ok = DecodePolygon(42)
	assert.False(t, ok)
}

func TestRegionCenter(t *testing.T) {
	r := Region{ID: 1, Points: []image.Point{{0, 0}, {10, 0}, {5, 10}}}
	assert.Equal(t, image.Pt(5, 3), r.Center())
	assert.False(t, r.Degenerate())

	line := Region{ID: 2, Points: []image.Point{{0, 0}, {4, 4}}}
	assert.True(t, line.Degenerate())
	assert.Equal(t, image.Pt(2, 2), line.Center())

	assert.Equal(t, image.Point{}, Region{}.Center())
}
