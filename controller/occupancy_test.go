package controller

import (
	"image"
	"testing"

	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/roi"
	"github.com/nvr-ai/parking-occupancy/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func square(id, x0, y0, x1, y1 int) roi.Region {
	return roi.Region{ID: id, Points: []image.Point{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}}
}

func TestOccupancyRecordArithmetic(t *testing.T) {
	e := NewOccupancyEvaluator(DefaultOccupancyThreshold)

	tests := []struct {
		name     string
		white    int
		total    int
		fraction float64
		occupied bool
		ok       bool
	}{
		{name: "above threshold", white: 41, total: 100, fraction: 0.41, occupied: true, ok: true},
		{name: "below threshold", white: 39, total: 100, fraction: 0.39, occupied: false, ok: true},
		{name: "threshold is inclusive", white: 40, total: 100, fraction: 0.4, occupied: true, ok: true},
		{name: "all white", white: 100, total: 100, fraction: 1, occupied: true, ok: true},
		{name: "no pixels", white: 0, total: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := e.record(12, tt.white, tt.total)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, 12, rec.RegionID)
			assert.Equal(t, tt.fraction, rec.Fraction)
			assert.Equal(t, tt.occupied, rec.Occupied)
		})
	}
}

func TestNewOccupancyEvaluatorDefault(t *testing.T) {
	assert.Equal(t, DefaultOccupancyThreshold, NewOccupancyEvaluator(0).Threshold)
	assert.Equal(t, 0.7, NewOccupancyEvaluator(0.7).Threshold)
}

func TestOccupancyEvaluate(t *testing.T) {
	gen := test.NewMockFrameGenerator(100, 100)
	mask := gen.GenerateMask(image.Rect(0, 0, 50, 100))
	defer mask.Close()

	e := NewOccupancyEvaluator(DefaultOccupancyThreshold)
	regions := []roi.Region{
		square(3, 10, 10, 30, 30),
		{ID: 9, Points: []image.Point{{1, 1}, {2, 2}}},
		square(1, 60, 10, 90, 40),
		square(5, 200, 200, 220, 220),
		square(2, 40, 50, 59, 69),
	}

	records, err := e.Evaluate(mask, regions)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Region order is preserved and unmeasurable regions are omitted.
	assert.Equal(t, []int{3, 1, 2}, []int{records[0].RegionID, records[1].RegionID, records[2].RegionID})

	assert.InDelta(t, 1.0, records[0].Fraction, 1e-9)
	assert.True(t, records[0].Occupied)

	assert.InDelta(t, 0.0, records[1].Fraction, 1e-9)
	assert.False(t, records[1].Occupied)

	// Columns 40..50 of 40..59 are foreground.
	assert.InDelta(t, 0.55, records[2].Fraction, 0.02)
	assert.True(t, records[2].Occupied)
}

func TestOccupancyEvaluateClipsToFrame(t *testing.T) {
	gen := test.NewMockFrameGenerator(100, 100)
	mask := gen.GenerateMask(image.Rect(0, 0, 100, 100))
	defer mask.Close()

	records, err := NewOccupancyEvaluator(0).Evaluate(mask, []roi.Region{square(4, 80, 80, 150, 150)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.InDelta(t, 1.0, records[0].Fraction, 1e-9)
}

func TestOccupancyEvaluateEmptyMask(t *testing.T) {
	mask := gocv.NewMat()
	defer mask.Close()

	_, err := NewOccupancyEvaluator(0).Evaluate(mask, []roi.Region{square(1, 0, 0, 10, 10)})
	assert.Error(t, err)
}

func TestOccupancyRender(t *testing.T) {
	gen := test.NewMockFrameGenerator(120, 80)
	frame := gen.GenerateParkedFrame(image.Rect(10, 10, 40, 40))
	defer frame.Close()
	mask := gen.GenerateMask(image.Rect(10, 10, 40, 40))
	defer mask.Close()

	e := NewOccupancyEvaluator(0)
	assessments, err := e.Assess(mask, []roi.Region{square(1, 10, 10, 40, 40), square(2, 60, 10, 100, 40)})
	require.NoError(t, err)
	require.Len(t, assessments, 2)

	annotated, colorized := e.Render(frame, mask, assessments)
	defer annotated.Close()
	defer colorized.Close()

	assert.Equal(t, frame.Rows(), annotated.Rows())
	assert.Equal(t, frame.Cols(), annotated.Cols())
	assert.Equal(t, 3, colorized.Channels())
	assert.Equal(t, mask.Rows(), colorized.Rows())

	// The input frame is left untouched.
	assert.Equal(t, uint8(test.BackgroundGray), frame.GetVecbAt(70, 80)[0])
}

func TestSummarizeOccupancy(t *testing.T) {
	summary := SummarizeOccupancy([]report.OccupancyRecord{
		{RegionID: 1, Fraction: 0.9, Occupied: true},
		{RegionID: 2, Fraction: 0.1},
		{RegionID: 3, Fraction: 0.5, Occupied: true},
		{RegionID: 4, Fraction: 0.1},
	})

	assert.Equal(t, 4, summary.Regions)
	assert.Equal(t, 2, summary.Occupied)
	assert.Equal(t, 2, summary.Empty)
	assert.InDelta(t, 0.5, summary.OccupancyRate, 1e-9)
	assert.InDelta(t, 0.4, summary.MeanFraction, 1e-9)
	assert.InDelta(t, 0.9, summary.MaxFraction, 1e-9)

	assert.Equal(t, report.OccupancySummary{}, SummarizeOccupancy(nil))
}
