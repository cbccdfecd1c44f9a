package controller

import (
	"image"
	"image/color"

	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/roi"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultOccupancyThreshold is the foreground fraction at which a region counts as occupied.
const DefaultOccupancyThreshold = 0.4

// OccupancyEvaluator turns a foreground mask into per-region occupancy records.
type OccupancyEvaluator struct {
	// Threshold is the inclusive foreground fraction for an occupied verdict.
	Threshold float64
}

// Assessment pairs a region with its record for rendering.
type Assessment struct {
	Region roi.Region
	Record report.OccupancyRecord
}

// NewOccupancyEvaluator creates an evaluator; a non-positive threshold selects the default.
func NewOccupancyEvaluator(threshold float64) *OccupancyEvaluator {
	if threshold <= 0 {
		threshold = DefaultOccupancyThreshold
	}
	return &OccupancyEvaluator{Threshold: threshold}
}

// Occupied reports whether fraction reaches the threshold.
func (e *OccupancyEvaluator) Occupied(fraction float64) bool {
	return fraction >= e.Threshold
}

// record builds the record for a region with white foreground pixels out of total.
// Regions without pixels yield no record.
func (e *OccupancyEvaluator) record(id, white, total int) (report.OccupancyRecord, bool) {
	if total <= 0 {
		return report.OccupancyRecord{}, false
	}
	fraction := float64(white) / float64(total)
	return report.OccupancyRecord{
		RegionID: id,
		Fraction: fraction,
		Occupied: e.Occupied(fraction),
	}, true
}

// Assess measures every region against mask, in region order.
//
// Regions with fewer than three vertices, or whose filled polygon covers no
// pixel of the frame, are omitted. The parts of a polygon outside the frame
// are clipped.
//
// Arguments:
//   - mask: Single-channel binary foreground mask.
//   - regions: The camera's regions in catalog order.
//
// Returns:
//   - []Assessment: One entry per measurable region.
//   - error: An error if the mask is empty.
func (e *OccupancyEvaluator) Assess(mask gocv.Mat, regions []roi.Region) ([]Assessment, error) {
	if mask.Empty() {
		return nil, errors.New("foreground mask is empty")
	}

	assessments := make([]Assessment, 0, len(regions))
	for _, region := range regions {
		if region.Degenerate() {
			continue
		}
		white, total := measureRegion(mask, region)
		record, ok := e.record(region.ID, white, total)
		if !ok {
			continue
		}
		assessments = append(assessments, Assessment{Region: region, Record: record})
	}
	return assessments, nil
}

// Evaluate returns the occupancy records of the measurable regions, in region order.
func (e *OccupancyEvaluator) Evaluate(mask gocv.Mat, regions []roi.Region) ([]report.OccupancyRecord, error) {
	assessments, err := e.Assess(mask, regions)
	if err != nil {
		return nil, err
	}
	return Records(assessments), nil
}

// Records extracts the records of assessments.
func Records(assessments []Assessment) []report.OccupancyRecord {
	records := make([]report.OccupancyRecord, len(assessments))
	for i, a := range assessments {
		records[i] = a.Record
	}
	return records
}

// measureRegion counts the foreground pixels and total pixels of region within mask.
func measureRegion(mask gocv.Mat, region roi.Region) (white, total int) {
	raster := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)
	defer raster.Close()

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{region.Points})
	defer pv.Close()
	gocv.FillPoly(&raster, pv, color.RGBA{R: 255, G: 255, B: 255})

	total = gocv.CountNonZero(raster)
	if total == 0 {
		return 0, 0
	}

	masked := gocv.NewMat()
	defer masked.Close()
	gocv.BitwiseAnd(mask, raster, &masked)
	return gocv.CountNonZero(masked), total
}
