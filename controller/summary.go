package controller

import "github.com/nvr-ai/parking-occupancy/report"

// SummarizeOccupancy aggregates the records of one image.
//
// Returns:
//   - report.OccupancySummary: Zero when records is empty.
func SummarizeOccupancy(records []report.OccupancyRecord) report.OccupancySummary {
	summary := report.OccupancySummary{Regions: len(records)}
	if len(records) == 0 {
		return summary
	}

	sum := 0.0
	for _, r := range records {
		if r.Occupied {
			summary.Occupied++
		}
		sum += r.Fraction
		if r.Fraction > summary.MaxFraction {
			summary.MaxFraction = r.Fraction
		}
	}
	summary.Empty = summary.Regions - summary.Occupied
	summary.OccupancyRate = float64(summary.Occupied) / float64(summary.Regions)
	summary.MeanFraction = sum / float64(summary.Regions)
	return summary
}
