// Package report - Occupancy results and the batch report written at the end of a run.
package report

import (
	"sort"
	"time"
)

// Skip reasons recorded when a test image yields no result.
const (
	SkipUnmatchedName     = "unmatched_name"
	SkipNoRegions         = "no_regions"
	SkipTrainingMissing   = "training_data_unavailable"
	SkipTestImageUnusable = "test_image_unreadable"
	SkipEvaluationFailed  = "evaluation_failed"
)

// OccupancyRecord is the verdict for one parking space in one frame.
type OccupancyRecord struct {
	// RegionID is the canonical region identifier from the catalog.
	RegionID int `json:"roi_id"`
	// Fraction is the share of the region's pixels classified as foreground, 0.0 to 1.0.
	Fraction float64 `json:"foreground_ratio"`
	// Occupied is true when Fraction reached the occupancy threshold.
	Occupied bool `json:"occupied"`
}

// OccupancySummary aggregates the records of one image.
type OccupancySummary struct {
	Regions       int     `json:"regions"`
	Occupied      int     `json:"occupied"`
	Empty         int     `json:"empty"`
	OccupancyRate float64 `json:"occupancy_rate"`
	MeanFraction  float64 `json:"mean_fraction"`
	MaxFraction   float64 `json:"max_fraction"`
}

// Parameters are the background-model settings a result was produced with.
type Parameters struct {
	LearningRate       float64 `json:"learning_rate"`
	Iterations         int     `json:"iterations"`
	VarThreshold       float64 `json:"var_threshold"`
	OccupancyThreshold float64 `json:"occupancy_threshold"`
	KernelSize         int     `json:"kernel_size"`
}

// ImageResult is the evaluation of a single test image.
type ImageResult struct {
	CameraID         string            `json:"cctv_id"`
	ImageName        string            `json:"image_name"`
	ImagePath        string            `json:"test_image_path"`
	LearningPath     string            `json:"learning_path"`
	LearningDataSize int               `json:"learning_data_size"`
	Timestamp        time.Time         `json:"timestamp"`
	Parameters       Parameters        `json:"parameters"`
	RoiResults       []OccupancyRecord `json:"roi_results"`
	Summary          OccupancySummary  `json:"summary"`
	// Artifacts lists visualization files relative to the run directory.
	Artifacts []string `json:"artifacts,omitempty"`
}

// RunSummary accounts for every test image the run looked at.
type RunSummary struct {
	Found     int            `json:"found"`
	Evaluated int            `json:"evaluated"`
	Skipped   map[string]int `json:"skipped,omitempty"`
}

// SkippedTotal returns the number of images that yielded no result.
func (s RunSummary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// BatchReport is the combined result of one batch run.
type BatchReport struct {
	RunID       string    `json:"run_id"`
	ProjectID   string    `json:"project_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CatalogPath string    `json:"roi_path"`
	TestRoot    string    `json:"test_path"`
	// OutputDir is the run directory holding the report and its artifacts.
	OutputDir  string        `json:"output_dir"`
	Parameters Parameters    `json:"parameters"`
	Results    []ImageResult `json:"results"`
	TotalTests int           `json:"total_tests"`
	Summary    RunSummary    `json:"summary"`
}

// Add appends a result and keeps TotalTests in step.
func (r *BatchReport) Add(result ImageResult) {
	r.Results = append(r.Results, result)
	r.TotalTests = len(r.Results)
	r.Summary.Evaluated = len(r.Results)
}

// Skip counts one test image that yielded no result.
func (r *BatchReport) Skip(reason string) {
	if r.Summary.Skipped == nil {
		r.Summary.Skipped = make(map[string]int)
	}
	r.Summary.Skipped[reason]++
}

// Sort orders results by camera id, then image name.
func (r *BatchReport) Sort() {
	sort.SliceStable(r.Results, func(i, j int) bool {
		a, b := r.Results[i], r.Results[j]
		if a.CameraID != b.CameraID {
			return a.CameraID < b.CameraID
		}
		return a.ImageName < b.ImageName
	})
}
