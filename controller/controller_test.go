package controller

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/roi"
	"github.com/nvr-ai/parking-occupancy/test"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const lotCatalog = `{
  "192.168.1.10": {
    "cctv_id": "P1_B3_1_3",
    "matches": [
      {"original_roi": [0, 0, 10, 0, 5, 10], "parking_id": "P1_12"},
      {"original_roi": [60, 60, 90, 60, 90, 90, 60, 90], "parking_id": "P1_13"}
    ]
  },
  "192.168.1.11": {
    "cctv_id": "P1_B3_1_4",
    "matches": [
      {"original_roi": [0, 0, 10, 0, 5, 10], "parking_id": "P1_20"}
    ]
  },
  "192.168.1.12": {
    "cctv_id": "P2_B1_1_1",
    "matches": [
      {"original_roi": [0, 0, 10, 0, 5, 10], "parking_id": 1}
    ]
  }
}`

// lot lays out a parking lot fixture under a temporary root.
type lot struct {
	root string
	gen  *test.MockFrameGenerator
}

func newLot(t *testing.T) *lot {
	t.Helper()
	l := &lot{root: t.TempDir(), gen: test.NewMockFrameGenerator(100, 100)}
	require.NoError(t, os.WriteFile(filepath.Join(l.root, "roi.json"), []byte(lotCatalog), 0o644))
	return l
}

func (l *lot) train(t *testing.T, camera string, n int) {
	t.Helper()
	_, err := l.gen.WriteStaticFrames(filepath.Join(l.root, "learning", camera), n, ".png")
	require.NoError(t, err)
}

func (l *lot) parked(t *testing.T, rel string, rect image.Rectangle) {
	t.Helper()
	require.NoError(t, l.gen.WriteParkedFrame(filepath.Join(l.root, "test", rel), rect))
}

func (l *lot) config() Config {
	cfg := DefaultConfig()
	cfg.ProjectID = "banpo"
	cfg.Iterations = 2
	cfg.TrainingRoot = filepath.Join(l.root, "learning")
	cfg.TestRoot = filepath.Join(l.root, "test")
	cfg.CatalogPath = filepath.Join(l.root, "roi.json")
	cfg.OutputRoot = filepath.Join(l.root, "results")
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "learning rate above one", mutate: func(c *Config) { c.LearningRate = 1.5 }},
		{name: "negative learning rate", mutate: func(c *Config) { c.LearningRate = -0.1 }},
		{name: "learning rate bounds", mutate: func(c *Config) { c.LearningRate = 1 }, ok: true},
		{name: "zero iterations", mutate: func(c *Config) { c.Iterations = 0 }},
		{name: "even kernel", mutate: func(c *Config) { c.KernelSize = 6 }},
		{name: "threshold above one", mutate: func(c *Config) { c.OccupancyThreshold = 1.2 }},
		{name: "zero variance threshold", mutate: func(c *Config) { c.VarThreshold = 0 }},
		{name: "webp preview", mutate: func(c *Config) { c.PreviewFormat = "webp" }, ok: true},
		{name: "unknown preview format", mutate: func(c *Config) { c.PreviewFormat = "tiff" }},
		{name: "negative preview width", mutate: func(c *Config) { c.PreviewWidth = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestConfigTrainingDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrainingRoot = "/data/learning"
	assert.Equal(t, filepath.Join("/data/learning", "P1_B3_1_3"), cfg.TrainingDir("P1_B3_1_3"))

	cfg.TrainingSubpath = "{camera}/empty"
	assert.Equal(t, filepath.Join("/data/learning", "P1_B3_1_3", "empty"), cfg.TrainingDir("P1_B3_1_3"))

	cfg.TrainingSubpath = ""
	assert.Equal(t, filepath.Join("/data/learning", "C1"), cfg.TrainingDir("C1"))
}

func TestRunEndToEnd(t *testing.T) {
	l := newLot(t)
	l.train(t, "P1_B3_1_3", 3)
	l.train(t, "P9_Z9_9_9", 3)

	vehicle := image.Rect(0, 0, 40, 40)
	l.parked(t, "P1_B3_1_3_Current.jpg", vehicle)
	l.parked(t, "nested/P1_B3_1_3.jpg", image.Rectangle{})
	// Known camera without a training directory.
	l.parked(t, "P1_B3_1_4_Current.jpg", vehicle)
	// Training data exists but the catalog has no entry.
	l.parked(t, "P9_Z9_9_9_Current.jpg", vehicle)
	// Name carries no camera id.
	l.parked(t, "snapshot.jpg", vehicle)
	require.NoError(t, os.WriteFile(filepath.Join(l.root, "test", "readme.txt"), []byte("x"), 0o644))

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	created := time.Date(2025, 7, 18, 9, 5, 3, 0, time.UTC)
	ctrl, err := New(l.config(), WithMetrics(m), WithClock(func() time.Time { return created }))
	require.NoError(t, err)

	rep, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "banpo", rep.ProjectID)
	assert.Equal(t, filepath.Join(l.root, "results", "20250718_090503_000"), rep.OutputDir)
	assert.Equal(t, 5, rep.Summary.Found)
	assert.Equal(t, 1, rep.Summary.Skipped[report.SkipUnmatchedName])
	assert.Equal(t, 1, rep.Summary.Skipped[report.SkipNoRegions])
	assert.Equal(t, 1, rep.Summary.Skipped[report.SkipTrainingMissing])

	require.Equal(t, 2, rep.TotalTests)
	assert.Equal(t, "P1_B3_1_3.jpg", rep.Results[0].ImageName)
	assert.Equal(t, 0, rep.Results[0].Summary.Occupied)

	result := rep.Results[1]
	assert.Equal(t, "P1_B3_1_3", result.CameraID)
	assert.Equal(t, "P1_B3_1_3_Current.jpg", result.ImageName)
	assert.Equal(t, 6, result.LearningDataSize)
	require.Len(t, result.RoiResults, 2)

	assert.Equal(t, 12, result.RoiResults[0].RegionID)
	assert.Greater(t, result.RoiResults[0].Fraction, 0.9)
	assert.True(t, result.RoiResults[0].Occupied)

	assert.Equal(t, 13, result.RoiResults[1].RegionID)
	assert.InDelta(t, 0.0, result.RoiResults[1].Fraction, 1e-9)
	assert.False(t, result.RoiResults[1].Occupied)

	assert.Equal(t, 1, result.Summary.Occupied)
	assert.Empty(t, result.Artifacts)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.ImagesFound))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ImagesEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImagesSkipped.WithLabelValues(report.SkipNoRegions)))
}

func TestRunSortsResults(t *testing.T) {
	l := newLot(t)
	l.train(t, "P1_B3_1_3", 2)
	l.train(t, "P2_B1_1_1", 2)

	l.parked(t, "z/P2_B1_1_1_Current.jpg", image.Rectangle{})
	l.parked(t, "a/P1_B3_1_3_Current.jpg", image.Rectangle{})
	l.parked(t, "b/P1_B3_1_3.jpg", image.Rectangle{})

	cfg := l.config()
	cfg.CacheModels = true
	ctrl, err := New(cfg)
	require.NoError(t, err)

	rep, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, rep.TotalTests)

	assert.Equal(t, "P1_B3_1_3.jpg", rep.Results[0].ImageName)
	assert.Equal(t, "P1_B3_1_3_Current.jpg", rep.Results[1].ImageName)
	assert.Equal(t, "P2_B1_1_1", rep.Results[2].CameraID)

	for _, r := range rep.Results {
		assert.False(t, r.RoiResults[0].Occupied)
	}
}

func TestRunModelCacheMatchesFreshModels(t *testing.T) {
	l := newLot(t)
	l.train(t, "P1_B3_1_3", 3)
	l.train(t, "P2_B1_1_1", 3)

	l.parked(t, "a/P1_B3_1_3_Current.jpg", image.Rect(0, 0, 40, 40))
	l.parked(t, "b/P1_B3_1_3.jpg", image.Rect(55, 55, 80, 80))
	l.parked(t, "P2_B1_1_1_Current.jpg", image.Rect(0, 0, 8, 8))

	run := func(cache bool) (*report.BatchReport, *metrics.Metrics) {
		m, err := metrics.New(prometheus.NewRegistry())
		require.NoError(t, err)
		cfg := l.config()
		cfg.CacheModels = cache
		ctrl, err := New(cfg, WithMetrics(m))
		require.NoError(t, err)
		rep, err := ctrl.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, rep.TotalTests)
		return rep, m
	}

	fresh, freshMetrics := run(false)
	cached, cachedMetrics := run(true)

	for i := range fresh.Results {
		want, got := fresh.Results[i], cached.Results[i]
		assert.Equal(t, want.ImageName, got.ImageName)
		assert.Equal(t, want.LearningDataSize, got.LearningDataSize)
		require.Len(t, got.RoiResults, len(want.RoiResults))
		for j := range want.RoiResults {
			assert.Equal(t, want.RoiResults[j].RegionID, got.RoiResults[j].RegionID)
			assert.InDelta(t, want.RoiResults[j].Fraction, got.RoiResults[j].Fraction, 1e-9,
				"%s region %d", want.ImageName, want.RoiResults[j].RegionID)
			assert.Equal(t, want.RoiResults[j].Occupied, got.RoiResults[j].Occupied)
		}
	}
	assert.True(t, fresh.Results[1].RoiResults[0].Occupied)

	// 3 frames over 2 epochs per training: one training per image without
	// the cache, one per camera with it.
	assert.Equal(t, 18.0, testutil.ToFloat64(freshMetrics.TrainingImages))
	assert.Equal(t, 12.0, testutil.ToFloat64(cachedMetrics.TrainingImages))
}

func TestRunVisualize(t *testing.T) {
	l := newLot(t)
	l.train(t, "P1_B3_1_3", 2)
	l.parked(t, "P1_B3_1_3_Current.jpg", image.Rect(0, 0, 40, 40))

	cfg := l.config()
	cfg.Visualize = true
	cfg.PreviewWidth = 50
	ctrl, err := New(cfg)
	require.NoError(t, err)

	rep, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.TotalTests)

	artifacts := rep.Results[0].Artifacts
	assert.Equal(t, []string{
		"P1_B3_1_3/P1_B3_1_3_Current_roi_result.jpg",
		"P1_B3_1_3/P1_B3_1_3_Current_fgmask.jpg",
		"P1_B3_1_3/P1_B3_1_3_Current_preview.jpg",
	}, artifacts)
	for _, a := range artifacts {
		assert.FileExists(t, filepath.Join(rep.OutputDir, filepath.FromSlash(a)))
	}
}

func TestRunCatalogFailure(t *testing.T) {
	l := newLot(t)
	cfg := l.config()
	cfg.CatalogPath = filepath.Join(l.root, "missing.json")

	ctrl, err := New(cfg)
	require.NoError(t, err)

	rep, err := ctrl.Run(context.Background())
	assert.Nil(t, rep)
	assert.True(t, errors.Is(err, roi.ErrCatalogUnavailable))
}

func TestRunMissingTestRoot(t *testing.T) {
	l := newLot(t)
	ctrl, err := New(l.config())
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background())
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	l := newLot(t)
	l.train(t, "P1_B3_1_3", 1)
	l.parked(t, "P1_B3_1_3_Current.jpg", image.Rectangle{})

	ctrl, err := New(l.config())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := ctrl.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Summary.Found)
	assert.Equal(t, 0, rep.TotalTests)
}
