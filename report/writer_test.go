package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(created time.Time) *BatchReport {
	rep := &BatchReport{
		RunID:     "run-1",
		ProjectID: "banpo",
		CreatedAt: created,
		Parameters: Parameters{
			LearningRate: 0.01, Iterations: 3, VarThreshold: 16, OccupancyThreshold: 0.4, KernelSize: 7,
		},
	}
	rep.Add(ImageResult{
		CameraID:         "P1_B3_1_3",
		ImageName:        "P1_B3_1_3_Current.jpg",
		LearningDataSize: 30,
		Timestamp:        created,
		RoiResults: []OccupancyRecord{
			{RegionID: 12, Fraction: 0.41, Occupied: true},
			{RegionID: 13, Fraction: 0.39, Occupied: false},
		},
	})
	rep.Summary.Found = 2
	rep.Skip(SkipNoRegions)
	return rep
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2025, 7, 18, 9, 5, 3, 42*int(time.Millisecond), time.UTC)
	assert.Equal(t, "20250718_090503_042", Timestamp(ts))
}

func TestWriteRead(t *testing.T) {
	created := time.Date(2025, 7, 18, 9, 5, 3, 0, time.UTC)
	rep := sampleReport(created)
	dir := filepath.Join(t.TempDir(), "results", "20250718_090503_000")

	path, err := Write(rep, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20250718_090503_000"+FileSuffix), path)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalTests)
	assert.Equal(t, rep.Results[0].CameraID, got.Results[0].CameraID)
	assert.Equal(t, rep.Results[0].RoiResults, got.Results[0].RoiResults)
	assert.Equal(t, 30, got.Results[0].LearningDataSize)
	assert.Equal(t, map[string]int{SkipNoRegions: 1}, got.Summary.Skipped)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestWriteUnwritable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	rep := sampleReport(time.Now())
	_, err := Write(rep, filepath.Join(blocker, "out"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutputUnwritable))

	// The in-memory report survives and can be written elsewhere.
	assert.Len(t, rep.Results, 1)
	path, err := Write(rep, filepath.Join(base, "elsewhere"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, FileSuffix))
}

func TestListAndFind(t *testing.T) {
	root := t.TempDir()

	older := sampleReport(time.Date(2025, 7, 17, 0, 0, 0, 0, time.UTC))
	older.RunID = "older"
	_, err := Write(older, filepath.Join(root, "20250717_000000_000"))
	require.NoError(t, err)

	newer := sampleReport(time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC))
	newer.RunID = "newer"
	_, err = Write(newer, filepath.Join(root, "20250718_000000_000"))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	entries, err := List(root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].RunID)
	assert.Equal(t, "20250717_000000_000", entries[1].Name)

	_, ok := Find(filepath.Join(root, "empty"))
	assert.False(t, ok)

	entries, err = List(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSortAndSkips(t *testing.T) {
	rep := &BatchReport{}
	rep.Add(ImageResult{CameraID: "C2", ImageName: "a.jpg"})
	rep.Add(ImageResult{CameraID: "C1", ImageName: "b.jpg"})
	rep.Add(ImageResult{CameraID: "C1", ImageName: "a.jpg"})
	rep.Sort()

	assert.Equal(t, "C1", rep.Results[0].CameraID)
	assert.Equal(t, "a.jpg", rep.Results[0].ImageName)
	assert.Equal(t, "b.jpg", rep.Results[1].ImageName)
	assert.Equal(t, "C2", rep.Results[2].CameraID)
	assert.Equal(t, 3, rep.TotalTests)

	rep.Skip(SkipTrainingMissing)
	rep.Skip(SkipTrainingMissing)
	rep.Skip(SkipUnmatchedName)
	assert.Equal(t, 3, rep.Summary.SkippedTotal())
}
