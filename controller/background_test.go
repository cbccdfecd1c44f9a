package controller

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/parking-occupancy/test"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// recordingSubtractor records the learning rates it was applied with and
// reports every pixel as background.
type recordingSubtractor struct {
	rates  []float64
	closed bool
}

func (r *recordingSubtractor) Apply(frame gocv.Mat, mask *gocv.Mat, learningRate float64) error {
	r.rates = append(r.rates, learningRate)
	zeros := gocv.Zeros(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
	defer zeros.Close()
	zeros.CopyTo(mask)
	return nil
}

func (r *recordingSubtractor) Close() error {
	r.closed = true
	return nil
}

func TestBackgroundSessionTrainMissingDir(t *testing.T) {
	s := NewBackgroundSession(DefaultBackgroundConfig(), zerolog.Nop())
	defer s.Close()

	n, err := s.Train(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, ErrTrainingDataUnavailable))
}

func TestBackgroundSessionTrainEpochs(t *testing.T) {
	dir := t.TempDir()
	gen := test.NewMockFrameGenerator(32, 24)
	_, err := gen.WriteStaticFrames(dir, 3, ".png")
	require.NoError(t, err)

	// Unreadable and non-image files are not counted.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	sub := &recordingSubtractor{}
	config := DefaultBackgroundConfig()
	config.Epochs = 2
	config.LearningRate = 0.05
	s := newBackgroundSession(config, sub, zerolog.Nop())

	n, err := s.Train(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, s.Consumed())
	assert.Equal(t, []float64{0.05, 0.05, 0.05, 0.05, 0.05, 0.05}, sub.rates)

	frame := gen.GenerateStaticFrame()
	defer frame.Close()
	mask, err := s.Evaluate(frame)
	require.NoError(t, err)
	defer mask.Close()

	// Evaluation never updates the model.
	assert.Equal(t, 0.0, sub.rates[len(sub.rates)-1])
	assert.Equal(t, 0, gocv.CountNonZero(mask))

	s.Close()
	s.Close()
	assert.True(t, sub.closed)
}

func TestBackgroundSessionFrameSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	_, err := test.NewMockFrameGenerator(32, 24).WriteStaticFrames(dir, 2, ".png")
	require.NoError(t, err)

	s := newBackgroundSession(DefaultBackgroundConfig(), &recordingSubtractor{}, zerolog.Nop())
	defer s.Close()
	_, err = s.Train(dir)
	require.NoError(t, err)

	frame := test.NewMockFrameGenerator(64, 48).GenerateStaticFrame()
	defer frame.Close()
	mask, err := s.Evaluate(frame)
	defer mask.Close()
	assert.True(t, errors.Is(err, ErrFrameSizeMismatch))
}

func TestBackgroundSessionDetectsVehicle(t *testing.T) {
	dir := t.TempDir()
	gen := test.NewMockFrameGenerator(100, 100)
	_, err := gen.WriteStaticFrames(dir, 3, ".png")
	require.NoError(t, err)

	config := DefaultBackgroundConfig()
	config.Epochs = 2
	s := NewBackgroundSession(config, zerolog.Nop())
	defer s.Close()

	n, err := s.Train(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	empty := gen.GenerateStaticFrame()
	defer empty.Close()
	emptyMask, err := s.Evaluate(empty)
	require.NoError(t, err)
	defer emptyMask.Close()
	assert.Equal(t, 0, gocv.CountNonZero(emptyMask))

	parked := gen.GenerateParkedFrame(image.Rect(20, 20, 60, 60))
	defer parked.Close()
	mask, err := s.Evaluate(parked)
	require.NoError(t, err)
	defer mask.Close()

	assert.Equal(t, 1, mask.Channels())
	assert.Greater(t, gocv.CountNonZero(mask), 1400)

	// Evaluating the empty lot again gives the same answer.
	again, err := s.Evaluate(empty)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 0, gocv.CountNonZero(again))
}

func TestBackgroundSessionEvaluateFileUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "P1_B3_1_3_Current.jpg")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	s := NewBackgroundSession(DefaultBackgroundConfig(), zerolog.Nop())
	defer s.Close()

	frame, mask, err := s.EvaluateFile(path)
	defer frame.Close()
	defer mask.Close()
	assert.True(t, errors.Is(err, ErrTestImageUnreadable))
}
