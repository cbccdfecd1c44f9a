// Package controller - Background model sessions, occupancy evaluation and the batch run orchestrator
package controller

import (
	"image"
	"os"
	"sync"

	"github.com/nvr-ai/parking-occupancy/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

var (
	// ErrTrainingDataUnavailable is returned when a camera's training directory does not exist.
	ErrTrainingDataUnavailable = errors.New("training data unavailable")
	// ErrTestImageUnreadable is returned when a test image cannot be decoded.
	ErrTestImageUnreadable = errors.New("test image unreadable")
	// ErrFrameSizeMismatch is returned when a frame does not match the size the model was trained on.
	ErrFrameSizeMismatch = errors.New("frame size does not match background model")
)

// trainingProgressInterval is how many updates pass between training progress logs.
const trainingProgressInterval = 10

// BackgroundConfig contains the parameters of a background model session.
type BackgroundConfig struct {
	// LearningRate is how strongly each training frame updates the model, 0.0 to 1.0.
	LearningRate float64
	// Epochs is how many passes are made over the training directory.
	Epochs int
	// VarThreshold is the squared distance threshold of the mixture model.
	VarThreshold float64
	// History is the number of frames the mixture model remembers.
	History int
	// DetectShadows marks shadows in the mask when enabled.
	DetectShadows bool
	// KernelSize is the side of the square morphology kernel, must be odd.
	KernelSize int
}

// DefaultBackgroundConfig returns the default background model configuration.
func DefaultBackgroundConfig() BackgroundConfig {
	return BackgroundConfig{
		LearningRate:  0.01,
		Epochs:        1,
		VarThreshold:  16.0,
		History:       500,
		DetectShadows: false,
		KernelSize:    7,
	}
}

// Subtractor is an adaptive per-pixel background model.
type Subtractor interface {
	// Apply classifies frame into mask and updates the model by learningRate.
	Apply(frame gocv.Mat, mask *gocv.Mat, learningRate float64) error
	Close() error
}

type mog2Subtractor struct {
	bs gocv.BackgroundSubtractorMOG2
}

func newMOG2Subtractor(config BackgroundConfig) *mog2Subtractor {
	return &mog2Subtractor{
		bs: gocv.NewBackgroundSubtractorMOG2WithParams(config.History, config.VarThreshold, config.DetectShadows),
	}
}

func (m *mog2Subtractor) Apply(frame gocv.Mat, mask *gocv.Mat, learningRate float64) error {
	return m.bs.ApplyWithLearningRate(frame, mask, learningRate)
}

func (m *mog2Subtractor) Close() error {
	return m.bs.Close()
}

// BackgroundSession is a background model trained on one camera's empty-lot frames.
//
// A session is trained once and then evaluated any number of times. Evaluation
// never updates the model, so results do not depend on evaluation order.
type BackgroundSession struct {
	config     BackgroundConfig
	subtractor Subtractor
	kernel     gocv.Mat
	logger     zerolog.Logger

	mu        sync.Mutex
	frameSize image.Point
	consumed  int
	closed    bool
}

// NewBackgroundSession creates an untrained session backed by a MOG2 mixture model.
//
// Arguments:
//   - config: Background model parameters.
//   - logger: Logger for training progress.
//
// Returns:
//   - *BackgroundSession: The session; Close must be called when done.
//
// @example
// session := NewBackgroundSession(DefaultBackgroundConfig(), log.Logger)
// defer session.Close()
// consumed, err := session.Train("/data/learning/P1_B3_1_3")
func NewBackgroundSession(config BackgroundConfig, logger zerolog.Logger) *BackgroundSession {
	return newBackgroundSession(config, newMOG2Subtractor(config), logger)
}

func newBackgroundSession(config BackgroundConfig, subtractor Subtractor, logger zerolog.Logger) *BackgroundSession {
	k := config.KernelSize
	if k <= 0 {
		k = DefaultBackgroundConfig().KernelSize
	}
	return &BackgroundSession{
		config:     config,
		subtractor: subtractor,
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(k, k)),
		logger:     logger,
	}
}

// Train runs Epochs passes over the image files of dir, updating the model
// with the configured learning rate after each frame.
//
// Files are visited in name order. Unreadable files, and files whose size
// differs from the first frame, are skipped without failing the session.
//
// Arguments:
//   - dir: The camera's training directory.
//
// Returns:
//   - int: The number of model updates performed.
//   - error: ErrTrainingDataUnavailable when dir does not exist.
func (s *BackgroundSession) Train(dir string) (int, error) {
	if err := checkTrainingDir(dir); err != nil {
		return 0, err
	}

	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return 0, errors.Wrapf(ErrTrainingDataUnavailable, "%s: %v", dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mask := gocv.NewMat()
	defer mask.Close()

	updates := 0
	for epoch := 0; epoch < s.config.Epochs; epoch++ {
		for _, file := range files {
			if !s.learn(file.Path, &mask) {
				continue
			}
			updates++
			s.consumed++
			if updates%trainingProgressInterval == 0 {
				s.logger.Debug().
					Str("dir", dir).
					Int("epoch", epoch+1).
					Int("updates", updates).
					Msg("training background model")
			}
		}
	}

	if updates == 0 {
		s.logger.Warn().Str("dir", dir).Msg("no usable training frames")
	}
	return updates, nil
}

// learn feeds one training file to the model and reports whether it was used.
func (s *BackgroundSession) learn(path string, mask *gocv.Mat) bool {
	frame := gocv.IMRead(path, gocv.IMReadColor)
	defer frame.Close()
	if frame.Empty() {
		s.logger.Debug().Str("path", path).Msg("skipping unreadable training frame")
		return false
	}

	size := image.Pt(frame.Cols(), frame.Rows())
	if s.frameSize == (image.Point{}) {
		s.frameSize = size
	} else if size != s.frameSize {
		s.logger.Debug().Str("path", path).Msg("skipping training frame with mismatched size")
		return false
	}

	if err := s.subtractor.Apply(frame, mask, s.config.LearningRate); err != nil {
		s.logger.Debug().Err(err).Str("path", path).Msg("background update failed")
		return false
	}
	return true
}

// Consumed returns the total number of model updates performed by Train.
func (s *BackgroundSession) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

// Evaluate classifies frame against the trained model and returns the cleaned
// binary foreground mask. The model is not updated.
//
// Returns:
//   - gocv.Mat: Single-channel mask, 255 for foreground; the caller closes it.
//   - error: ErrFrameSizeMismatch or the subtractor's error.
func (s *BackgroundSession) Evaluate(frame gocv.Mat) (gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return gocv.NewMat(), errors.New("background session is closed")
	}

	size := image.Pt(frame.Cols(), frame.Rows())
	if s.frameSize != (image.Point{}) && size != s.frameSize {
		return gocv.NewMat(), errors.Wrapf(ErrFrameSizeMismatch, "got %v, trained on %v", size, s.frameSize)
	}

	raw := gocv.NewMat()
	defer raw.Close()
	if err := s.subtractor.Apply(frame, &raw, 0); err != nil {
		return gocv.NewMat(), errors.Wrap(err, "background subtraction failed")
	}

	// Opening removes speckle, closing fills small holes.
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(raw, &opened, gocv.MorphOpen, s.kernel)

	mask := gocv.NewMat()
	gocv.MorphologyEx(opened, &mask, gocv.MorphClose, s.kernel)
	return mask, nil
}

// EvaluateFile reads the test image at path and evaluates it.
//
// Returns:
//   - gocv.Mat: The decoded frame; the caller closes it.
//   - gocv.Mat: The foreground mask; the caller closes it.
//   - error: ErrTestImageUnreadable when the file cannot be decoded.
func (s *BackgroundSession) EvaluateFile(path string) (gocv.Mat, gocv.Mat, error) {
	frame := gocv.IMRead(path, gocv.IMReadColor)
	if frame.Empty() {
		frame.Close()
		return gocv.NewMat(), gocv.NewMat(), errors.Wrap(ErrTestImageUnreadable, path)
	}

	mask, err := s.Evaluate(frame)
	if err != nil {
		frame.Close()
		return gocv.NewMat(), gocv.NewMat(), err
	}
	return frame, mask, nil
}

// Close releases the native model. It is safe to call more than once.
func (s *BackgroundSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.kernel.Close()
	if err := s.subtractor.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to close background subtractor")
	}
}

func checkTrainingDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(ErrTrainingDataUnavailable, "%s: %v", dir, err)
	}
	if !info.IsDir() {
		return errors.Wrapf(ErrTrainingDataUnavailable, "%s is not a directory", dir)
	}
	return nil
}
