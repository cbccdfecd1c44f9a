// Package test provides deterministic parking-lot frames for tests.
package test

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// BackgroundGray is the intensity of the empty-lot background.
const BackgroundGray = 128

// MockFrameGenerator creates deterministic color frames of a parking lot.
//
// @example
// gen := NewMockFrameGenerator(100, 100)
// frame := gen.GenerateStaticFrame()
// defer frame.Close()
type MockFrameGenerator struct {
	width  int
	height int
}

// NewMockFrameGenerator creates a new frame generator with specified dimensions.
//
// Arguments:
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - A configured MockFrameGenerator instance.
func NewMockFrameGenerator(width, height int) *MockFrameGenerator {
	return &MockFrameGenerator{width: width, height: height}
}

// GenerateStaticFrame creates a uniform gray frame of the empty lot.
func (g *MockFrameGenerator) GenerateStaticFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(BackgroundGray, BackgroundGray, BackgroundGray, 0),
		g.height, g.width, gocv.MatTypeCV8UC3,
	)
}

// GenerateParkedFrame creates an empty-lot frame with a white vehicle filling rect.
// An empty rect yields the empty lot.
func (g *MockFrameGenerator) GenerateParkedFrame(rect image.Rectangle) gocv.Mat {
	frame := g.GenerateStaticFrame()
	if !rect.Empty() {
		gocv.Rectangle(&frame, rect, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
	return frame
}

// GenerateMask creates a single-channel mask with rect set to 255.
func (g *MockFrameGenerator) GenerateMask(rect image.Rectangle) gocv.Mat {
	mask := gocv.Zeros(g.height, g.width, gocv.MatTypeCV8UC1)
	if !rect.Empty() {
		gocv.Rectangle(&mask, rect, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
	return mask
}

// WriteStaticFrames writes n empty-lot frames into dir as frame_000.jpg, frame_001.jpg, ...
//
// PNG is used when ext is ".png"; the frames are lossless either way for a
// uniform image.
func (g *MockFrameGenerator) WriteStaticFrames(dir string, n int, ext string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if ext == "" {
		ext = ".jpg"
	}

	frame := g.GenerateStaticFrame()
	defer frame.Close()

	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame_%03d%s", i, ext))
		if err := WriteFrame(path, frame); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteParkedFrame writes a frame with a vehicle filling rect to path.
func (g *MockFrameGenerator) WriteParkedFrame(path string, rect image.Rectangle) error {
	frame := g.GenerateParkedFrame(rect)
	defer frame.Close()
	return WriteFrame(path, frame)
}

// WriteFrame encodes frame to path, creating the parent directory.
func WriteFrame(path string, frame gocv.Mat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if !gocv.IMWrite(path, frame) {
		return errors.Errorf("failed to write frame %s", path)
	}
	return nil
}
