package controller

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	occupiedColor = color.RGBA{R: 255, A: 255}
	emptyColor    = color.RGBA{G: 255, A: 255}
	labelFill     = color.RGBA{A: 255}
)

const (
	labelFont      = gocv.FontHersheySimplex
	labelScale     = 0.5
	labelThickness = 1
	labelPadding   = 3
	outlineWidth   = 2
)

// Render draws every assessed region onto copies of frame and mask.
//
// Occupied regions are outlined in red and empty ones in green. Each region is
// labelled "ROI<id>: <fraction>" at its vertex mean over a filled background.
//
// Arguments:
//   - frame: The evaluated test frame.
//   - mask: Its single-channel foreground mask.
//   - assessments: The regions and records produced by Assess.
//
// Returns:
//   - gocv.Mat: The annotated frame; the caller closes it.
//   - gocv.Mat: The annotated, colorized mask; the caller closes it.
func (e *OccupancyEvaluator) Render(frame, mask gocv.Mat, assessments []Assessment) (gocv.Mat, gocv.Mat) {
	annotated := frame.Clone()
	colorized := gocv.NewMat()
	gocv.CvtColor(mask, &colorized, gocv.ColorGrayToBGR)

	for _, a := range assessments {
		c := emptyColor
		if a.Record.Occupied {
			c = occupiedColor
		}
		label := fmt.Sprintf("ROI%d: %.3f", a.Record.RegionID, a.Record.Fraction)
		drawRegion(&annotated, a.Region.Points, a.Region.Center(), label, c)
		drawRegion(&colorized, a.Region.Points, a.Region.Center(), label, c)
	}
	return annotated, colorized
}

func drawRegion(img *gocv.Mat, points []image.Point, center image.Point, label string, c color.RGBA) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{points})
	defer pv.Close()
	gocv.Polylines(img, pv, true, c, outlineWidth)

	size := gocv.GetTextSize(label, labelFont, labelScale, labelThickness)
	origin := image.Pt(center.X-size.X/2, center.Y+size.Y/2)
	background := image.Rect(
		origin.X-labelPadding, origin.Y-size.Y-labelPadding,
		origin.X+size.X+labelPadding, origin.Y+labelPadding,
	)
	gocv.Rectangle(img, background, labelFill, -1)
	gocv.PutText(img, label, origin, labelFont, labelScale, c, labelThickness)
}

// writeImage encodes mat to path in the format implied by its extension.
func writeImage(path string, mat gocv.Mat) error {
	if ok := gocv.IMWrite(path, mat); !ok {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}
