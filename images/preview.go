package images

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// PreviewQuality is the lossy quality used for JPEG and WebP previews.
const PreviewQuality = 85

// Thumbnail scales img to width, keeping the aspect ratio.
//
// A zero width or one at least as wide as img returns img unchanged.
func Thumbnail(img image.Image, width uint) image.Image {
	if width == 0 || int(width) >= img.Bounds().Dx() {
		return img
	}
	return resize.Resize(width, 0, img, resize.Lanczos3)
}

// EncodePreview writes a thumbnail of img, at most width pixels wide, to w.
//
// Arguments:
//   - w: The destination.
//   - img: The source image.
//   - width: The maximum preview width; zero keeps the source size.
//   - format: The encoding.
//
// Returns:
//   - error: ErrUnsupportedFormat, or the encoder's error.
func EncodePreview(w io.Writer, img image.Image, width uint, format ImageFormat) error {
	thumb := Thumbnail(img, width)

	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(w, thumb, &jpeg.Options{Quality: PreviewQuality})
	case FormatPNG:
		err = png.Encode(w, thumb)
	case FormatWebP:
		err = webp.Encode(w, thumb, &webp.Options{Quality: PreviewQuality})
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s preview", format)
	}
	return nil
}

// WritePreview encodes a preview of img to path.
func WritePreview(path string, img image.Image, width uint, format ImageFormat) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := EncodePreview(f, img, width, format); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}
