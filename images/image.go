// Package images - Encoding of frames into preview thumbnails.
package images

import (
	"strings"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// ErrUnsupportedFormat is returned for a format name that cannot be encoded.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ParseFormat returns the format named by s. Empty selects JPEG; "jpg" is
// accepted as an alias.
func ParseFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", s)
}

// Extension returns the file extension of the format, with the leading dot.
func (f ImageFormat) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ".jpg"
	}
}
