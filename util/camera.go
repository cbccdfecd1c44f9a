package util

import (
	"path/filepath"
	"regexp"
)

// DefaultSnapshotSuffix marks a "current snapshot" frame in test file names.
const DefaultSnapshotSuffix = "_Current"

// cameraIDPattern matches <LetterDigits>_<LetterDigits>_<digits>_<digits>,
// with either '_' or '-' between segments.
const cameraIDPattern = `[A-Za-z]+[0-9]+[_-][A-Za-z]+[0-9]+[_-][0-9]+[_-][0-9]+`

// CameraIDExtractor derives camera identifiers from test image file names.
//
// A name such as "P1_B2_3_1_Current.jpg" yields "P1_B2_3_1". Whether the
// snapshot suffix is mandatory is a deployment choice: Strict requires it,
// otherwise "P1_B2_3_1.jpg" is accepted as well.
type CameraIDExtractor struct {
	// Suffix is the snapshot marker placed between the identifier and the extension.
	Suffix string
	// Strict requires Suffix to be present.
	Strict bool

	re *regexp.Regexp
}

// NewCameraIDExtractor compiles an extractor for the given suffix and strictness.
//
// Arguments:
//   - suffix: The snapshot marker; empty selects DefaultSnapshotSuffix.
//   - strict: Whether the marker is required.
//
// Returns:
//   - *CameraIDExtractor: The ready extractor.
func NewCameraIDExtractor(suffix string, strict bool) *CameraIDExtractor {
	if suffix == "" {
		suffix = DefaultSnapshotSuffix
	}

	quantifier := "?"
	if strict {
		quantifier = ""
	}
	expr := `^(` + cameraIDPattern + `)(?:` + regexp.QuoteMeta(suffix) + `)` + quantifier + `\.jpg$`

	return &CameraIDExtractor{
		Suffix: suffix,
		Strict: strict,
		re:     regexp.MustCompile(expr),
	}
}

// Extract returns the camera identifier encoded in the base name of filename.
func (e *CameraIDExtractor) Extract(filename string) (string, bool) {
	m := e.re.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return "", false
	}
	return m[1], true
}
