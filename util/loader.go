package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ImageExtensions are the frame file extensions accepted for training and testing.
// Matching is exact: extensions are compared as stored on disk.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// IsImageFile reports whether name carries one of the accepted image extensions.
func IsImageFile(name string) bool {
	ext := filepath.Ext(name)
	for _, accepted := range ImageExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

// ImageFile is one frame file found in a directory listing.
type ImageFile struct {
	// Path is the full path to the image file.
	Path string
	// Size is the file size in bytes.
	Size int64
	// ModTime is the modification time in Unix nanoseconds.
	ModTime int64
}

// LoadDirectoryImageFiles lists the image files directly inside dir.
//
// Subdirectories are not descended into. Files are sorted by name so that
// repeated passes over the same directory feed frames in the same order.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The image files, sorted by path.
// - error: Error if the directory cannot be read.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []ImageFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsImageFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		images = append(images, ImageFile{
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
		})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Path < images[j].Path
	})

	return images, nil
}

// DirectorySignature fingerprints the image files of dir by name, size and mtime.
//
// Two calls return the same signature as long as no image file was added,
// removed or rewritten in between.
func DirectorySignature(dir string) (string, error) {
	images, err := LoadDirectoryImageFiles(dir)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, img := range images {
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", filepath.Base(img.Path), img.Size, img.ModTime)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
