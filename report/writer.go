package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FileSuffix ends the name of every written report file.
const FileSuffix = "_parking_result.json"

// ErrOutputUnwritable is returned when the report cannot be written to its destination.
var ErrOutputUnwritable = errors.New("report output unwritable")

// Timestamp formats t as YYYYMMDD_HHMMSS_mmm, the naming used for run directories and reports.
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// Write serializes the report into dir and returns the written path.
//
// The directory is created with its parents if needed. The file is named
// after the report's creation time. The report itself is never modified,
// so a caller can retry with another directory after a failure.
//
// Arguments:
//   - rep: The report to write.
//   - dir: Destination directory.
//
// Returns:
//   - string: Path of the written file.
//   - error: ErrOutputUnwritable wrapped with the cause.
func Write(rep *BatchReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(ErrOutputUnwritable, "create %s: %v", dir, err)
	}

	created := rep.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	path := filepath.Join(dir, Timestamp(created)+FileSuffix)

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode report")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(ErrOutputUnwritable, "write %s: %v", path, err)
	}
	return path, nil
}

// Read loads a report written by Write.
func Read(path string) (*BatchReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rep BatchReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &rep, nil
}

// Entry describes one report found under a results root.
type Entry struct {
	// Name is the run directory name, relative to the results root.
	Name string `json:"name"`
	// Path is the report file path.
	Path       string    `json:"path"`
	RunID      string    `json:"run_id"`
	ProjectID  string    `json:"project_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TotalTests int       `json:"total_tests"`
}

// List finds the reports stored one directory below root, newest first.
//
// Directories without a readable report are ignored. A missing root is
// an empty listing.
func List(root string) ([]Entry, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		path, ok := Find(filepath.Join(root, dir.Name()))
		if !ok {
			continue
		}
		rep, err := Read(path)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:       dir.Name(),
			Path:       path,
			RunID:      rep.RunID,
			ProjectID:  rep.ProjectID,
			CreatedAt:  rep.CreatedAt,
			TotalTests: rep.TotalTests,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name > entries[j].Name
	})
	return entries, nil
}

// Find returns the most recent report file directly inside dir.
func Find(dir string) (string, bool) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var latest string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), FileSuffix) {
			continue
		}
		if f.Name() > latest {
			latest = f.Name()
		}
	}
	if latest == "" {
		return "", false
	}
	return filepath.Join(dir, latest), true
}
