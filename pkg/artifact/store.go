// Package artifact manages the failure screenshot and report fragment directories.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
)

var log = logger.ForComponent(logger.CompArtifact)

// TimestampLayout is yyyy-MM-dd_HH-mm-ss.
const TimestampLayout = "2006-01-02_15-04-05"

// Store is the pair of directories that accumulate artifacts across every
// test group of one process.
type Store struct {
	ScreenshotDir string
	ResultsDir    string

	now func() time.Time
}

// NewStore creates a store. Directories are created on first write.
func NewStore(screenshotDir, resultsDir string) *Store {
	return &Store{ScreenshotDir: screenshotDir, ResultsDir: resultsDir, now: time.Now}
}

// Counts is the number of artifacts per directory.
type Counts struct {
	Screenshots int
	Results     int
}

// Total returns the sum of both directories.
func (c Counts) Total() int {
	return c.Screenshots + c.Results
}

// Count returns the artifacts currently on disk. Missing directories count as empty.
func (s *Store) Count() (Counts, error) {
	shots, err1 := s.screenshots()
	results, err2 := s.results()
	return Counts{Screenshots: len(shots), Results: len(results)}, errors.Join(err1, err2)
}

// Clear deletes every screenshot and report fragment. It keeps going after
// individual failures and returns how many files it removed together with a
// CleanupIO error joining every failure.
func (s *Store) Clear() (int, error) {
	shots, err1 := s.screenshots()
	results, err2 := s.results()
	errs := []error{err1, err2}

	deleted := 0
	for _, p := range append(shots, results...) {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	if err := errors.Join(errs...); err != nil {
		return deleted, core.ErrCleanupIO.WithCause(err).WithDetails(map[string]interface{}{
			"deleted": deleted,
		})
	}
	return deleted, nil
}

// SaveScreenshot writes png as FAILED_<test>_<timestamp>.png and returns its path.
func (s *Store) SaveScreenshot(testName string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", core.ErrArtifactIO.WithMessage("screenshot data is empty")
	}
	base := fmt.Sprintf("FAILED_%s_%s", SanitizeName(testName), s.now().Format(TimestampLayout))

	path, err := CreateUnique(s.ScreenshotDir, base, ".png", png)
	if err != nil {
		return "", core.ErrArtifactIO.WithMessage("failed to save screenshot").WithCause(err).WithDetails(map[string]interface{}{
			"path": filepath.Join(s.ScreenshotDir, base+".png"),
		})
	}
	log.Info("screenshot saved", "path", path, "bytes", len(png))
	return path, nil
}

// screenshots lists *.png files in the screenshot directory.
func (s *Store) screenshots() ([]string, error) {
	return list(s.ScreenshotDir, func(name string) bool {
		return strings.HasSuffix(strings.ToLower(name), ".png")
	})
}

// results lists every entry in the results directory.
func (s *Store) results() ([]string, error) {
	return list(s.ResultsDir, func(string) bool { return true })
}

func list(dir string, keep func(string) bool) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if keep(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName makes a test name safe for use in a file name.
func SanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "unnamed"
	}
	return name
}
