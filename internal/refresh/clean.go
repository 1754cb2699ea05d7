package refresh

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CleanResult reports what Clean removed
type CleanResult struct {
	CatalogRemoved   bool
	ETAFilesRemoved  int
	TempFilesRemoved int
}

// Clean deletes the catalog, the whole eta folder and any temporary
// downloads left in the catalog folder
func Clean(dataDir string) (CleanResult, error) {
	var result CleanResult
	paths := Paths{DataDir: dataDir}

	err := os.Remove(paths.CatalogPath())
	switch {
	case err == nil:
		result.CatalogRemoved = true
	case !errors.Is(err, fs.ErrNotExist):
		return result, fmt.Errorf("remove catalog: %w", err)
	}

	strays, _ := filepath.Glob(filepath.Join(dataDir, catalogDir, "*"+tempMarker+"*"))
	for _, path := range strays {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return result, fmt.Errorf("remove %s: %w", path, err)
		}
		result.TempFilesRemoved++
	}

	entries, err := os.ReadDir(paths.ETADir())
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("read eta folder: %w", err)
	}
	for _, e := range entries {
		if isTempFile(e.Name()) {
			result.TempFilesRemoved++
		} else {
			result.ETAFilesRemoved++
		}
	}
	if err := os.RemoveAll(paths.ETADir()); err != nil {
		return result, fmt.Errorf("remove eta folder: %w", err)
	}

	return result, nil
}

// SweepTempFiles removes temporary downloads under the catalog and eta
// folders whose last write is older than olderThan. Canonical files are
// never touched, and younger temp files may still belong to a live job.
func SweepTempFiles(dataDir string, olderThan time.Duration, now time.Time) (int, error) {
	paths := Paths{DataDir: dataDir}
	removed := 0

	for _, dir := range []string{filepath.Dir(paths.CatalogPath()), paths.ETADir()} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("read %s: %w", dir, err)
		}

		for _, e := range entries {
			if e.IsDir() || !isTempFile(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < olderThan {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("remove %s: %w", path, err)
			}
			removed++
		}
	}

	return removed, nil
}
