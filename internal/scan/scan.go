package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when the root directory to scan does not exist.
var ErrNotFound = errors.New("directory not found")

// ListFiles will walk the file system, starting at the directory provided,
// and return the absolute paths of all regular files inside (including any
// inside of nested directories). Symlinks are not followed. An empty
// directory yields an empty slice; a missing root yields ErrNotFound.
//
// The ordering is the lexical ordering of the walk, which is stable
// within one call.
func ListFiles(rootDirPath string) ([]string, error) {
	if _, err := os.Stat(rootDirPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rootDirPath)
		}

		return nil, fmt.Errorf("failed to access %s: %s", rootDirPath, err.Error())
	}

	foundItems := make([]string, 0)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if dir.Type().IsRegular() {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return err
			}

			foundItems = append(foundItems, absPath)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk file system: %s", err.Error())
	}

	return foundItems, nil
}

// FilterBySize keeps only the paths whose file size is at or above the
// minimum byte count provided. Files which cannot be stat'd are dropped.
// Used to exclude incidental non-media files (subtitles, nfo, samples)
// bundled in a torrent payload.
func FilterBySize(paths []string, minSizeBytes int64) []string {
	filtered := make([]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if info.Size() >= minSizeBytes {
			filtered = append(filtered, path)
		}
	}

	return filtered
}
