package scan_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/power-plant/powerplant/internal/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func Test_ListFiles_WalksNestedDirectories(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	expected := []string{
		writeFile(t, filepath.Join(tempDir, "movie.mkv"), 10),
		writeFile(t, filepath.Join(tempDir, "nested", "episode.mp4"), 10),
		writeFile(t, filepath.Join(tempDir, "nested", "deeper", "sample.avi"), 10),
	}

	files, err := scan.ListFiles(tempDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, expected, files)
}

func Test_ListFiles_ExcludesDirectories(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "only", "dirs", "here"), 0o755))

	files, err := scan.ListFiles(tempDir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func Test_ListFiles_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := scan.ListFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.ErrorIs(t, err, scan.ErrNotFound)
}

func Test_FilterBySize_KeepsFilesAtOrAboveThreshold(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	small := writeFile(t, filepath.Join(tempDir, "small.srt"), 50)
	boundary := writeFile(t, filepath.Join(tempDir, "boundary.mkv"), 500)
	large := writeFile(t, filepath.Join(tempDir, "large.mkv"), 1200)

	kept := scan.FilterBySize([]string{small, boundary, large}, 500)
	assert.Equal(t, []string{boundary, large}, kept)
}

func Test_FilterBySize_DropsUnstatablePaths(t *testing.T) {
	t.Parallel()
	tempDir := t.TempDir()

	real := writeFile(t, filepath.Join(tempDir, "real.mkv"), 600)
	ghost := filepath.Join(tempDir, "ghost.mkv")

	kept := scan.FilterBySize([]string{ghost, real}, 500)
	assert.Equal(t, []string{real}, kept)
}
