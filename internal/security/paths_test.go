package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "data"), 0o755))

	assert.NoError(t, WithinDirectory(filepath.Join(root, "data", "run.db"), root))
	assert.NoError(t, WithinDirectory(filepath.Join(root, "new", "deeper", "x.csv"), root))
	assert.ErrorIs(t, WithinDirectory(filepath.Join(root, "..", "escape.db"), root), ErrUnsafePath)
	assert.ErrorIs(t, WithinDirectory("/etc/passwd", root), ErrUnsafePath)
}

func TestWithinDirectory_Symlink(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	assert.ErrorIs(t, WithinDirectory(filepath.Join(link, "file.csv"), root), ErrUnsafePath)
}

func TestValidateInputFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "detections.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("1,1,1\n"), 0o644))

	assert.NoError(t, ValidateInputFile(csvPath, ".csv", ".txt"))
	assert.NoError(t, ValidateInputFile(csvPath))
	assert.ErrorIs(t, ValidateInputFile(csvPath, ".json"), ErrUnsafePath)
	assert.ErrorIs(t, ValidateInputFile(filepath.Join(dir, "missing.csv"), ".csv"), ErrUnsafePath)
	assert.ErrorIs(t, ValidateInputFile(dir), ErrUnsafePath)
}

func TestValidateOutputPath(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "nanotrack-out.csv")))
	assert.NoError(t, ValidateOutputPath("results.csv"))
	assert.ErrorIs(t, ValidateOutputPath("/proc/nanotrack.csv"), ErrUnsafePath)
}
