package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 0},
		{"0/0", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ParseFrameRate(tt.in), 1e-9, tt.in)
	}
}

func TestFrameSeekTime(t *testing.T) {
	assert.Equal(t, 0.0, FrameSeekTime(0, 30))
	assert.Equal(t, 0.0, FrameSeekTime(10, 0))
	assert.InDelta(t, 9.5/30, FrameSeekTime(10, 30), 1e-12)
	assert.Equal(t, "0.316667", FormatSeconds(FrameSeekTime(10, 30)))
}

func TestHasExtension(t *testing.T) {
	exts := []string{".mp4", ".avi"}
	assert.True(t, HasExtension("cam1.mp4", exts))
	assert.True(t, HasExtension("CAM2.AVI", exts))
	assert.False(t, HasExtension("notes.txt", exts))
	assert.False(t, HasExtension("mp4", exts))
}

func TestStripExtension(t *testing.T) {
	assert.Equal(t, "Camera_Left", StripExtension("/videos/Camera_Left.mp4"))
	assert.Equal(t, "noext", StripExtension("noext"))
}

func TestDirHelpers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	assert.False(t, DirExists(dir))
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
}
