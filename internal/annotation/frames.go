package annotation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/keagan/framesampler/internal/framesync"
)

// FrameWriter saves extracted frames as images
type FrameWriter struct {
	ext     string
	quality int
}

// NewFrameWriter creates a writer for format ("jpg", "jpeg" or "png")
func NewFrameWriter(format string, jpegQuality int) *FrameWriter {
	ext := strings.ToLower(strings.TrimPrefix(format, "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	if ext == "" {
		ext = "jpg"
	}
	return &FrameWriter{ext: ext, quality: jpegQuality}
}

// Filename is the deterministic image name of a frame index
func (w *FrameWriter) Filename(index int) string {
	return fmt.Sprintf("Frame_%d.%s", index, w.ext)
}

// Filenames maps every frame to its image name, in order
func (w *FrameWriter) Filenames(frames []framesync.ExtractedFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = w.Filename(f.Index)
	}
	return out
}

// Write saves one frame into dir and returns the file path
func (w *FrameWriter) Write(dir string, frame framesync.ExtractedFrame) (string, error) {
	path := filepath.Join(dir, w.Filename(frame.Index))

	var opts []imaging.EncodeOption
	if w.ext == "jpg" && w.quality > 0 {
		opts = append(opts, imaging.JPEGQuality(w.quality))
	}

	if err := imaging.Save(frame.Image, path, opts...); err != nil {
		return "", fmt.Errorf("failed to save frame %d: %w", frame.Index, err)
	}
	return path, nil
}
