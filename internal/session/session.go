// Package session discovers the cameras of a recording session and lays out
// its annotation dataset folders.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"

	"github.com/keagan/framesampler/internal/config"
	"github.com/keagan/framesampler/pkg/util"
)

// Camera is one video file of the session
type Camera struct {
	Name string
	Path string
}

// Session is a recording session rooted at a base folder
type Session struct {
	BasePath  string
	VideosDir string
	OutputDir string
	Cameras   []Camera
}

// Discover lists the videos of the session, sorted by file name. The camera name
// is the file name without its extension.
func Discover(cfg *config.Config) (*Session, error) {
	videos := cfg.VideosPath()
	entries, err := os.ReadDir(videos)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, config.Invalid("videos folder not found at %s", videos)
		}
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	files := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && util.HasExtension(e.Name(), cfg.Extensions)
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	cameras := lo.Map(files, func(e os.DirEntry, _ int) Camera {
		return Camera{
			Name: util.StripExtension(e.Name()),
			Path: filepath.Join(videos, e.Name()),
		}
	})

	return &Session{
		BasePath:  cfg.BasePath,
		VideosDir: videos,
		OutputDir: cfg.OutputPath(),
		Cameras:   cameras,
	}, nil
}

// Names returns the camera names in session order
func (s *Session) Names() []string {
	return lo.Map(s.Cameras, func(c Camera, _ int) string { return c.Name })
}

// Reference returns the camera at index, or a configuration error when the
// index is out of range.
func (s *Session) Reference(index int) (Camera, error) {
	if len(s.Cameras) == 0 {
		return Camera{}, config.Invalid("no videos found in %s", s.VideosDir)
	}
	if index < 0 || index >= len(s.Cameras) {
		return Camera{}, config.Invalid("reference camera %d out of range 0-%d", index, len(s.Cameras)-1)
	}
	return s.Cameras[index], nil
}

// CameraDir is the output folder of one camera
func (s *Session) CameraDir(c Camera) string {
	return filepath.Join(s.OutputDir, c.Name)
}

// Scaffold creates the output folder and one sub-folder per camera
func (s *Session) Scaffold() error {
	if err := util.EnsureDir(s.OutputDir); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	for _, c := range s.Cameras {
		if err := util.EnsureDir(s.CameraDir(c)); err != nil {
			return fmt.Errorf("failed to create folder for %s: %w", c.Name, err)
		}
	}
	return nil
}
