package pipeline

import (
	"context"

	"github.com/keagan/framesampler/internal/annotation"
	"github.com/keagan/framesampler/internal/features"
	"github.com/keagan/framesampler/internal/ffmpeg"
	"github.com/keagan/framesampler/internal/framesync"
	"github.com/keagan/framesampler/internal/sampler"
	"github.com/keagan/framesampler/internal/session"
)

// Decoder opens the video streams of a session
type Decoder interface {
	Probe(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	OpenFrames(ctx context.Context, path string) (FrameStream, error)
	OpenSeeker(ctx context.Context, path string) (FrameSeeker, error)
}

// FrameStream is a sequential decode pass
type FrameStream interface {
	features.FrameSource
	Info() *ffmpeg.VideoInfo
}

// FrameSeeker decodes frames by index until closed
type FrameSeeker interface {
	framesync.Seeker
	Close() error
}

// Progress receives coarse progress of long-running stages
type Progress interface {
	Start(title string, total int)
	Increment()
	Done()
}

type nopProgress struct{}

func (nopProgress) Start(string, int) {}
func (nopProgress) Increment()        {}
func (nopProgress) Done()             {}

// Plan is the outcome of frame selection on the reference camera. Nothing has
// been written to disk when a Plan is returned.
type Plan struct {
	Session        *session.Session
	Reference      session.Camera
	ReferenceIndex int
	Schema         *annotation.Schema
	FramesDecoded  int
	Selection      *sampler.Selection
}

// CameraResult summarises one camera's synchronization pass
type CameraResult struct {
	Name      string
	Dir       string
	Extracted []int
	Missing   []int
}

// Result is the outcome of a full run
type Result struct {
	*Plan
	OutputDir    string
	ManifestPath string
	Cameras      []CameraResult
}

// CameraInfo is the probe result of one camera
type CameraInfo struct {
	Camera session.Camera
	Info   *ffmpeg.VideoInfo
	Err    error
}
