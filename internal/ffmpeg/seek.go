package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/keagan/framesampler/pkg/util"
)

// Seeker decodes individual frames of one video by frame index.
// Every FrameAt call runs its own short-lived ffmpeg process.
type Seeker struct {
	exec *Executor
	path string
	info *VideoInfo
}

// OpenSeeker probes path so frames can be addressed by index.
func (e *Executor) OpenSeeker(ctx context.Context, path string) (*Seeker, error) {
	info, err := e.ProbeVideo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("cannot seek in %s: unknown frame rate", path)
	}
	return &Seeker{exec: e, path: path, info: info}, nil
}

// FrameAt seeks to frame index and decodes exactly one frame.
func (s *Seeker) FrameAt(ctx context.Context, index int) (*image.RGBA, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: negative index %d", ErrFrameUnavailable, index)
	}

	var stdout bytes.Buffer
	stderr := newTailBuffer(2048)
	cmd := s.exec.command(ctx, s.exec.seekArgs(s.path, index, s.info))
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if stdout.Len() < s.info.FrameSize() {
		reason := stderr.String()
		if runErr != nil {
			reason = fmt.Sprintf("%v: %s", runErr, reason)
		}
		return nil, fmt.Errorf("%w: frame %d of %s: got %d of %d bytes %s",
			ErrFrameUnavailable, index, s.path, stdout.Len(), s.info.FrameSize(), reason)
	}

	return RGBFromRaw(stdout.Bytes(), s.info.Width, s.info.Height)
}

// Close exists so a Seeker can be released like any other stream handle.
func (s *Seeker) Close() error {
	return nil
}

// seekArgs positions the demuxer just before index and keeps one output frame.
func (e *Executor) seekArgs(path string, index int, info *VideoInfo) []string {
	input := ffmpeggo.KwArgs{}
	if ts := util.FrameSeekTime(index, info.FPS); ts > 0 {
		input["ss"] = util.FormatSeconds(ts)
	}

	stream := ffmpeggo.Input(path, input).Output("pipe:1", ffmpeggo.KwArgs{
		"map":      "0:v:0",
		"vf":       NewFilterBuilder().Scale(info.Width, info.Height).Build(),
		"frames:v": 1,
		"pix_fmt":  "rgb24",
		"f":        "rawvideo",
	})
	return append(e.baseArgs(), stream.GetArgs()...)
}
