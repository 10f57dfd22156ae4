package pipeline

import (
	"context"

	"github.com/keagan/framesampler/internal/ffmpeg"
)

// ffmpegDecoder adapts the ffmpeg executor to Decoder
type ffmpegDecoder struct {
	exec *ffmpeg.Executor
}

func (d ffmpegDecoder) Probe(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	return d.exec.ProbeVideo(ctx, path)
}

func (d ffmpegDecoder) OpenFrames(ctx context.Context, path string) (FrameStream, error) {
	r, err := d.exec.OpenFrames(ctx, path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (d ffmpegDecoder) OpenSeeker(ctx context.Context, path string) (FrameSeeker, error) {
	s, err := d.exec.OpenSeeker(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
