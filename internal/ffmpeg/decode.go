package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// FrameReader decodes a video front to back, one rgb24 frame per Next call.
// It is not restartable. Close must be called to release the ffmpeg process.
type FrameReader struct {
	info    *VideoInfo
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *tailBuffer
	cancel  context.CancelFunc
	buf     []byte
	decoded int
	done    bool
	closed  bool
}

// OpenFrames probes path and starts a sequential decode of its first video stream.
func (e *Executor) OpenFrames(ctx context.Context, path string) (*FrameReader, error) {
	info, err := e.ProbeVideo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := e.command(ctx, e.sequentialArgs(path, info))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &FrameReader{
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		buf:    make([]byte, info.FrameSize()),
	}, nil
}

// sequentialArgs emits every decoded frame exactly once, at the probed size.
func (e *Executor) sequentialArgs(path string, info *VideoInfo) []string {
	stream := ffmpeggo.Input(path).Output("pipe:1", ffmpeggo.KwArgs{
		"map":      "0:v:0",
		"vf":       NewFilterBuilder().Scale(info.Width, info.Height).Build(),
		"fps_mode": "passthrough",
		"pix_fmt":  "rgb24",
		"f":        "rawvideo",
	})
	return append(e.baseArgs(), stream.GetArgs()...)
}

// Info returns the probed metadata of the stream being decoded.
func (r *FrameReader) Info() *VideoInfo {
	return r.info
}

// Next returns the next frame, or io.EOF once a frame can no longer be read.
func (r *FrameReader) Next() (*image.RGBA, error) {
	if r.done || r.closed {
		return nil, io.EOF
	}

	if _, err := io.ReadFull(r.stdout, r.buf); err != nil {
		r.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame %d: %w", r.decoded, err)
	}

	img, err := RGBFromRaw(r.buf, r.info.Width, r.info.Height)
	if err != nil {
		return nil, err
	}
	r.decoded++
	return img, nil
}

// Close stops ffmpeg if it is still running and waits for it to exit.
// It only reports an error when the stream ended without yielding a single frame.
func (r *FrameReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if !r.done {
		r.cancel()
	}
	err := r.cmd.Wait()
	r.cancel()

	if err != nil && r.done && r.decoded == 0 {
		return fmt.Errorf("ffmpeg decode failed: %w: %s", err, r.stderr.String())
	}
	return nil
}
