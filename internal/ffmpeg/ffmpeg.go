package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// ErrFrameUnavailable is returned when a requested frame could not be decoded.
var ErrFrameUnavailable = errors.New("frame unavailable")

// Options locates the ffmpeg binaries
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Threads     int
}

// Executor runs ffmpeg and ffprobe as child processes
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates a new ffmpeg executor
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(opts.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath(opts.FFprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     opts.Threads,
	}, nil
}

// baseArgs go in front of every ffmpeg invocation
func (e *Executor) baseArgs() []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	return args
}

func (e *Executor) command(ctx context.Context, args []string) *exec.Cmd {
	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	return exec.CommandContext(ctx, e.ffmpegPath, args...)
}

// tailBuffer keeps the last limit bytes written to it, enough to explain a failure
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
