// Package framesync re-extracts a fixed set of frame indices from a video stream.
package framesync

import (
	"context"
	"image"

	"github.com/rs/zerolog"
)

// Seeker decodes a single frame by index
type Seeker interface {
	FrameAt(ctx context.Context, index int) (*image.RGBA, error)
}

// ExtractedFrame is one successfully decoded frame
type ExtractedFrame struct {
	Index int
	Image *image.RGBA
}

// Synchronizer extracts the same index set from every camera
type Synchronizer struct {
	logger zerolog.Logger
}

// New creates a synchronizer
func New(logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		logger: logger.With().Str("component", "framesync").Logger(),
	}
}

// Extract decodes each requested index once, in the order given. An index that
// fails to decode is logged and skipped for this camera; it is never retried.
// The returned slice may be shorter than indices. A cancelled context stops the
// pass and returns what was extracted so far with the context error.
func (s *Synchronizer) Extract(ctx context.Context, camera string, seeker Seeker, indices []int) ([]ExtractedFrame, error) {
	out := make([]ExtractedFrame, 0, len(indices))
	seen := make(map[int]bool, len(indices))

	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true

		if idx < 0 {
			s.logger.Warn().Str("camera", camera).Int("index", idx).Msg("negative frame index skipped")
			continue
		}

		img, err := seeker.FrameAt(ctx, idx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.logger.Warn().
				Str("camera", camera).
				Int("index", idx).
				Err(err).
				Msg("frame decode failed, skipping")
			continue
		}
		out = append(out, ExtractedFrame{Index: idx, Image: img})
	}

	s.logger.Info().
		Str("camera", camera).
		Int("requested", len(indices)).
		Int("extracted", len(out)).
		Msg("camera synchronized")

	return out, nil
}

// Indices returns the frame indices of frames, in order
func Indices(frames []ExtractedFrame) []int {
	out := make([]int, len(frames))
	for i, f := range frames {
		out[i] = f.Index
	}
	return out
}
