// Package features turns decoded video frames into fixed-size vectors.
//
// Each frame is downsampled to a small fixed resolution over all colour channels and
// flattened. No normalisation is applied.
package features

import (
	"errors"
	"image"
	"io"

	"github.com/muesli/clusters"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
)

// Channels per pixel in a feature vector (R, G, B)
const Channels = 3

// Feature is one decoded frame reduced to a flat vector.
type Feature struct {
	Index  int
	Vector clusters.Coordinates
}

// Coordinates implements clusters.Observation
func (f Feature) Coordinates() clusters.Coordinates {
	return f.Vector
}

// Distance returns the squared euclidean distance to point
func (f Feature) Distance(point clusters.Coordinates) float64 {
	d := floats.Distance(f.Vector, point, 2)
	return d * d
}

// FrameSource yields decoded frames in decode order. io.EOF ends the stream.
type FrameSource interface {
	Next() (*image.RGBA, error)
	Close() error
}

// Extractor reduces frames to feature vectors
type Extractor struct {
	logger zerolog.Logger
	width  int
	height int
}

// NewExtractor creates an extractor producing width*height*3 vectors
func NewExtractor(logger zerolog.Logger, width, height int) *Extractor {
	return &Extractor{
		logger: logger.With().Str("component", "features").Logger(),
		width:  width,
		height: height,
	}
}

// Dim is the length of every vector the extractor produces
func (e *Extractor) Dim() int {
	return e.width * e.height * Channels
}

// Vectorize downsamples img and flattens it row-major, channel-interleaved.
func (e *Extractor) Vectorize(img image.Image) clusters.Coordinates {
	small := resize.Resize(uint(e.width), uint(e.height), img, resize.Bilinear)
	vec := make(clusters.Coordinates, 0, e.Dim())

	if rgba, ok := small.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		for y := 0; y < e.height; y++ {
			row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+e.width*4]
			for x := 0; x < len(row); x += 4 {
				vec = append(vec, float64(row[x]), float64(row[x+1]), float64(row[x+2]))
			}
		}
		return vec
	}

	b := small.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := small.At(x, y).RGBA()
			vec = append(vec, float64(r>>8), float64(g>>8), float64(bl>>8))
		}
	}
	return vec
}

// Stream is a lazy, non-restartable sequence of features read from a FrameSource.
// It follows the bufio.Scanner pattern: call Next until it returns false, then Err.
type Stream struct {
	ext     *Extractor
	src     FrameSource
	limit   int
	index   int
	current Feature
	err     error
	closed  bool
}

// Stream wraps src. limit is the reported frame count, 0 when unknown. Decoding
// stops at the first frame that fails to read or once limit frames were produced.
func (e *Extractor) Stream(src FrameSource, limit int) *Stream {
	return &Stream{ext: e, src: src, limit: limit}
}

// Next advances to the next feature. The source is released once it returns false.
func (s *Stream) Next() bool {
	if s.closed {
		return false
	}
	if s.limit > 0 && s.index >= s.limit {
		s.Close()
		return false
	}

	img, err := s.src.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.ext.logger.Warn().Err(err).Int("index", s.index).Msg("frame read failed, ending sequence")
		}
		s.Close()
		return false
	}

	s.current = Feature{Index: s.index, Vector: s.ext.Vectorize(img)}
	s.index++
	return true
}

// Feature returns the feature produced by the last successful Next
func (s *Stream) Feature() Feature {
	return s.current
}

// Count is the number of features produced so far
func (s *Stream) Count() int {
	return s.index
}

// Err reports a failure to release the source. Decode failures end the stream
// without an error.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the source; safe to call more than once
func (s *Stream) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	s.err = multierr.Append(s.err, s.src.Close())
	return s.err
}

// Collect drains a stream over src into memory. onFrame, when not nil, is
// called after each feature is appended.
func (e *Extractor) Collect(src FrameSource, limit int, onFrame func(Feature)) ([]Feature, error) {
	stream := e.Stream(src, limit)
	defer stream.Close()

	out := make([]Feature, 0, max(limit, 0))
	for stream.Next() {
		f := stream.Feature()
		out = append(out, f)
		if onFrame != nil {
			onFrame(f)
		}
	}

	e.logger.Debug().
		Int("frames", len(out)).
		Int("reported", limit).
		Msg("feature extraction complete")

	return out, stream.Err()
}
