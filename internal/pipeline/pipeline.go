// Package pipeline runs frame sampling end to end: it selects frames on the
// reference camera, re-extracts them from every camera and writes the dataset.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/keagan/framesampler/internal/annotation"
	"github.com/keagan/framesampler/internal/config"
	"github.com/keagan/framesampler/internal/features"
	"github.com/keagan/framesampler/internal/ffmpeg"
	"github.com/keagan/framesampler/internal/framesync"
	"github.com/keagan/framesampler/internal/sampler"
	"github.com/keagan/framesampler/internal/session"
)

// bytes per feature vector element
const elementSize = 8

// Pipeline orchestrates the sampling workflow
type Pipeline struct {
	logger   zerolog.Logger
	config   *config.Config
	decoder  Decoder
	progress Progress
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDecoder replaces the ffmpeg decoder
func WithDecoder(d Decoder) Option {
	return func(p *Pipeline) {
		p.decoder = d
	}
}

// WithProgress reports stage progress to pr
func WithProgress(pr Progress) Option {
	return func(p *Pipeline) {
		p.progress = pr
	}
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		logger:   logger.With().Str("component", "pipeline").Logger(),
		config:   cfg,
		progress: nopProgress{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.decoder == nil {
		exec, err := ffmpeg.New(logger, ffmpeg.Options{
			FFmpegPath:  cfg.FFmpeg.BinaryPath,
			FFprobePath: cfg.FFmpeg.ProbePath,
			Threads:     cfg.FFmpeg.Threads,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
		}
		p.decoder = ffmpegDecoder{exec: exec}
	}

	return p, nil
}

// Probe reports the metadata of every camera. Per-camera failures are returned
// in CameraInfo.Err.
func (p *Pipeline) Probe(ctx context.Context) ([]CameraInfo, error) {
	sess, err := session.Discover(p.config)
	if err != nil {
		return nil, err
	}

	out := make([]CameraInfo, 0, len(sess.Cameras))
	for _, cam := range sess.Cameras {
		info, err := p.decoder.Probe(ctx, cam.Path)
		if err != nil {
			p.logger.Warn().Str("camera", cam.Name).Err(err).Msg("probe failed")
		}
		out = append(out, CameraInfo{Camera: cam, Info: info, Err: err})
	}
	return out, nil
}

// Plan validates the configuration, decodes the reference camera and selects
// the frame set. It writes nothing.
func (p *Pipeline) Plan(ctx context.Context) (*Plan, error) {
	cfg := p.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sess, err := session.Discover(cfg)
	if err != nil {
		return nil, err
	}
	ref, err := sess.Reference(cfg.ReferenceCamera)
	if err != nil {
		return nil, err
	}

	schema, err := annotation.OpenSchema(cfg.BasePath, sess.Names(), cfg.Schema)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("cameras", len(sess.Cameras)).
		Str("reference", ref.Name).
		Int("budget", cfg.Budget).
		Int("clusters", cfg.Clusters).
		Int("per_cluster", cfg.PerCluster()).
		Msg("session discovered")

	feats, err := p.extractFeatures(ctx, ref)
	if err != nil {
		return nil, err
	}
	decoded := len(feats)

	km := sampler.KMeans{
		K:                cfg.Clusters,
		BatchSize:        cfg.KMeans.BatchSize,
		MaxIter:          cfg.KMeans.MaxIter,
		Tolerance:        cfg.KMeans.Tolerance,
		MaxNoImprovement: cfg.KMeans.MaxNoImprovement,
		Seed:             cfg.Seed,
	}
	sel, err := sampler.New(p.logger, km, sampler.Policy(cfg.UndersizePolicy)).Select(feats, cfg.Budget)

	// the feature matrix must not outlive the fit
	feats = nil
	debug.FreeOSMemory()

	if err != nil {
		return nil, err
	}

	return &Plan{
		Session:        sess,
		Reference:      ref,
		ReferenceIndex: cfg.ReferenceCamera,
		Schema:         schema,
		FramesDecoded:  decoded,
		Selection:      sel,
	}, nil
}

// Run selects frames and writes the annotation dataset for every camera
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}

	sess := plan.Session
	if err := sess.Scaffold(); err != nil {
		return nil, err
	}

	res := &Result{
		Plan:      plan,
		OutputDir: sess.OutputDir,
		Cameras:   make([]CameraResult, 0, len(sess.Cameras)),
	}

	syncer := framesync.New(p.logger)
	writer := annotation.NewFrameWriter(p.config.Output.ImageFormat, p.config.Output.JPEGQuality)

	for _, cam := range sess.Cameras {
		frames, err := p.synchronize(ctx, syncer, cam, plan.Selection.Indices)
		if err != nil {
			return nil, err
		}

		cr, err := p.writeCamera(sess, plan.Schema, writer, cam, frames)
		if err != nil {
			return nil, err
		}
		cr.Missing = lo.Without(plan.Selection.Indices, cr.Extracted...)
		res.Cameras = append(res.Cameras, cr)
	}

	res.ManifestPath = filepath.Join(sess.OutputDir, annotation.ManifestFile)
	if err := annotation.WriteManifest(res.ManifestPath, p.manifest(res)); err != nil {
		return nil, err
	}

	if err := plan.Schema.RecordDataset(sess.OutputDir); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("output", sess.OutputDir).
		Int("selected", len(plan.Selection.Indices)).
		Dur("elapsed", time.Since(start)).
		Msg("sampling complete")

	return res, nil
}

// extractFeatures decodes the reference camera sequentially. Failing to start
// decoding is fatal; a failed frame read ends the pass.
func (p *Pipeline) extractFeatures(ctx context.Context, cam session.Camera) ([]features.Feature, error) {
	src, err := p.decoder.OpenFrames(ctx, cam.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference camera %s: %w", cam.Name, err)
	}

	info := src.Info()
	ext := features.NewExtractor(p.logger, p.config.Feature.Width, p.config.Feature.Height)

	ceiling := uint64(max(info.FrameCount, 0)) * uint64(ext.Dim()) * elementSize
	p.logger.Info().
		Str("camera", cam.Name).
		Int("reported_frames", info.FrameCount).
		Int("dim", ext.Dim()).
		Str("feature_memory", humanize.IBytes(ceiling)).
		Msg("extracting features")

	p.progress.Start("features "+cam.Name, info.FrameCount)
	defer p.progress.Done()

	feats, err := ext.Collect(src, info.FrameCount, func(features.Feature) {
		p.progress.Increment()
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		if len(feats) == 0 {
			return nil, fmt.Errorf("failed to decode reference camera %s: %w", cam.Name, err)
		}
		p.logger.Warn().Str("camera", cam.Name).Err(err).Msg("decoder exited with error")
	}

	if len(feats) != info.FrameCount {
		p.logger.Warn().
			Str("camera", cam.Name).
			Int("decoded", len(feats)).
			Int("reported", info.FrameCount).
			Msg("decoded length differs from reported length")
	}

	return feats, nil
}

// synchronize extracts indices from one camera. A camera that cannot be opened
// yields no frames; the reference camera was already decoded so this only
// affects completeness.
func (p *Pipeline) synchronize(ctx context.Context, syncer *framesync.Synchronizer, cam session.Camera, indices []int) ([]framesync.ExtractedFrame, error) {
	seeker, err := p.decoder.OpenSeeker(ctx, cam.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn().Str("camera", cam.Name).Err(err).Msg("cannot open camera, no frames extracted")
		return nil, nil
	}
	defer func() {
		if cerr := seeker.Close(); cerr != nil {
			p.logger.Warn().Str("camera", cam.Name).Err(cerr).Msg("failed to close camera")
		}
	}()

	p.progress.Start("sync "+cam.Name, len(indices))
	defer p.progress.Done()

	return syncer.Extract(ctx, cam.Name, progressSeeker{seeker, p.progress}, indices)
}

// writeCamera saves the frames and the placeholder table of one camera
func (p *Pipeline) writeCamera(sess *session.Session, schema *annotation.Schema, w *annotation.FrameWriter, cam session.Camera, frames []framesync.ExtractedFrame) (CameraResult, error) {
	dir := sess.CameraDir(cam)

	for _, f := range frames {
		if _, err := w.Write(dir, f); err != nil {
			return CameraResult{}, err
		}
	}

	table := filepath.Join(dir, annotation.TableFile)
	if err := annotation.WriteTableFile(table, schema, p.config.Output.Scorer, w.Filenames(frames)); err != nil {
		return CameraResult{}, err
	}

	p.logger.Debug().
		Str("camera", cam.Name).
		Str("dir", dir).
		Int("frames", len(frames)).
		Msg("camera written")

	return CameraResult{
		Name:      cam.Name,
		Dir:       dir,
		Extracted: framesync.Indices(frames),
	}, nil
}

func (p *Pipeline) manifest(res *Result) *annotation.Manifest {
	sel := res.Selection
	return &annotation.Manifest{
		CreatedAt:       time.Now().UTC(),
		ReferenceCamera: res.Reference.Name,
		ReferenceIndex:  res.ReferenceIndex,
		Seed:            p.config.Seed,
		Budget:          p.config.Budget,
		Clusters:        p.config.Clusters,
		Policy:          p.config.UndersizePolicy,
		FramesDecoded:   res.FramesDecoded,
		Selected:        sel.Indices,
		Padded:          sel.Padded,
		Partitions: lo.Map(sel.Partitions, func(pt sampler.Partition, _ int) annotation.PartitionRecord {
			return annotation.PartitionRecord{ID: pt.ID, Size: pt.Size, Picked: pt.Picked}
		}),
		Cameras: lo.Map(res.Cameras, func(c CameraResult, _ int) annotation.CameraRecord {
			return annotation.CameraRecord{Name: c.Name, Extracted: len(c.Extracted), Missing: c.Missing}
		}),
	}
}

// progressSeeker ticks progress once per requested frame
type progressSeeker struct {
	FrameSeeker
	progress Progress
}

func (s progressSeeker) FrameAt(ctx context.Context, index int) (*image.RGBA, error) {
	defer s.progress.Increment()
	return s.FrameSeeker.FrameAt(ctx, index)
}
