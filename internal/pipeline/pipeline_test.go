package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/framesampler/internal/annotation"
	"github.com/keagan/framesampler/internal/config"
	"github.com/keagan/framesampler/internal/ffmpeg"
	"github.com/keagan/framesampler/internal/sampler"
)

const groups = 4

// frameImage renders frame i of a synthetic clip whose content cycles through
// four visually distinct scenes in runs of 50 frames.
func frameImage(i int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	v := uint8(((i/50)%groups)*60 + i%3)
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = v, v, v, 255
	}
	return img
}

type fakeVideo struct {
	frames    int
	failFrom  int
	probeErr  error
	openCalls int
}

type fakeDecoder struct {
	videos map[string]*fakeVideo
}

func (d *fakeDecoder) video(path string) *fakeVideo {
	return d.videos[filepath.Base(path)]
}

func (v *fakeVideo) info() *ffmpeg.VideoInfo {
	return &ffmpeg.VideoInfo{Width: 8, Height: 8, FPS: 30, FrameCount: v.frames}
}

func (d *fakeDecoder) Probe(_ context.Context, path string) (*ffmpeg.VideoInfo, error) {
	v := d.video(path)
	if v.probeErr != nil {
		return nil, v.probeErr
	}
	return v.info(), nil
}

func (d *fakeDecoder) OpenFrames(_ context.Context, path string) (FrameStream, error) {
	v := d.video(path)
	v.openCalls++
	if v.probeErr != nil {
		return nil, v.probeErr
	}
	return &fakeStream{video: v}, nil
}

func (d *fakeDecoder) OpenSeeker(_ context.Context, path string) (FrameSeeker, error) {
	v := d.video(path)
	v.openCalls++
	if v.probeErr != nil {
		return nil, v.probeErr
	}
	return &fakeSeeker{video: v}, nil
}

type fakeStream struct {
	video *fakeVideo
	next  int
}

func (s *fakeStream) Next() (*image.RGBA, error) {
	if s.next >= s.video.frames {
		return nil, io.EOF
	}
	s.next++
	return frameImage(s.next - 1), nil
}

func (s *fakeStream) Close() error            { return nil }
func (s *fakeStream) Info() *ffmpeg.VideoInfo { return s.video.info() }

type fakeSeeker struct {
	video *fakeVideo
}

func (s *fakeSeeker) FrameAt(_ context.Context, index int) (*image.RGBA, error) {
	if index >= s.video.frames || (s.video.failFrom > 0 && index >= s.video.failFrom) {
		return nil, ffmpeg.ErrFrameUnavailable
	}
	return frameImage(index), nil
}

func (s *fakeSeeker) Close() error { return nil }

type countingProgress struct {
	starts, ticks, done int
}

func (c *countingProgress) Start(string, int) { c.starts++ }
func (c *countingProgress) Increment()        { c.ticks++ }
func (c *countingProgress) Done()             { c.done++ }

func newTestSession(t *testing.T, videos map[string]*fakeVideo) (*config.Config, *fakeDecoder) {
	t.Helper()
	cfg := config.Default()
	cfg.BasePath = filepath.Join(t.TempDir(), "Child_1")
	require.NoError(t, os.MkdirAll(cfg.VideosPath(), 0755))
	for name := range videos {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.VideosPath(), name), nil, 0644))
	}

	cfg.Feature.Width, cfg.Feature.Height = 4, 4
	cfg.KMeans.BatchSize = 256
	cfg.Output.ImageFormat = "png"
	cfg.Schema.Keypoints = []string{"Wrist", "Thumb"}

	return cfg, &fakeDecoder{videos: videos}
}

func readTable(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunAsymmetricCameras(t *testing.T) {
	videos := map[string]*fakeVideo{
		"cam1.mp4": {frames: 1000},
		"cam2.avi": {frames: 1000, failFrom: 900},
	}
	cfg, dec := newTestSession(t, videos)
	progress := &countingProgress{}

	p, err := New(zerolog.Nop(), cfg, WithDecoder(dec), WithProgress(progress))
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	sel := res.Selection.Indices
	assert.Equal(t, 1000, res.FramesDecoded)
	assert.Len(t, sel, 20)
	assert.True(t, slices.IsSorted(sel))
	require.Len(t, res.Cameras, 2)

	ref, second := res.Cameras[0], res.Cameras[1]
	assert.Equal(t, "cam1", ref.Name)
	assert.Equal(t, sel, ref.Extracted)
	assert.Empty(t, ref.Missing)

	var want []int
	for _, idx := range sel {
		if idx < 900 {
			want = append(want, idx)
		}
	}
	assert.Equal(t, want, second.Extracted)
	assert.Less(t, len(second.Extracted), len(sel), "last members of later scenes sit past frame 900")
	assert.Len(t, second.Missing, len(sel)-len(want))

	for _, cr := range res.Cameras {
		rows := readTable(t, filepath.Join(cr.Dir, annotation.TableFile))
		assert.Len(t, rows, 4+len(cr.Extracted))
		for _, row := range rows {
			assert.Len(t, row, 1+3*1*2)
		}
		for i, idx := range cr.Extracted {
			name := rows[4+i][0]
			assert.Equal(t, fmt.Sprintf("Frame_%d.png", idx), name)
			assert.FileExists(t, filepath.Join(cr.Dir, name))
		}
	}

	m, err := annotation.LoadManifest(res.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, sel, m.Selected)
	assert.Equal(t, "cam1", m.ReferenceCamera)

	schema, err := annotation.LoadSchema(filepath.Join(cfg.BasePath, "Child_1.yaml"))
	require.NoError(t, err)
	assert.Equal(t, res.OutputDir, schema.Recordings["annotation_dataset"])
	assert.Equal(t, []string{"cam1", "cam2"}, schema.Cameras)

	assert.Equal(t, 3, progress.starts)
	assert.Equal(t, progress.starts, progress.done)
	assert.Equal(t, 1000+2*20, progress.ticks)
}

func TestRunIsReproducible(t *testing.T) {
	videos := map[string]*fakeVideo{"cam1.mp4": {frames: 600}}
	cfg, dec := newTestSession(t, videos)
	cfg.Seed = 9

	p, err := New(zerolog.Nop(), cfg, WithDecoder(dec))
	require.NoError(t, err)

	first, err := p.Plan(context.Background())
	require.NoError(t, err)
	second, err := p.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Selection.Indices, second.Selection.Indices)
}

func TestRunTooManyClusters(t *testing.T) {
	videos := map[string]*fakeVideo{"cam1.mp4": {frames: 3}}
	cfg, dec := newTestSession(t, videos)

	p, err := New(zerolog.Nop(), cfg, WithDecoder(dec))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, sampler.ErrTooFewFrames)
	assert.NoDirExists(t, cfg.OutputPath())
	assert.NoFileExists(t, filepath.Join(cfg.BasePath, "Child_1.yaml"))
}

func TestRunConfigErrorsStopBeforeDecoding(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"budget not multiple", func(c *config.Config) { c.Budget = 21 }},
		{"reference out of range", func(c *config.Config) { c.ReferenceCamera = 5 }},
		{"no keypoints", func(c *config.Config) { c.Schema.Keypoints = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			videos := map[string]*fakeVideo{"cam1.mp4": {frames: 100}}
			cfg, dec := newTestSession(t, videos)
			tt.mutate(cfg)

			p, err := New(zerolog.Nop(), cfg, WithDecoder(dec))
			require.NoError(t, err)

			_, err = p.Run(context.Background())
			assert.True(t, errors.Is(err, config.ErrInvalidConfig))
			assert.Zero(t, videos["cam1.mp4"].openCalls)
			assert.NoDirExists(t, cfg.OutputPath())
		})
	}
}

func TestRunSecondaryCameraUnavailable(t *testing.T) {
	videos := map[string]*fakeVideo{
		"a.mp4": {frames: 400},
		"b.mp4": {frames: 400, probeErr: errors.New("moov atom not found")},
	}
	cfg, dec := newTestSession(t, videos)
	cfg.Budget, cfg.Clusters = 8, 2

	p, err := New(zerolog.Nop(), cfg, WithDecoder(dec))
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Cameras, 2)
	assert.Len(t, res.Cameras[0].Extracted, 8)
	assert.Empty(t, res.Cameras[1].Extracted)
	assert.Len(t, res.Cameras[1].Missing, 8)

	rows := readTable(t, filepath.Join(res.Cameras[1].Dir, annotation.TableFile))
	assert.Len(t, rows, 4)
}

func TestRunReferenceUnavailable(t *testing.T) {
	videos := map[string]*fakeVideo{
		"a.mp4": {frames: 400, probeErr: errors.New("broken")},
		"b.mp4": {frames: 400},
	}
	cfg, dec := newTestSession(t, videos)

	p, err := New(zerolog.Nop(), cfg, WithDecoder(dec))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.Error(t, err)
	assert.NoDirExists(t, cfg.OutputPath())
}

func TestProbe(t *testing.T) {
	videos := map[string]*fakeVideo{
		"a.mp4": {frames: 120},
		"b.avi": {frames: 0, probeErr: errors.New("no stream")},
	}
	cfg, dec := newTestSession(t, videos)

	p, err := New(zerolog.Nop(), cfg, WithDecoder(dec))
	require.NoError(t, err)

	infos, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 120, infos[0].Info.FrameCount)
	assert.Error(t, infos[1].Err)
}
