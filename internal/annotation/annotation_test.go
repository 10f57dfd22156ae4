package annotation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/framesampler/internal/config"
	"github.com/keagan/framesampler/internal/framesync"
)

func testSchema(entities, keypoints []string) *Schema {
	return &Schema{Entities: entities, Keypoints: keypoints}
}

func TestTableShape(t *testing.T) {
	tests := []struct {
		name      string
		entities  []string
		keypoints []string
		frames    int
	}{
		{"single entity", []string{"entity"}, []string{"Wrist", "Pinky_T", "Pinky_D"}, 5},
		{"two entities", []string{"left", "right"}, []string{"Wrist", "Thumb"}, 3},
		{"no frames", []string{"entity"}, []string{"Wrist"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSchema(tt.entities, tt.keypoints)
			w := NewFrameWriter("jpg", 95)

			names := make([]string, tt.frames)
			for i := range names {
				names[i] = w.Filename(i * 10)
			}

			var buf bytes.Buffer
			require.NoError(t, WriteTable(&buf, s, "Scorer", names))

			rows, err := csv.NewReader(&buf).ReadAll()
			require.NoError(t, err)

			cols := 1 + 3*len(tt.entities)*len(tt.keypoints)
			assert.Len(t, rows, 4+tt.frames)
			for _, row := range rows {
				assert.Len(t, row, cols)
			}
			for i, row := range rows[4:] {
				assert.Equal(t, names[i], row[0])
				for j := 1; j < cols; j += 3 {
					assert.Equal(t, []string{"", "", "0"}, row[j:j+3])
				}
			}
		})
	}
}

func TestTableHeader(t *testing.T) {
	s := testSchema([]string{"a", "b"}, []string{"Wrist", "Thumb"})
	header := TableHeader(s, "lab")

	require.Len(t, header, 4)
	assert.Equal(t, []string{"lab", "lab", "lab", "lab", "lab", "lab", "lab", "lab", "lab", "lab", "lab", "lab", "lab"}, header[0])
	assert.Equal(t, []string{"entities", "a", "a", "a", "a", "a", "a", "b", "b", "b", "b", "b", "b"}, header[1])
	assert.Equal(t, []string{"bodyparts", "Wrist", "Wrist", "Wrist", "Thumb", "Thumb", "Thumb", "Wrist", "Wrist", "Wrist", "Thumb", "Thumb", "Thumb"}, header[2])
	assert.Equal(t, []string{"coords", "x", "y", "state", "x", "y", "state", "x", "y", "state", "x", "y", "state"}, header[3])
}

func TestWriteTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), TableFile)
	s := testSchema([]string{"entity"}, []string{"Wrist"})
	require.NoError(t, WriteTableFile(path, s, "Scorer", []string{"Frame_3.jpg"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Scorer,Scorer,Scorer,Scorer\nentities,entity,entity,entity\nbodyparts,Wrist,Wrist,Wrist\ncoords,x,y,state\nFrame_3.jpg,,,0\n", string(data))
}

func TestOpenSchemaCreates(t *testing.T) {
	base := filepath.Join(t.TempDir(), "Child_1")
	require.NoError(t, os.Mkdir(base, 0755))

	defaults := config.SchemaConfig{Keypoints: []string{"Pinky_T", " Wrist "}}
	s, err := OpenSchema(base, []string{"cam1", "cam2"}, defaults)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "Child_1.yaml"), s.Path())
	assert.Equal(t, "Child_1", s.Name)
	assert.Equal(t, []string{"entity"}, s.Entities)
	assert.Equal(t, []string{"Pinky_T", "Wrist"}, s.Keypoints)
	assert.Equal(t, []string{"cam1", "cam2"}, s.Cameras)
	assert.True(t, s.IsNew())
	assert.NoFileExists(t, s.Path())

	require.NoError(t, s.Save())
	assert.False(t, s.IsNew())
	assert.FileExists(t, s.Path())

	loaded, err := OpenSchema(base, nil, config.SchemaConfig{})
	require.NoError(t, err)
	assert.False(t, loaded.IsNew())
	assert.Equal(t, s.Keypoints, loaded.Keypoints)
	assert.Equal(t, s.Created, loaded.Created)
}

func TestOpenSchemaLoadsExisting(t *testing.T) {
	base := t.TempDir()
	content := `Name: Child_1_Handwriting
Date of creation: 2024-03-01
Recordings:
  annotation_dataset: null
Cameras:
- cam1
Keypoints:
- Wrist
- Thumb
Notes: keep me
`
	require.NoError(t, os.WriteFile(filepath.Join(base, "project.yaml"), []byte(content), 0644))

	s, err := OpenSchema(base, []string{"ignored"}, config.SchemaConfig{Keypoints: []string{"other"}})
	require.NoError(t, err)
	assert.Equal(t, "Child_1_Handwriting", s.Name)
	assert.Equal(t, "2024-03-01", s.Created)
	assert.Equal(t, []string{"entity"}, s.Entities)
	assert.Equal(t, []string{"Wrist", "Thumb"}, s.Keypoints)
	assert.Equal(t, "keep me", s.Extra["Notes"])

	require.NoError(t, s.RecordDataset("/data/annotation_dataset"))
	again, err := LoadSchema(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "/data/annotation_dataset", again.Recordings["annotation_dataset"])
	assert.Equal(t, "keep me", again.Extra["Notes"])
}

func TestOpenSchemaNeedsKeypoints(t *testing.T) {
	_, err := OpenSchema(t.TempDir(), nil, config.SchemaConfig{})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "p.yaml"), []byte("Name: x\n"), 0644))
	_, err = OpenSchema(base, nil, config.SchemaConfig{Keypoints: []string{"Wrist"}})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestFrameWriter(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 200, 30, 255
	}
	frame := framesync.ExtractedFrame{Index: 42, Image: img}

	png := NewFrameWriter("png", 0)
	path, err := png.Write(dir, frame)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Frame_42.png"), path)

	decoded, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds().Size(), decoded.Bounds().Size())
	assert.Equal(t, color.NRGBAModel.Convert(img.At(3, 3)), color.NRGBAModel.Convert(decoded.At(3, 3)))

	jpg := NewFrameWriter("JPEG", 90)
	path, err = jpg.Write(dir, frame)
	require.NoError(t, err)
	assert.Equal(t, "Frame_42.jpg", filepath.Base(path))
	assert.FileExists(t, path)

	assert.Equal(t, []string{"Frame_42.jpg"}, jpg.Filenames([]framesync.ExtractedFrame{frame}))
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)
	m := &Manifest{
		ReferenceCamera: "cam1",
		Seed:            3,
		Budget:          4,
		Clusters:        2,
		Policy:          "pad",
		FramesDecoded:   100,
		Selected:        []int{0, 10, 50, 99},
		Partitions: []PartitionRecord{
			{ID: 0, Size: 60, Picked: []int{0, 50}},
			{ID: 1, Size: 40, Picked: []int{10, 99}},
		},
		Cameras: []CameraRecord{{Name: "cam1", Extracted: 4}, {Name: "cam2", Extracted: 3, Missing: []int{99}}},
	}
	require.NoError(t, WriteManifest(path, m))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.Selected, loaded.Selected)
	assert.Equal(t, m.Partitions, loaded.Partitions)
	assert.Equal(t, m.Cameras, loaded.Cameras)
}
