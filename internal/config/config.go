package config

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Undersize policies applied when a partition has fewer members than its quota
const (
	PolicyError  = "error"
	PolicyShrink = "shrink"
	PolicyPad    = "pad"
)

// Config holds all application configuration
type Config struct {
	// Session layout
	BasePath   string   `yaml:"base_path"`
	VideosDir  string   `yaml:"videos_dir"`
	OutputDir  string   `yaml:"output_dir"`
	Extensions []string `yaml:"extensions"`

	// Sampling
	Budget          int    `yaml:"budget"`
	Clusters        int    `yaml:"clusters"`
	ReferenceCamera int    `yaml:"reference_camera"`
	Seed            uint64 `yaml:"seed"`
	UndersizePolicy string `yaml:"undersize_policy"`

	Feature FeatureConfig `yaml:"feature"`
	KMeans  KMeansConfig  `yaml:"kmeans"`
	Output  OutputConfig  `yaml:"output"`
	Schema  SchemaConfig  `yaml:"schema"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
}

// FeatureConfig sets the downsample resolution of feature vectors
type FeatureConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// KMeansConfig tunes the mini-batch clustering. MaxIter counts mini-batch
// steps of BatchSize samples, not passes over every frame.
type KMeansConfig struct {
	BatchSize        int     `yaml:"batch_size"`
	MaxIter          int     `yaml:"max_iter"`
	Tolerance        float64 `yaml:"tolerance"`
	MaxNoImprovement int     `yaml:"max_no_improvement"`
}

type OutputConfig struct {
	ImageFormat string `yaml:"image_format"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	Scorer      string `yaml:"scorer"`
}

// SchemaConfig seeds a new project file when the session has none
type SchemaConfig struct {
	Name      string   `yaml:"name"`
	Entities  []string `yaml:"entities"`
	Keypoints []string `yaml:"keypoints"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ProbePath  string `yaml:"probe_path"`
	Threads    int    `yaml:"threads"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// VideosPath is the folder holding one video per camera
func (c *Config) VideosPath() string {
	return filepath.Join(c.BasePath, c.VideosDir)
}

// OutputPath is the root of the annotation dataset
func (c *Config) OutputPath() string {
	return filepath.Join(c.BasePath, c.OutputDir)
}

// PerCluster is the number of frames drawn from each partition
func (c *Config) PerCluster() int {
	if c.Clusters <= 0 {
		return 0
	}
	return c.Budget / c.Clusters
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		VideosDir:       "Videos",
		OutputDir:       "annotation_dataset",
		Extensions:      []string{".mp4", ".avi"},
		Budget:          20,
		Clusters:        4,
		ReferenceCamera: 0,
		Seed:            0,
		UndersizePolicy: PolicyPad,
		Feature: FeatureConfig{
			Width:  64,
			Height: 64,
		},
		KMeans: KMeansConfig{
			BatchSize:        1024,
			MaxIter:          100,
			Tolerance:        0,
			MaxNoImprovement: 10,
		},
		Output: OutputConfig{
			ImageFormat: "jpg",
			JPEGQuality: 95,
			Scorer:      "Scorer",
		},
		Schema: SchemaConfig{
			Entities: []string{"entity"},
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".framesampler", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
