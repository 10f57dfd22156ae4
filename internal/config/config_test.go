package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "Videos"), 0755))
	return base
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("budget: 30\nclusters: 6\nseed: 7\nfeature:\n  width: 32\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Budget)
	assert.Equal(t, 6, cfg.Clusters)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 32, cfg.Feature.Width)
	assert.Equal(t, 64, cfg.Feature.Height, "unset fields keep their default")
	assert.Equal(t, 5, cfg.PerCluster())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.BasePath = "/data/Child_1"
	cfg.Schema.Keypoints = []string{"Wrist", "Pinky_T"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	base := newSession(t)

	tests := []struct {
		name   string
		mutate func(c *Config)
		errs   int
	}{
		{"valid", func(c *Config) {}, 0},
		{"budget not multiple", func(c *Config) { c.Budget = 21 }, 1},
		{"zero clusters", func(c *Config) { c.Clusters = 0 }, 1},
		{"negative budget", func(c *Config) { c.Budget = -4 }, 1},
		{"negative reference", func(c *Config) { c.ReferenceCamera = -1 }, 1},
		{"bad policy", func(c *Config) { c.UndersizePolicy = "guess" }, 1},
		{"bad image format", func(c *Config) { c.Output.ImageFormat = "gif" }, 1},
		{"missing base", func(c *Config) { c.BasePath = "" }, 1},
		{"missing videos folder", func(c *Config) { c.VideosDir = "Missing" }, 1},
		{"several problems", func(c *Config) {
			c.Budget = 10
			c.Clusters = 3
			c.Feature.Width = 0
			c.Output.JPEGQuality = 0
		}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.BasePath = base
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errs == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Len(t, verr.Problems, tt.errs)
		})
	}
}

func TestInvalid(t *testing.T) {
	err := Invalid("reference camera %d out of range", 3)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "reference camera 3 out of range")
}

func TestContextRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Budget = 12
	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
	assert.Equal(t, 20, FromContext(context.Background()).Budget)
}
