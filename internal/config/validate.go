package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/keagan/framesampler/pkg/util"
)

// ErrInvalidConfig marks every configuration error. Use errors.Is to detect it.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Invalid wraps a single problem found outside Validate, e.g. once cameras are known.
func Invalid(format string, args ...any) error {
	return &ValidationError{Problems: []error{fmt.Errorf(format, args...)}}
}

// Validate checks the configuration once, before any decoding starts.
func (c *Config) Validate() error {
	var err error

	if c.Budget <= 0 {
		err = multierr.Append(err, fmt.Errorf("budget must be positive, got %d", c.Budget))
	}
	if c.Clusters <= 0 {
		err = multierr.Append(err, fmt.Errorf("clusters must be positive, got %d", c.Clusters))
	}
	if c.Budget > 0 && c.Clusters > 0 && c.Budget%c.Clusters != 0 {
		err = multierr.Append(err, fmt.Errorf("budget %d is not a multiple of clusters %d", c.Budget, c.Clusters))
	}
	if c.ReferenceCamera < 0 {
		err = multierr.Append(err, fmt.Errorf("reference camera index must not be negative, got %d", c.ReferenceCamera))
	}
	if c.Feature.Width <= 0 || c.Feature.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("feature size must be positive, got %dx%d", c.Feature.Width, c.Feature.Height))
	}
	if len(c.Extensions) == 0 {
		err = multierr.Append(err, errors.New("at least one video extension is required"))
	}

	switch c.UndersizePolicy {
	case PolicyError, PolicyShrink, PolicyPad:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown undersize policy %q", c.UndersizePolicy))
	}

	switch strings.ToLower(c.Output.ImageFormat) {
	case "jpg", "jpeg", "png":
	default:
		err = multierr.Append(err, fmt.Errorf("unsupported image format %q", c.Output.ImageFormat))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		err = multierr.Append(err, fmt.Errorf("jpeg quality must be in 1..100, got %d", c.Output.JPEGQuality))
	}

	if c.BasePath == "" {
		err = multierr.Append(err, errors.New("base path is required"))
	} else if !util.DirExists(c.BasePath) {
		err = multierr.Append(err, fmt.Errorf("base path %s is not a directory", c.BasePath))
	} else if !util.DirExists(c.VideosPath()) {
		err = multierr.Append(err, fmt.Errorf("videos folder not found at %s", c.VideosPath()))
	}

	if err != nil {
		return &ValidationError{Problems: multierr.Errors(err)}
	}
	return nil
}
