// Package annotation writes the labeling scaffold for a sampled session: the
// project schema, one placeholder table and one image per extracted frame.
package annotation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keagan/framesampler/internal/config"
)

// DefaultEntity is used when a schema lists no entities
const DefaultEntity = "entity"

// recordingKey is the Recordings entry pointing at the generated dataset
const recordingKey = "annotation_dataset"

// Schema is the project file kept next to the Videos folder
type Schema struct {
	Name       string         `yaml:"Name"`
	Created    string         `yaml:"Date of creation"`
	Recordings map[string]any `yaml:"Recordings"`
	Cameras    []string       `yaml:"Cameras"`
	Entities   []string       `yaml:"Entities"`
	Keypoints  []string       `yaml:"Keypoints"`

	// Extra keeps keys written by other tools
	Extra map[string]any `yaml:",inline"`

	path  string
	isNew bool
}

// Path is the file the schema was loaded from or created at
func (s *Schema) Path() string {
	return s.path
}

// IsNew reports whether the schema has not been written yet
func (s *Schema) IsNew() bool {
	return s.isNew
}

// Triplets is the number of (x, y, state) column groups in the table
func (s *Schema) Triplets() int {
	return len(s.Entities) * len(s.Keypoints)
}

// FindSchema returns the first *.yaml file in basePath, or "" if there is none.
func FindSchema(basePath string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(basePath, "*.yaml"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

// OpenSchema loads the session's project file, or prepares a new one for
// <base>/<basename>.yaml seeded from defaults. A new schema is not written until
// Save or RecordDataset. A schema without keypoints is a configuration error.
func OpenSchema(basePath string, cameras []string, defaults config.SchemaConfig) (*Schema, error) {
	path, err := FindSchema(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to search for schema: %w", err)
	}

	if path != "" {
		s, err := LoadSchema(path)
		if err != nil {
			return nil, err
		}
		if len(s.Keypoints) == 0 {
			return nil, config.Invalid("schema %s lists no keypoints", path)
		}
		return s, nil
	}

	if len(defaults.Keypoints) == 0 {
		return nil, config.Invalid("no schema file in %s and no keypoints configured", basePath)
	}

	name := defaults.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(basePath))
	}

	s := &Schema{
		Name:       name,
		Created:    time.Now().Format("2006-01-02"),
		Recordings: map[string]any{recordingKey: nil},
		Cameras:    cameras,
		Entities:   trimAll(defaults.Entities),
		Keypoints:  trimAll(defaults.Keypoints),
		path:       filepath.Join(basePath, filepath.Base(filepath.Clean(basePath))+".yaml"),
		isNew:      true,
	}
	if len(s.Entities) == 0 {
		s.Entities = []string{DefaultEntity}
	}
	return s, nil
}

// LoadSchema reads a project file
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	s := &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	s.path = path

	s.Entities = trimAll(s.Entities)
	s.Keypoints = trimAll(s.Keypoints)
	if len(s.Entities) == 0 {
		s.Entities = []string{DefaultEntity}
	}
	return s, nil
}

// Save writes the schema back to its path
func (s *Schema) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	s.isNew = false
	return nil
}

// RecordDataset points Recordings.annotation_dataset at dir and saves.
func (s *Schema) RecordDataset(dir string) error {
	if s.Recordings == nil {
		s.Recordings = map[string]any{}
	}
	s.Recordings[recordingKey] = dir
	return s.Save()
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
