package annotation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is written at the root of the output folder
const ManifestFile = "selection.yaml"

// Manifest records how a selection was made so a run can be audited and repeated.
type Manifest struct {
	CreatedAt       time.Time         `yaml:"created_at"`
	ReferenceCamera string            `yaml:"reference_camera"`
	ReferenceIndex  int               `yaml:"reference_index"`
	Seed            uint64            `yaml:"seed"`
	Budget          int               `yaml:"budget"`
	Clusters        int               `yaml:"clusters"`
	Policy          string            `yaml:"undersize_policy"`
	FramesDecoded   int               `yaml:"frames_decoded"`
	Selected        []int             `yaml:"selected,flow"`
	Padded          []int             `yaml:"padded,flow,omitempty"`
	Partitions      []PartitionRecord `yaml:"partitions"`
	Cameras         []CameraRecord    `yaml:"cameras"`
}

// PartitionRecord is one cluster's share of the selection
type PartitionRecord struct {
	ID     int   `yaml:"id"`
	Size   int   `yaml:"size"`
	Picked []int `yaml:"picked,flow"`
}

// CameraRecord summarises one camera's extraction pass
type CameraRecord struct {
	Name      string `yaml:"name"`
	Extracted int    `yaml:"extracted"`
	Missing   []int  `yaml:"missing,flow,omitempty"`
}

// WriteManifest writes m as YAML to path
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by WriteManifest
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}
