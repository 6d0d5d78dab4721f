package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes the statically configured monitored items a
// subscription should be seeded with at startup, independent of whatever a
// client later adds via CreateMonitoredItems. This is domain data, not
// service configuration, so it is kept in its own YAML file and parsed
// directly with yaml.v3 rather than folded into the viper-managed Config.
type Manifest struct {
	Items []ManifestItem `yaml:"items"`
}

// ManifestItem is one statically configured monitored item.
type ManifestItem struct {
	ClientHandle       uint32  `yaml:"client_handle"`
	NodeID             string  `yaml:"node_id"`
	AttributeID        uint32  `yaml:"attribute_id"`
	SamplingIntervalMs float64 `yaml:"sampling_interval_ms"`
	QueueSize          uint32  `yaml:"queue_size"`
	DiscardOldest      bool    `yaml:"discard_oldest"`
}

// LoadManifest reads and parses a monitored-item seed manifest. An empty
// path yields an empty Manifest rather than an error: the seed file is
// optional.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return &Manifest{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest file: %w", err)
	}
	for i, item := range m.Items {
		if item.NodeID == "" {
			return nil, fmt.Errorf("manifest item %d: node_id is required", i)
		}
	}
	return &m, nil
}
