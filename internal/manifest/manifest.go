// Package manifest loads a reconciliation batch from a YAML document.
//
//	resources:
//	  web:
//	    should: {presence: present, port: 8080}
//	  old-api:
//	    is: {presence: present}
//
// Omitted is/should blocks stay unset so the dispatcher applies its defaults.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/converge/internal/config"
	"github.com/dokzlo13/converge/internal/reconcile"
)

// Manifest is the on-disk document
type Manifest struct {
	Resources map[string]reconcile.Diff `yaml:"resources"`
}

// Load reads and parses a manifest file. Environment variables are
// expanded the same way as in the configuration file.
func Load(path string) (reconcile.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	batch, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return batch, nil
}

// Parse decodes a manifest document into a batch.
func Parse(data []byte) (reconcile.Batch, error) {
	var m Manifest
	if err := yaml.Unmarshal([]byte(config.ExpandEnv(string(data))), &m); err != nil {
		return nil, err
	}

	batch := make(reconcile.Batch, len(m.Resources))
	for name, diff := range m.Resources {
		if name == "" {
			return nil, fmt.Errorf("resource with empty name")
		}
		batch[name] = diff
	}
	return batch, nil
}
