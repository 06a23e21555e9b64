package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const ManifestFileName = ".reposnap.yml"

// Manifest represents the .reposnap.yml file at a workspace root.
type Manifest struct {
	Version string `yaml:"version"`
	// Root is the base for relative repository paths. It defaults to the
	// directory holding the manifest.
	Root         string   `yaml:"root,omitempty"`
	Repositories []string `yaml:"repositories,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`

	dir string
}

// LoadManifest reads and parses the manifest named name from dir.
func LoadManifest(dir, name string) (*Manifest, error) {
	if name == "" {
		name = ManifestFileName
	}
	manifestPath := filepath.Join(dir, name)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s not found in %s: %w", name, dir, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	m.dir = dir
	return &m, nil
}

// Validate checks if the manifest is valid
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("version field is required")
	}

	if m.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (supported: 1.0)", m.Version)
	}

	for _, tok := range m.Exclude {
		if tok == "" {
			return fmt.Errorf("exclude entries must not be empty")
		}
	}

	return nil
}

// Paths returns the repository paths resolved against Root.
func (m *Manifest) Paths() []string {
	root := m.Root
	if root == "" {
		root = m.dir
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(m.dir, root)
	}

	paths := make([]string, 0, len(m.Repositories))
	for _, p := range m.Repositories {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		paths = append(paths, filepath.Clean(p))
	}
	return paths
}

// HasRepositories returns true if the manifest names any repository
func (m *Manifest) HasRepositories() bool {
	return len(m.Repositories) > 0
}
