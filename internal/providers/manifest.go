package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional providers.yaml file: per-provider settings an
// operator can tune without a rebuild.
type Manifest struct {
	Providers []ProviderEntry `yaml:"providers"`
}

// ProviderEntry configures one subtitle source.
type ProviderEntry struct {
	Name      string   `yaml:"name"`
	Enabled   bool     `yaml:"enabled"`
	Trusted   bool     `yaml:"trusted"`
	Languages []string `yaml:"languages"`
}

// LoadManifest reads providers.yaml. A missing file yields the default
// manifest rather than an error.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return defaultManifest(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultManifest(), nil
		}
		return nil, fmt.Errorf("failed to read provider manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse provider manifest: %w", err)
	}
	return &m, nil
}

// ProviderEnabled reports whether the named provider is enabled. Unknown
// providers default to enabled.
func (m *Manifest) ProviderEnabled(name string) bool {
	for _, p := range m.Providers {
		if p.Name == name {
			return p.Enabled
		}
	}
	return true
}

func defaultManifest() *Manifest {
	return &Manifest{
		Providers: []ProviderEntry{
			{Name: "opensubtitles", Enabled: true, Trusted: false, Languages: []string{"ro", "en"}},
		},
	}
}
