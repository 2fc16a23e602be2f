// Package manifest handles chen.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a chen.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Cache   Cache   `toml:"cache"`
	Runtime Runtime `toml:"runtime"`

	// Dir is the directory containing the chen.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures module resolution.
type Source struct {
	// Paths are searched, after the working directory, when resolving a
	// relative import.
	Paths []string `toml:"paths"`
}

// Cache configures the compiled-program cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Runtime configures interpreter settings.
type Runtime struct {
	DecimalPrecision uint32 `toml:"decimal-precision"`
	LogVerbosity     int    `toml:"log-verbosity"`
}

// Default returns the configuration used when no chen.toml is present.
func Default() *Manifest {
	return &Manifest{
		Cache:   Cache{Enabled: true},
		Runtime: Runtime{DecimalPrecision: 50},
	}
}

// Load parses a chen.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "chen.toml")
	m := Default()
	meta, err := toml.DecodeFile(path, m)
	if err != nil {
		return nil, fmt.Errorf("manifest: parsing %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("manifest: unknown key %q in %s", undecoded[0], path)
	}
	m.Dir = dir
	return m, nil
}

// Find loads the manifest from dir when one exists, else returns defaults.
func Find(dir string) (*Manifest, error) {
	if _, err := os.Stat(filepath.Join(dir, "chen.toml")); err != nil {
		return Default(), nil
	}
	return Load(dir)
}

// ResolveImport locates a module file: first relative to the working
// directory, then through the configured search paths.
func (m *Manifest) ResolveImport(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	for _, dir := range m.Source.Paths {
		if !filepath.IsAbs(dir) && m.Dir != "" {
			dir = filepath.Join(m.Dir, dir)
		}
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}
