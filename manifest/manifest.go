// Package manifest handles nlbc.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/nlbc/vm"
)

// Manifest represents an nlbc.toml project configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Limits    Limits          `toml:"limits"`
	Network   Network         `toml:"network"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	JIT       JITConfig       `toml:"jit"`
	Cache     CacheConfig     `toml:"cache"`

	// Dir is the directory containing the nlbc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Entry   string `toml:"entry"`
	Version string `toml:"version"`
}

// Limits configures the resource guards.
type Limits struct {
	MaxOps      int64  `toml:"max-ops"`
	MaxDuration string `toml:"max-duration"` // Go duration syntax, e.g. "30s"
	MaxDepth    int    `toml:"max-depth"`
}

// Network gates outbound access for HTTP, sockets and remote imports.
type Network struct {
	Allow bool `toml:"allow"`
}

// OptimizerConfig toggles the pre-execution constant folder.
type OptimizerConfig struct {
	Enabled bool `toml:"enabled"`
}

// JITConfig tunes the hot loop compiler.
type JITConfig struct {
	Enabled   *bool `toml:"enabled"` // nil means on
	Threshold int   `toml:"threshold"`
}

// CacheConfig locates the remote import cache.
type CacheConfig struct {
	Dir string `toml:"dir"`
}

// Load parses an nlbc.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "nlbc.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Limits.MaxDuration != "" {
		if _, err := time.ParseDuration(m.Limits.MaxDuration); err != nil {
			return nil, fmt.Errorf("bad max-duration in %s: %w", path, err)
		}
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an nlbc.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "nlbc.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Options converts the manifest into interpreter options. Zero values
// keep the interpreter defaults.
func (m *Manifest) Options() vm.Options {
	opts := vm.Options{
		MaxOps:       m.Limits.MaxOps,
		MaxDepth:     m.Limits.MaxDepth,
		AllowNet:     m.Network.Allow,
		Optimize:     m.Optimizer.Enabled,
		JITThreshold: m.JIT.Threshold,
	}
	if m.Limits.MaxDuration != "" {
		d, err := time.ParseDuration(m.Limits.MaxDuration)
		if err == nil {
			opts.MaxDuration = d
		}
	}
	if m.JIT.Enabled != nil && !*m.JIT.Enabled {
		opts.DisableJIT = true
	}
	if m.Cache.Dir != "" {
		opts.CacheDir = m.Cache.Dir
		if !filepath.IsAbs(opts.CacheDir) {
			opts.CacheDir = filepath.Join(m.Dir, opts.CacheDir)
		}
	}
	return opts
}

// EntryPath returns the absolute path of the configured entry module,
// or "" when none is set.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Project.Entry) {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}
