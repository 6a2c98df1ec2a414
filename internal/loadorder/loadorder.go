// Package loadorder supplies ordered plugin lists per output target.
//
// The merge engine treats load order purely as an ordered sequence of
// paths; this package owns the manifest format, path resolution
// against data directories, and the pre-merge existence scan.
package loadorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/wstermayne/espmerge/internal/archive"
)

// Target is one configured output: an ordered plugin list merged into
// one file.
type Target struct {
	Name    string   `yaml:"name"`
	Output  string   `yaml:"output"`
	Mode    string   `yaml:"mode,omitempty"`
	Plugins []string `yaml:"plugins"`
}

// Manifest is the on-disk target configuration.
type Manifest struct {
	DataDirs []string `yaml:"data_dirs,omitempty"`
	Archives []string `yaml:"archives,omitempty"`
	Targets  []Target `yaml:"targets"`
}

// Provider supplies ordered plugin lists, data directories, and the
// optional archive list for one game installation.
type Provider interface {
	OrderedTargets() []Target
	DataDirectories() []string
	ArchiveList() []string
}

var _ Provider = (*Manifest)(nil)

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Targets) == 0 {
		return errors.New("manifest declares no targets")
	}
	seen := make(map[string]bool, len(m.Targets))
	for i, t := range m.Targets {
		if t.Name == "" {
			return fmt.Errorf("target %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
		if t.Output == "" {
			return fmt.Errorf("target %q has no output path", t.Name)
		}
		if len(t.Plugins) == 0 {
			return fmt.Errorf("target %q has no plugins", t.Name)
		}
	}
	return nil
}

// OrderedTargets returns the configured targets in declaration order.
func (m *Manifest) OrderedTargets() []Target {
	return m.Targets
}

// DataDirectories returns the configured data directories.
func (m *Manifest) DataDirectories() []string {
	return m.DataDirs
}

// ArchiveList returns the configured packed-asset archives.
func (m *Manifest) ArchiveList() []string {
	return m.Archives
}

// ResolvePlugin resolves a plugin path: absolute paths and paths that
// exist as given are returned unchanged; otherwise the data
// directories are searched in order.
func (m *Manifest) ResolvePlugin(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for _, dir := range m.DataDirs {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("plugin %q not found in data directories", path)
}

// Prescan verifies every path exists and is a regular readable file
// before the sequential merge begins. The scan has no ordering
// dependency, so it fans out on a worker pool; all failures are
// collected, not just the first.
func Prescan(paths []string, workers int) error {
	if workers < 1 {
		workers = 1
	}
	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			info, err := os.Stat(path)
			if err != nil {
				errs[i] = err
				return nil
			}
			if info.IsDir() {
				errs[i] = fmt.Errorf("%s is a directory, not a plugin", path)
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				errs[i] = err
				return nil
			}
			f.Close()
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// VerifyArchives opens and releases every configured packed-asset
// archive, confirming the list is usable before a grass-conversion
// consumer starts. Independent opens fan out like Prescan; all
// failures are collected.
func VerifyArchives(op archive.Opener, paths []string, workers int) error {
	if workers < 1 {
		workers = 1
	}
	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			r, err := op.Open(path)
			if err != nil {
				errs[i] = fmt.Errorf("archive %s: %w", path, err)
				return nil
			}
			errs[i] = r.Close()
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
