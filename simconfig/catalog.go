// ABOUTME: Embedded catalog of method, system, engine, and collective-variable config groups plus presets.
// ABOUTME: Composes an initial session config tree from a preset and copies a system's seed files.
package simconfig

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog
var catalogFS embed.FS

// Config group directory names inside the catalog.
const (
	GroupMethod    = "method"
	GroupSystem    = "system"
	GroupGromacs   = "gromacs"
	GroupPlumedCVs = "plumed_cvs"
)

// DefaultPreset is used when a create request names an unknown or empty preset.
const DefaultPreset = "undefined"

// ErrUnknownOption indicates a group choice that has no catalog entry.
var ErrUnknownOption = errors.New("unknown config option")

// Choice selects one entry from each config group.
type Choice struct {
	Method    string `yaml:"method" json:"method"`
	System    string `yaml:"system" json:"system"`
	Gromacs   string `yaml:"gromacs" json:"gromacs"`
	PlumedCVs string `yaml:"plumed_cvs" json:"plumed_cvs"`
}

// Options lists the available entries per group, as shown to clients.
type Options struct {
	Methods   []string `json:"methods"`
	Systems   []string `json:"systems"`
	Gromacs   []string `json:"gromacs"`
	PlumedCVs []string `json:"plumed_cvs"`
	Presets   []string `json:"presets"`
}

type catalogIndex struct {
	Presets   map[string]Choice   `yaml:"presets"`
	SeedFiles map[string][]string `yaml:"seed_files"`
}

// Catalog resolves presets and group entries from a filesystem laid out as
// presets.yaml, <group>/<name>.yaml, and seeds/<file>.
type Catalog struct {
	fsys  fs.FS
	index catalogIndex
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	sub, err := fs.Sub(catalogFS, "catalog")
	if err != nil {
		return nil, fmt.Errorf("catalog sub-fs: %w", err)
	}
	return LoadCatalog(sub)
}

// LoadCatalog reads presets.yaml from fsys.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, "presets.yaml")
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var idx catalogIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if _, ok := idx.Presets[DefaultPreset]; !ok {
		return nil, fmt.Errorf("presets.yaml has no %q preset", DefaultPreset)
	}
	return &Catalog{fsys: fsys, index: idx}, nil
}

// Options lists every group entry and preset name, sorted.
func (c *Catalog) Options() Options {
	presets := make([]string, 0, len(c.index.Presets))
	for name := range c.index.Presets {
		presets = append(presets, name)
	}
	sort.Strings(presets)
	return Options{
		Methods:   c.listGroup(GroupMethod),
		Systems:   c.listGroup(GroupSystem),
		Gromacs:   c.listGroup(GroupGromacs),
		PlumedCVs: c.listGroup(GroupPlumedCVs),
		Presets:   presets,
	}
}

func (c *Catalog) listGroup(group string) []string {
	entries, err := fs.ReadDir(c.fsys, group)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Resolve returns the preset's choice with any non-empty override fields
// applied. Unknown presets fall back to DefaultPreset.
func (c *Catalog) Resolve(preset string, override Choice) Choice {
	base, ok := c.index.Presets[preset]
	if !ok {
		base = c.index.Presets[DefaultPreset]
	}
	if override.Method != "" {
		base.Method = override.Method
	}
	if override.System != "" {
		base.System = override.System
	}
	if override.Gromacs != "" {
		base.Gromacs = override.Gromacs
	}
	if override.PlumedCVs != "" {
		base.PlumedCVs = override.PlumedCVs
	}
	return base
}

// Compose builds the config tree for a choice:
// {method, system, gromacs, plumed: {collective_variables}}.
func (c *Catalog) Compose(choice Choice) (map[string]any, error) {
	method, err := c.loadGroup(GroupMethod, choice.Method)
	if err != nil {
		return nil, err
	}
	system, err := c.loadGroup(GroupSystem, choice.System)
	if err != nil {
		return nil, err
	}
	gromacs, err := c.loadGroup(GroupGromacs, choice.Gromacs)
	if err != nil {
		return nil, err
	}
	cvs, err := c.loadGroup(GroupPlumedCVs, choice.PlumedCVs)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"method":  method,
		"system":  system,
		"gromacs": gromacs,
		"plumed":  cvs,
	}, nil
}

func (c *Catalog) loadGroup(group, name string) (map[string]any, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: %s=%q", ErrUnknownOption, group, name)
	}
	data, err := fs.ReadFile(c.fsys, path.Join(group, name+".yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s=%q", ErrUnknownOption, group, name)
		}
		return nil, fmt.Errorf("read %s/%s: %w", group, name, err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s/%s: %w", group, name, err)
	}
	return tree, nil
}

// SeedFiles returns the seed file names registered for a system.
func (c *Catalog) SeedFiles(system string) []string {
	return append([]string(nil), c.index.SeedFiles[system]...)
}

// WriteSeeds copies the system's seed files into workDir and returns the
// names written. Missing seed sources are skipped.
func (c *Catalog) WriteSeeds(system, workDir string) ([]string, error) {
	seeded := []string{}
	for _, name := range c.index.SeedFiles[system] {
		data, err := fs.ReadFile(c.fsys, path.Join("seeds", name))
		if err != nil {
			continue
		}
		dest := filepath.Join(workDir, filepath.Base(name))
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return seeded, fmt.Errorf("write seed %s: %w", name, err)
		}
		seeded = append(seeded, filepath.Base(name))
	}
	return seeded, nil
}
