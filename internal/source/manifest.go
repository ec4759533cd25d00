package source

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest lists the targets generated from one TOML file.
type Manifest struct {
	Path    string       `toml:"-"`
	Targets []TargetSpec `toml:"target"`
}

// TargetSpec describes one generated file and its inputs.
type TargetSpec struct {
	Name     string   `toml:"name"`
	Output   string   `toml:"output"`
	Header   string   `toml:"header"`
	Presets  []string `toml:"presets"`
	Sources  []string `toml:"sources"`
	Profile  string   `toml:"profile"`
	SortKeys bool     `toml:"sort_keys"`
}

// LoadManifest decodes a manifest and resolves relative output and source
// paths against the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Manifest{}, fmt.Errorf("manifest %s: unknown field %q", path, undecoded[0].String())
	}
	m.Path = path

	base := filepath.Dir(path)
	seenName := make(map[string]bool)
	seenOutput := make(map[string]bool)
	for i := range m.Targets {
		t := &m.Targets[i]
		if t.Name == "" {
			return Manifest{}, fmt.Errorf("manifest %s: target %d has no name", path, i+1)
		}
		if seenName[t.Name] {
			return Manifest{}, fmt.Errorf("manifest %s: duplicate target %q", path, t.Name)
		}
		seenName[t.Name] = true
		if t.Output == "" {
			return Manifest{}, fmt.Errorf("manifest %s: target %q has no output", path, t.Name)
		}
		t.Output = resolve(base, t.Output)
		if seenOutput[t.Output] {
			return Manifest{}, fmt.Errorf("manifest %s: output %s written by more than one target", path, t.Output)
		}
		seenOutput[t.Output] = true
		for j, s := range t.Sources {
			t.Sources[j] = resolve(base, s)
		}
	}
	return m, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
