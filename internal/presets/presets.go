// Package presets holds built-in override sets that ship with prefgen.
package presets

import (
	"sort"

	"github.com/kalambet/prefgen/internal/prefs"
)

// Preset is a named, static override set.
type Preset struct {
	Name        string
	Description string
	Header      string
	Overrides   []prefs.Override
}

// Set returns the preset's overrides as a prefs.Set.
func (p Preset) Set() prefs.Set {
	return prefs.NewSet(p.Overrides...)
}

var registry = map[string]Preset{
	"plasma-integration": {
		Name:        "plasma-integration",
		Description: "Let the Plasma browser integration extension own media keys",
		Header:      "This file ships configuration options which enhance integration between Firefox and KDE Plasma",
		Overrides: []prefs.Override{
			{
				Key:   "media.hardwaremediakeys.enabled",
				Value: prefs.Bool(false),
				Comment: "https://community.kde.org/Distributions/Packaging_Recommendations#Firefox_configuration\n" +
					"Disable the hardware media keys as they conflict with the integration provided by the browser extension",
			},
		},
	},
}

// Get looks up a preset by name.
func Get(name string) (Preset, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns all preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
