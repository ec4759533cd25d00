// Package source loads override sets and generation manifests from files.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/prefgen/internal/prefs"
)

// ErrUnknownFormat is returned for files whose extension has no decoder.
var ErrUnknownFormat = errors.New("unknown source format")

// Document is an override set loaded from one file.
type Document struct {
	Path   string
	Header string
	Set    prefs.Set
}

type entry struct {
	Key     string `toml:"key" yaml:"key" json:"key"`
	Value   any    `toml:"value" yaml:"value" json:"value"`
	Comment string `toml:"comment" yaml:"comment" json:"comment"`
	Kind    string `toml:"kind" yaml:"kind" json:"kind"`
	Locked  bool   `toml:"locked" yaml:"locked" json:"locked"`
}

type document struct {
	Header string  `toml:"header" yaml:"header" json:"header"`
	Prefs  []entry `toml:"pref" yaml:"pref" json:"pref"`
}

// Supported reports whether path has an extension LoadFile can decode.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml", ".json", ".js":
		return true
	}
	return false
}

// LoadFile reads an override set. The decoder is picked from the extension:
// .toml, .yaml/.yml, .json, or .js for pref declaration files.
func LoadFile(path string) (Document, error) {
	if !Supported(path) {
		return Document{}, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading source: %w", err)
	}
	doc, err := Decode(filepath.Ext(path), data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// Decode parses data in the format named by ext.
func Decode(ext string, data []byte) (Document, error) {
	var raw document
	switch strings.ToLower(ext) {
	case ".js":
		f, err := prefs.Parse(bytes.NewReader(data))
		if err != nil {
			return Document{}, err
		}
		return Document{Header: f.Header, Set: f.Set}, nil
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return Document{}, fmt.Errorf("parsing toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Document{}, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return Document{}, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return Document{}, ErrUnknownFormat
	}
	return raw.build()
}

func (d document) build() (Document, error) {
	out := Document{Header: d.Header}
	for i, e := range d.Prefs {
		o, err := e.override()
		if err != nil {
			return Document{}, fmt.Errorf("pref %d: %w", i+1, err)
		}
		out.Set.Put(o)
	}
	return out, nil
}

func (e entry) override() (prefs.Override, error) {
	if e.Key == "" {
		return prefs.Override{}, prefs.ErrEmptyKey
	}
	kind, err := prefs.ParseKind(e.Kind)
	if err != nil {
		return prefs.Override{}, fmt.Errorf("%s: %w", e.Key, err)
	}
	raw := e.Value
	if n, ok := raw.(json.Number); ok {
		i, err := n.Int64()
		if err != nil {
			return prefs.Override{}, fmt.Errorf("%s: %w: %s", e.Key, prefs.ErrUnsupportedType, n)
		}
		raw = i
	}
	v, err := prefs.FromInterface(raw)
	if err != nil {
		return prefs.Override{}, fmt.Errorf("%s: %w", e.Key, err)
	}
	return prefs.Override{
		Key:     e.Key,
		Value:   v,
		Comment: strings.TrimRight(e.Comment, "\n"),
		Kind:    kind,
		Locked:  e.Locked,
	}, nil
}
