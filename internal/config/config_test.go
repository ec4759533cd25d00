package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Output.Path != "prefs.js" {
		t.Errorf("Output.Path = %q, want %q", cfg.Output.Path, "prefs.js")
	}
	if cfg.Output.Header != "" {
		t.Errorf("Output.Header = %q, want empty", cfg.Output.Header)
	}
	if cfg.Render.SortKeys {
		t.Error("Render.SortKeys = true, want false")
	}
	if cfg.Generate.Concurrency != 4 {
		t.Errorf("Generate.Concurrency = %d, want 4", cfg.Generate.Concurrency)
	}
	if cfg.DebounceDuration() != 300*time.Millisecond {
		t.Errorf("DebounceDuration = %v, want 300ms", cfg.DebounceDuration())
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v, want info/console", cfg.Log)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "prefgen") {
		t.Errorf("Storage.DataDir = %q, want a prefgen directory", cfg.Storage.DataDir)
	}
}

// TestFileParsing verifies that all fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "storage.data_dir": "/tmp/prefgen-test",
  "output.path": "/etc/firefox/defaults/pref/prefgen.js",
  "output.header": "managed by prefgen",
  "render.sort_keys": "true",
  "generate.concurrency": 8,
  "watch.debounce": "1s",
  "log.level": "debug",
  "log.format": "json"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/prefgen-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Output.Path != "/etc/firefox/defaults/pref/prefgen.js" {
		t.Errorf("Output.Path = %q", cfg.Output.Path)
	}
	if cfg.Output.Header != "managed by prefgen" {
		t.Errorf("Output.Header = %q", cfg.Output.Header)
	}
	if !cfg.Render.SortKeys {
		t.Error("Render.SortKeys = false, want true")
	}
	if cfg.Generate.Concurrency != 8 {
		t.Errorf("Generate.Concurrency = %d", cfg.Generate.Concurrency)
	}
	if cfg.DebounceDuration() != time.Second {
		t.Errorf("DebounceDuration = %v", cfg.DebounceDuration())
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"output.path": "file.js", "generate.concurrency": 2}`)

	t.Setenv("PREFGEN_OUTPUT_PATH", "env.js")
	t.Setenv("PREFGEN_GENERATE_CONCURRENCY", "6")
	t.Setenv("PREFGEN_RENDER_SORT_KEYS", "1")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Output.Path != "env.js" {
		t.Errorf("Output.Path = %q, want %q", cfg.Output.Path, "env.js")
	}
	if cfg.Generate.Concurrency != 6 {
		t.Errorf("Generate.Concurrency = %d, want 6", cfg.Generate.Concurrency)
	}
	if !cfg.Render.SortKeys {
		t.Error("Render.SortKeys = false, want true")
	}
}

// TestInvalidEnvIgnored verifies unparseable environment values keep the previous value.
func TestInvalidEnvIgnored(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{}`)
	t.Setenv("PREFGEN_GENERATE_CONCURRENCY", "lots")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generate.Concurrency != 4 {
		t.Errorf("Generate.Concurrency = %d, want default 4", cfg.Generate.Concurrency)
	}
}

func TestValidation(t *testing.T) {
	tests := map[string]string{
		"zero concurrency": `{"generate.concurrency": 0}`,
		"bad debounce":     `{"watch.debounce": "soon"}`,
		"bad format":       `{"log.format": "xml"}`,
		"empty output":     `{"output.path": ""}`,
		"fractional int":   `{"generate.concurrency": 1.5}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if _, err := loadWith(newFileBackend(writeTempConfig(t, content))); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := newFileBackend(path)

	if err := setKeyWith(b, "generate.concurrency", "3"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(b, "render.sort_keys", "yes"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "render.sort_keys", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKeyWith(b, "output.header", "hello"); err != nil {
		t.Fatalf("set string: %v", err)
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("config file is not JSON: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Generate.Concurrency != 3 || !cfg.Render.SortKeys || cfg.Output.Header != "hello" {
		t.Errorf("unexpected config after SetKey: %+v", cfg)
	}
}

func TestShowAllCoversValidKeys(t *testing.T) {
	clearEnv(t)
	cfg := defaults()
	shown := ShowAll(cfg)
	keys := ValidKeys()
	if len(shown) != len(keys) {
		t.Fatalf("ShowAll returned %d keys, ValidKeys %d", len(shown), len(keys))
	}
	for i, k := range shown {
		if k.Key != keys[i] {
			t.Errorf("[%d] %q != %q", i, k.Key, keys[i])
		}
		if k.EnvVar == "" {
			t.Errorf("%s has no env var", k.Key)
		}
	}
}
