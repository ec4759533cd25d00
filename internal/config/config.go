package config

import (
	"fmt"
	"time"
)

type Config struct {
	Storage  StorageConfig
	Output   OutputConfig
	Render   RenderConfig
	Generate GenerateConfig
	Watch    WatchConfig
	Log      LogConfig
}

type StorageConfig struct {
	DataDir string
}

type OutputConfig struct {
	Path   string
	Header string
}

type RenderConfig struct {
	SortKeys bool
}

type GenerateConfig struct {
	Concurrency int
}

type WatchConfig struct {
	Debounce string
}

type LogConfig struct {
	Level  string
	Format string
}

// DebounceDuration returns Watch.Debounce parsed. Load has already validated it.
func (c Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return defaultDebounce
	}
	return d
}

const defaultDebounce = 300 * time.Millisecond

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Output: OutputConfig{
			Path: "prefs.js",
		},
		Generate: GenerateConfig{
			Concurrency: 4,
		},
		Watch: WatchConfig{
			Debounce: defaultDebounce.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from the config file and environment variables.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/prefgen/config.json.
// Environment variables (PREFGEN_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Output.Path == "" {
		return fmt.Errorf("invalid config: output.path must not be empty")
	}
	if cfg.Generate.Concurrency < 1 {
		return fmt.Errorf("invalid config: generate.concurrency must be at least 1, got %d", cfg.Generate.Concurrency)
	}
	if d, err := time.ParseDuration(cfg.Watch.Debounce); err != nil || d < 0 {
		return fmt.Errorf("invalid config: watch.debounce %q is not a valid duration", cfg.Watch.Debounce)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid config: log.format must be console or json, got %q", cfg.Log.Format)
	}
	return nil
}
