package config

import (
	"fmt"
	"os"
	"strconv"

	xlog "github.com/kalambet/prefgen/internal/log"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "PREFGEN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "output.path", typ: kString, env: "PREFGEN_OUTPUT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Output.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Path },
	},
	{
		key: "output.header", typ: kString, env: "PREFGEN_OUTPUT_HEADER",
		apply:   func(cfg *Config, v any) { cfg.Output.Header = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Header },
	},
	{
		key: "render.sort_keys", typ: kBool, env: "PREFGEN_RENDER_SORT_KEYS",
		apply:   func(cfg *Config, v any) { cfg.Render.SortKeys = v.(bool) },
		extract: func(cfg Config) any { return cfg.Render.SortKeys },
	},
	{
		key: "generate.concurrency", typ: kInt, env: "PREFGEN_GENERATE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Generate.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Generate.Concurrency },
	},
	{
		key: "watch.debounce", typ: kString, env: "PREFGEN_WATCH_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Watch.Debounce = v.(string) },
		extract: func(cfg Config) any { return cfg.Watch.Debounce },
	},
	{
		key: "log.level", typ: kString, env: "PREFGEN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "PREFGEN_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	logger := xlog.WithComponent("config")
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					logger.Warn().Err(err).Str("key", s.key).Str("value", v).Msg("could not parse bool from config, using default")
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	logger := xlog.WithComponent("config")
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				logger.Warn().Err(err).Str("env", s.env).Str("value", raw).Msg("could not parse integer from env, using default")
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				logger.Warn().Err(err).Str("env", s.env).Str("value", raw).Msg("could not parse bool from env, using default")
			}
		}
	}
}
