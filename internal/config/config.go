// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads plugbus configuration from defaults, an optional
// YAML file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/plugbus/internal/logging"
	plugins "github.com/holomush/plugbus/internal/plugin"
	"github.com/holomush/plugbus/internal/sample"
	"github.com/holomush/plugbus/internal/xdg"
)

// CodeInvalid marks a configuration that failed validation.
const CodeInvalid = "CONFIG_INVALID"

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" jsonschema:"enum=json,enum=text"`
}

// BusConfig controls the event bus.
type BusConfig struct {
	Workers int `koanf:"workers" json:"workers,omitempty" yaml:"workers" jsonschema:"minimum=0,description=Async publish workers; 0 runs async publishes inline"`
}

// PluginsConfig controls scripted plugin discovery.
type PluginsConfig struct {
	Dir               string `koanf:"dir" json:"dir,omitempty" yaml:"dir" jsonschema:"description=Directory scanned for plugin.yaml manifests"`
	DeliveryTimeoutMS int    `koanf:"delivery_timeout_ms" json:"delivery_timeout_ms,omitempty" yaml:"delivery_timeout_ms" jsonschema:"minimum=1"`
}

// DeliveryTimeout returns DeliveryTimeoutMS as a duration.
func (p PluginsConfig) DeliveryTimeout() time.Duration {
	return time.Duration(p.DeliveryTimeoutMS) * time.Millisecond
}

// MetricsConfig controls the observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" yaml:"addr" jsonschema:"description=Metrics and health listen address; empty disables the server"`
}

// Config is the complete plugbus configuration.
type Config struct {
	Log     LogConfig     `koanf:"log" json:"log,omitempty" yaml:"log"`
	Bus     BusConfig     `koanf:"bus" json:"bus,omitempty" yaml:"bus"`
	Plugins PluginsConfig `koanf:"plugins" json:"plugins,omitempty" yaml:"plugins"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics,omitempty" yaml:"metrics"`
	Sample  sample.Config `koanf:"sample" json:"sample,omitempty" yaml:"sample"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		Bus: BusConfig{
			Workers: 4,
		},
		Plugins: PluginsConfig{
			DeliveryTimeoutMS: int(plugins.DefaultDeliveryTimeout / time.Millisecond),
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
		Sample: sample.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).With("field", "log.level").Errorf("log.level: %v", err)
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		return oops.Code(CodeInvalid).
			With("field", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Bus.Workers < 0 {
		return oops.Code(CodeInvalid).
			With("field", "bus.workers").
			Errorf("bus.workers must not be negative, got %d", c.Bus.Workers)
	}
	if c.Plugins.DeliveryTimeoutMS < 1 {
		return oops.Code(CodeInvalid).
			With("field", "plugins.delivery_timeout_ms").
			Errorf("plugins.delivery_timeout_ms must be at least 1, got %d", c.Plugins.DeliveryTimeoutMS)
	}
	if err := c.Sample.Validate(); err != nil {
		return oops.With("field", "sample").Wrap(err)
	}
	return nil
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"bus-workers":  "bus.workers",
	"plugins-dir":  "plugins.dir",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the flags Load reads to flags, defaulted from Default().
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.Int("bus-workers", d.Bus.Workers, "async publish workers (0 = inline)")
	flags.String("plugins-dir", d.Plugins.Dir, "directory scanned for Lua plugins (default: XDG_DATA_HOME/plugbus/plugins)")
	flags.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
}

// Load builds the configuration. path names a YAML file; when empty the
// XDG config file is used if it exists. Only flags the user set override
// file values. The result is validated.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "load config file")
			}
		}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}

	if cfg.Plugins.Dir == "" {
		if dir, err := xdg.PluginsDir(); err == nil {
			cfg.Plugins.Dir = dir
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
