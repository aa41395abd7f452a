package config

import (
	"os"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix starts every environment override, e.g. STRETCH_ENV_FORWARD_STEP.
const EnvPrefix = "STRETCH_"

const maxConfigFileSize = 1 << 20

// Load reads a YAML config file, expanding ${VAR} references, then applies
// environment overrides and defaults and validates the result. An empty path
// loads defaults and overrides only.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that fill in fields first.
func Read(path string) (*Config, error) {
	var data []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if info.Size() > maxConfigFileSize {
			return nil, errors.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
		}
		if data, err = envsubst.ReadFile(path); err != nil {
			return nil, errors.Wrapf(err, "expanding %s", path)
		}
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return cfg, nil
}

// Parse loads and validates an already expanded YAML document.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "parsing yaml")
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "reading environment")
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &cfg, nil
}

// envKey maps STRETCH_<SECTION>_<FIELD> to section.field; the field keeps its
// underscores.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
