package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (EXSI_HOST, EXSI_PORT, ...).
const EnvPrefix = "EXSI"

// Load reads a config file (YAML, JSON or TOML, chosen by extension) and
// applies EXSI_* environment overrides, defaults and validation.
//
// An empty path loads from the environment and defaults only.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadUnvalidated is Load without validation, for callers that complete
// the record later.
func LoadUnvalidated(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg = cfg.WithDefaults()

	return &cfg, nil
}

// setDefaults registers every key so environment overrides are picked up by
// Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper) {
	defaults := Config{}.WithDefaults()

	v.SetDefault("host", "")
	v.SetDefault("port", defaults.Port)
	v.SetDefault("product", "")
	v.SetDefault("password", "")
	v.SetDefault("tag", "")
	v.SetDefault("skip_notify_events", false)
	v.SetDefault("dial_timeout", defaults.DialTimeout)
	v.SetDefault("handshake_timeout", defaults.HandshakeTimeout)
	v.SetDefault("command_timeout", defaults.CommandTimeout)
	v.SetDefault("read_poll", defaults.ReadPoll)
	v.SetDefault("in_flight_policy", string(defaults.InFlightPolicy))
}
