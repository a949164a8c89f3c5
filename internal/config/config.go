package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// InFlightPolicy decides what happens to a command issued while another
// command is still awaiting its acknowledgement.
type InFlightPolicy string

const (
	// InFlightReject fails the new command with BusyError.
	InFlightReject InFlightPolicy = "reject"

	// InFlightQueue holds the new command until the slot frees, bounded by
	// the caller's context.
	InFlightQueue InFlightPolicy = "queue"
)

// Default values applied by WithDefaults.
const (
	DefaultPort             = 8895
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCommandTimeout   = 60 * time.Second
	DefaultReadPoll         = time.Second
	DefaultDialTimeout      = 5 * time.Second
)

// Config is the connection record for one controller session.
//
//nolint:tagliatelle // snake_case matches the config file format
type Config struct {
	Host     string `json:"host" mapstructure:"host" jsonschema:"controller host name or IP address"`
	Port     int    `json:"port" mapstructure:"port" jsonschema:"controller TCP port"`
	Product  string `json:"product" mapstructure:"product" jsonschema:"product identifier sent with ConnectToScanner"`
	Password string `json:"password" mapstructure:"password" jsonschema:"controller password sent with ConnectToScanner"`

	// Tag is the client routing tag placed in each frame. Defaults to
	// "heartvista".
	Tag string `json:"tag,omitempty" mapstructure:"tag" jsonschema:"client routing tag"`

	// SkipNotifyEvents skips the "NotifyEvent all=on" step of the handshake.
	SkipNotifyEvents bool `json:"skip_notify_events,omitempty" mapstructure:"skip_notify_events" jsonschema:"do not enable controller notifications during the handshake"`

	DialTimeout      time.Duration `json:"dial_timeout,omitempty" mapstructure:"dial_timeout" jsonschema:"TCP dial timeout in nanoseconds"`
	HandshakeTimeout time.Duration `json:"handshake_timeout,omitempty" mapstructure:"handshake_timeout" jsonschema:"bound on the whole connect handshake in nanoseconds"`
	CommandTimeout   time.Duration `json:"command_timeout,omitempty" mapstructure:"command_timeout" jsonschema:"time an unacknowledged command may hold the in-flight slot in nanoseconds"`
	ReadPoll         time.Duration `json:"read_poll,omitempty" mapstructure:"read_poll" jsonschema:"transport read deadline used to observe cancellation in nanoseconds"`

	InFlightPolicy InFlightPolicy `json:"in_flight_policy,omitempty" mapstructure:"in_flight_policy" jsonschema:"reject or queue commands issued while another awaits acknowledgement"`
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WithDefaults returns a copy of the config with zero fields defaulted.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}

	if c.ReadPoll <= 0 {
		c.ReadPoll = DefaultReadPoll
	}

	if c.InFlightPolicy == "" {
		c.InFlightPolicy = InFlightReject
	}

	return c
}

var (
	schemaOnce     sync.Once
	schemaResolved *jsonschema.Resolved
	schemaValue    *jsonschema.Schema
	errSchema      error
)

// Schema returns the JSON Schema describing Config.
func Schema() (*jsonschema.Schema, error) {
	if err := loadSchema(); err != nil {
		return nil, err
	}

	return schemaValue, nil
}

func loadSchema() error {
	schemaOnce.Do(func() {
		s, err := jsonschema.For[Config](nil)
		if err != nil {
			errSchema = fmt.Errorf("infer config schema: %w", err)

			return
		}

		s.Properties["host"].MinLength = ptr(1)
		s.Properties["port"].Minimum = ptr(1.0)
		s.Properties["port"].Maximum = ptr(65535.0)
		s.Properties["product"].MinLength = ptr(1)
		s.Properties["in_flight_policy"].Enum = []any{string(InFlightReject), string(InFlightQueue)}

		for _, name := range []string{"dial_timeout", "handshake_timeout", "command_timeout", "read_poll"} {
			s.Properties[name].Minimum = ptr(0.0)
		}

		resolved, err := s.Resolve(nil)
		if err != nil {
			errSchema = fmt.Errorf("resolve config schema: %w", err)

			return
		}

		schemaValue = s
		schemaResolved = resolved
	})

	return errSchema
}

// Validate checks the config against its JSON Schema.
func (c *Config) Validate() error {
	if err := loadSchema(); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if err := schemaResolved.Validate(instance); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// ValidateJSON decodes a raw JSON config, validates it and applies
// defaults. The bridge worker uses it on configs received over the pipe.
func ValidateJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func ptr[T any](v T) *T {
	return &v
}
