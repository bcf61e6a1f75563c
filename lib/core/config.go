// Package core holds the packet tunnel configuration: defaults, the TOML
// file format, environment overrides and the conversion into the settings
// the tunnel actor runs with.
package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/packettunnel/lib/actor"
	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/resilience"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
	"github.com/go-i2p/packettunnel/lib/validation"
)

// Default configuration values
const (
	DefaultInitialDelay       = Duration(2 * time.Second)
	DefaultMaxDelay           = Duration(5 * time.Minute)
	DefaultMultiplier         = 2.0
	DefaultJitterFraction     = 0.2
	DefaultRestartInterval    = Duration(5 * time.Second)
	DefaultRestartBurst       = 3
	DefaultKeyRotationTimeout = Duration(2 * time.Minute)
	DefaultEventBufferSize    = 100
	DefaultBreakerFailures    = 5
	DefaultBreakerTimeout     = Duration(30 * time.Second)
	DefaultLogLevel           = "info"
	DefaultConfigFile         = "config.toml"
	DefaultSnapshotFile       = "state.json"

	// MaxRestartBurst caps restart.burst.
	MaxRestartBurst = 100
)

// Config holds all configuration for a packet tunnel.
type Config struct {
	Tunnel      TunnelConfig      `toml:"tunnel"`
	Relays      RelaysConfig      `toml:"relays"`
	Reconnect   ReconnectConfig   `toml:"reconnect"`
	Restart     RestartConfig     `toml:"restart"`
	KeyRotation KeyRotationConfig `toml:"key_rotation"`
	Events      EventsConfig      `toml:"events"`
	Log         LogConfig         `toml:"log"`
}

// TunnelConfig contains the features the tunnel is brought up with.
type TunnelConfig struct {
	// DataDir is where state snapshots are written
	DataDir string `toml:"data_dir"`
	// PostQuantum negotiates a post-quantum secure ephemeral peer
	PostQuantum bool `toml:"post_quantum"`
	// Daita enables defence against AI-guided traffic analysis
	Daita bool `toml:"daita"`
	// Multihop routes traffic through an entry relay before the exit relay
	Multihop bool `toml:"multihop"`
}

// RelaysConfig contains the relay constraints handed to the relay selector.
type RelaysConfig struct {
	// Locations restricts exit relays, e.g. "se" or "se-got". Empty means any.
	Locations []string `toml:"locations"`
	// EntryLocations restricts entry relays when multihop is on
	EntryLocations []string `toml:"entry_locations"`
	// Providers restricts relays to the given hosting providers
	Providers []string `toml:"providers"`
	// Port restricts relays to a WireGuard port. 0 means any.
	Port uint16 `toml:"port"`
	// BreakerFailures is how many consecutive selector failures open the
	// relay selection circuit
	BreakerFailures int `toml:"breaker_failures"`
	// BreakerTimeout is how long an open circuit waits before probing again
	BreakerTimeout Duration `toml:"breaker_timeout"`
}

// ReconnectConfig contains the reconnect backoff settings.
type ReconnectConfig struct {
	InitialDelay   Duration `toml:"initial_delay"`
	MaxDelay       Duration `toml:"max_delay"`
	Multiplier     float64  `toml:"multiplier"`
	JitterFraction float64  `toml:"jitter_fraction"`
}

// RestartConfig contains the automatic restart limiter settings.
type RestartConfig struct {
	// Interval is the wait before each automatic restart
	Interval Duration `toml:"interval"`
	// Burst is how many restarts fire Interval apart before they slow to
	// one every Burst x Interval
	Burst int `toml:"burst"`
}

// KeyRotationConfig contains key rotation settings.
type KeyRotationConfig struct {
	// Timeout is how long traffic stays on the prior key
	Timeout Duration `toml:"timeout"`
}

// EventsConfig contains event delivery settings.
type EventsConfig struct {
	BufferSize int `toml:"buffer_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level"`
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".packettunnel")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), DefaultConfigFile)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Tunnel: TunnelConfig{
			DataDir: DefaultDataDir(),
		},
		Relays: RelaysConfig{
			BreakerFailures: DefaultBreakerFailures,
			BreakerTimeout:  DefaultBreakerTimeout,
		},
		Reconnect: ReconnectConfig{
			InitialDelay:   DefaultInitialDelay,
			MaxDelay:       DefaultMaxDelay,
			Multiplier:     DefaultMultiplier,
			JitterFraction: DefaultJitterFraction,
		},
		Restart: RestartConfig{
			Interval: DefaultRestartInterval,
			Burst:    DefaultRestartBurst,
		},
		KeyRotation: KeyRotationConfig{
			Timeout: DefaultKeyRotationTimeout,
		},
		Events: EventsConfig{
			BufferSize: DefaultEventBufferSize,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// LoadConfig reads configuration from a TOML file and applies environment
// overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validation.All(
		func() error { return validation.Required("tunnel.data_dir", c.Tunnel.DataDir) },
		func() error { return durationSetting("reconnect.initial_delay", c.Reconnect.InitialDelay) },
		func() error { return durationSetting("reconnect.max_delay", c.Reconnect.MaxDelay) },
		func() error {
			return validation.FloatRange("reconnect.jitter_fraction", c.Reconnect.JitterFraction, 0, 1)
		},
		func() error { return durationSetting("restart.interval", c.Restart.Interval) },
		func() error { return validation.IntRange("restart.burst", c.Restart.Burst, 1, MaxRestartBurst) },
		func() error { return durationSetting("key_rotation.timeout", c.KeyRotation.Timeout) },
		func() error { return validation.Positive("events.buffer_size", c.Events.BufferSize) },
		func() error { return validation.Positive("relays.breaker_failures", c.Relays.BreakerFailures) },
		func() error { return durationSetting("relays.breaker_timeout", c.Relays.BreakerTimeout) },
	); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigInvalid, err)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("%w: reconnect.max_delay must not be below reconnect.initial_delay", errors.ErrConfigInvalid)
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("%w: reconnect.multiplier must be at least 1", errors.ErrConfigInvalid)
	}
	if err := c.validateRelays(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigInvalid, err)
	}
	if c.Tunnel.Multihop && slices.Equal(c.Relays.Locations, c.Relays.EntryLocations) && len(c.Relays.Locations) > 0 {
		return fmt.Errorf("%w: relays.entry_locations must differ from relays.locations with multihop", errors.ErrConfigInvalid)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func durationSetting(field string, d Duration) error {
	return validation.DurationBetween(field, d.Std(), validation.MinDuration, validation.MaxDuration)
}

func (c *Config) validateRelays() error {
	var errs validation.Errors
	errs.Add(validation.Locations("relays.locations", c.Relays.Locations))
	errs.Add(validation.Locations("relays.entry_locations", c.Relays.EntryLocations))
	for i, p := range c.Relays.Providers {
		errs.Add(validation.Provider(fmt.Sprintf("relays.providers[%d]", i), p))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log.level %q", errors.ErrConfigInvalid, c.Log.Level)
	}
	return level, nil
}

// ActorConfig converts the configuration into tunnel actor settings.
func (c *Config) ActorConfig(logger *slog.Logger) actor.Config {
	return actor.Config{
		InitialDelay:       c.Reconnect.InitialDelay.Std(),
		MaxDelay:           c.Reconnect.MaxDelay.Std(),
		Multiplier:         c.Reconnect.Multiplier,
		JitterFraction:     c.Reconnect.JitterFraction,
		RestartInterval:    c.Restart.Interval.Std(),
		RestartBurst:       c.Restart.Burst,
		KeyRotationTimeout: c.KeyRotation.Timeout.Std(),
		EventBufferSize:    c.Events.BufferSize,
		Logger:             logger,
	}
}

// BreakerConfig returns the circuit breaker settings for relay selection.
func (c *Config) BreakerConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = c.Relays.BreakerFailures
	cfg.OpenTimeout = c.Relays.BreakerTimeout.Std()
	return cfg
}

// RelayConstraints returns the relay constraints the tunnel selects with.
func (c *Config) RelayConstraints() tunnelstate.RelayConstraints {
	return tunnelstate.RelayConstraints{
		Locations:      c.Relays.Locations,
		EntryLocations: c.Relays.EntryLocations,
		Providers:      c.Relays.Providers,
		Port:           c.Relays.Port,
		Multihop:       c.Tunnel.Multihop,
	}.Clone()
}

// StartOptions returns the options to start the tunnel actor with.
func (c *Config) StartOptions(currentKey wgtypes.Key) actor.StartOptions {
	return actor.StartOptions{
		Constraints: c.RelayConstraints(),
		CurrentKey:  currentKey,
		PostQuantum: c.Tunnel.PostQuantum,
		Daita:       c.Tunnel.Daita,
	}
}

// DataPath returns an absolute path within the data directory.
func (c *Config) DataPath(elem ...string) string {
	parts := append([]string{c.Tunnel.DataDir}, elem...)
	return filepath.Join(parts...)
}

// SnapshotPath returns where the last tunnel state snapshot is written.
func (c *Config) SnapshotPath() string {
	return c.DataPath(DefaultSnapshotFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Tunnel.DataDir, 0700)
}

// applyEnvOverrides applies PACKETTUNNEL_* environment variables on top of
// cfg. Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PACKETTUNNEL_DATA_DIR"); v != "" {
		cfg.Tunnel.DataDir = v
	}
	envBool("PACKETTUNNEL_POST_QUANTUM", &cfg.Tunnel.PostQuantum)
	envBool("PACKETTUNNEL_DAITA", &cfg.Tunnel.Daita)
	envBool("PACKETTUNNEL_MULTIHOP", &cfg.Tunnel.Multihop)

	envList("PACKETTUNNEL_LOCATIONS", &cfg.Relays.Locations)
	envList("PACKETTUNNEL_ENTRY_LOCATIONS", &cfg.Relays.EntryLocations)
	if v := os.Getenv("PACKETTUNNEL_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && validation.Port("PACKETTUNNEL_RELAY_PORT", port) == nil {
			cfg.Relays.Port = uint16(port)
		}
	}

	envDuration("PACKETTUNNEL_RESTART_INTERVAL", &cfg.Restart.Interval)
	envDuration("PACKETTUNNEL_KEY_ROTATION_TIMEOUT", &cfg.KeyRotation.Timeout)

	if v := os.Getenv("PACKETTUNNEL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// envDuration accepts a Go duration ("90s") or a whole number of seconds.
func envDuration(key string, dst *Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := validation.Duration(key, v); err == nil {
		*dst = Duration(d)
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = Duration(time.Duration(secs) * time.Second)
	}
}
