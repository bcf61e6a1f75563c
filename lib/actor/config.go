package actor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-i2p/packettunnel/lib/errors"
)

// Config configures a tunnel actor.
type Config struct {
	// InitialDelay is the first reconnect backoff delay.
	InitialDelay time.Duration
	// MaxDelay is the maximum reconnect backoff delay.
	MaxDelay time.Duration
	// Multiplier is the backoff multiplier (typically 2.0).
	Multiplier float64
	// JitterFraction is the random jitter factor (0.0-1.0).
	JitterFraction float64

	// RestartInterval is the wait before each automatic restart out of a
	// blocked state.
	RestartInterval time.Duration
	// RestartBurst is how many automatic restarts fire RestartInterval apart
	// before they slow to one every RestartBurst x RestartInterval.
	RestartBurst int

	// KeyRotationTimeout is how long traffic stays on the prior key before
	// the rotation is abandoned.
	KeyRotationTimeout time.Duration

	// EventBufferSize is the size of the event channel buffer.
	EventBufferSize int

	// Logger for actor operations.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay:       2 * time.Second,
		MaxDelay:           5 * time.Minute,
		Multiplier:         2.0,
		JitterFraction:     0.2,
		RestartInterval:    5 * time.Second,
		RestartBurst:       3,
		KeyRotationTimeout: 2 * time.Minute,
		EventBufferSize:    100,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.InitialDelay <= 0 {
		return fmt.Errorf("%w: initial delay must be positive", errors.ErrInvalidInput)
	}
	if c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("%w: max delay %s is below initial delay %s",
			errors.ErrInvalidInput, c.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier must be at least 1", errors.ErrInvalidInput)
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return fmt.Errorf("%w: jitter fraction must be between 0 and 1", errors.ErrInvalidInput)
	}
	if c.RestartInterval <= 0 {
		return fmt.Errorf("%w: restart interval must be positive", errors.ErrInvalidInput)
	}
	if c.RestartBurst < 1 {
		return fmt.Errorf("%w: restart burst must be at least 1", errors.ErrInvalidInput)
	}
	if c.KeyRotationTimeout <= 0 {
		return fmt.Errorf("%w: key rotation timeout must be positive", errors.ErrInvalidInput)
	}
	return nil
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialDelay == 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = def.Multiplier
	}
	if c.RestartInterval == 0 {
		c.RestartInterval = def.RestartInterval
	}
	if c.RestartBurst == 0 {
		c.RestartBurst = def.RestartBurst
	}
	if c.KeyRotationTimeout == 0 {
		c.KeyRotationTimeout = def.KeyRotationTimeout
	}
	if c.EventBufferSize < 1 {
		c.EventBufferSize = def.EventBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
