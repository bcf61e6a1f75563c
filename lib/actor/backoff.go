package actor

import (
	"math"
	"math/rand"
	"time"
)

// calculateBackoff returns the retry delay for the given attempt count:
// InitialDelay * Multiplier^attempt, capped at MaxDelay, with up to
// ±JitterFraction of random jitter and never below InitialDelay.
func calculateBackoff(cfg Config, attempt uint32) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterFraction > 0 {
		jitter := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if delay < float64(cfg.InitialDelay) {
		delay = float64(cfg.InitialDelay)
	}

	return time.Duration(delay)
}
