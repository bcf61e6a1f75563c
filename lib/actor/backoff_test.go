package actor

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt uint32
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(cfg, tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoffJitter(t *testing.T) {
	cfg := Config{
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}

	for i := 0; i < 100; i++ {
		got := calculateBackoff(cfg, 3)
		if got < 6400*time.Millisecond || got > 9600*time.Millisecond {
			t.Fatalf("calculateBackoff(3) = %v, want within 8s ±20%%", got)
		}
	}

	for i := 0; i < 100; i++ {
		if got := calculateBackoff(cfg, 0); got < time.Second {
			t.Fatalf("calculateBackoff(0) = %v, below initial delay", got)
		}
	}
}
