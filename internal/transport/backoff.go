package transport

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig sets the wait between reconnect attempts. The zero Multiplier
// and a Multiplier of 1 both give a fixed delay.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay returns the wait after the given number of consecutive failures
// (1-based). With Jitter the result is scaled into [0.5, 1.5) of the base.
func (b BackoffConfig) Delay(failures int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(b.Multiplier, 1)
	base := float64(b.InitialDelay) * math.Pow(growth, float64(max(failures, 1)-1))
	if b.MaxDelay > 0 {
		base = math.Min(base, float64(b.MaxDelay))
	}
	if !b.Jitter {
		return time.Duration(base)
	}
	scale := 1.0
	if rng != nil {
		scale = 0.5 + rng.Float64()
	}
	return time.Duration(base * scale)
}
