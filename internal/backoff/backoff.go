package backoff

import (
	"math/rand"
	"time"
)

// Calculator computes exponential backoff with uniform jitter. The token
// provider's auto-refresh loop uses it to space out failed proactive
// refreshes instead of hammering the issuance endpoint.
type Calculator struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewCalculator returns a calculator with defaults suited to credential
// refresh: 1s initial, 2m cap, doubling, 10% jitter.
func NewCalculator() *Calculator {
	return &Calculator{
		Initial:    time.Second,
		Max:        2 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Delay returns the backoff duration for the given zero-based attempt.
func (c *Calculator) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent to keep the multiplication from overflowing.
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(c.Initial) * pow(c.Multiplier, attempt))
	if d < 0 || d > c.Max {
		d = c.Max
	}

	jitter := clampJitter(c.Jitter)
	if jitter > 0 {
		amount := time.Duration(float64(d) * jitter * rand.Float64())
		if d+amount > c.Max {
			d = c.Max
		} else {
			d += amount
		}
	}
	return d
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
