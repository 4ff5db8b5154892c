package session

import (
	"math"
	"time"
)

// reconnectDelay is Base * 2^attempt, randomized by ±jitter and capped at max.
// r is a uniform random number in [0, 1).
func reconnectDelay(base, max time.Duration, jitter float64, attempt int, r float64) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if jitter > 0 {
		deviation := math.Floor(r * jitter * delay)
		if int(math.Floor(r*10))&1 == 0 {
			delay -= deviation
		} else {
			delay += deviation
		}
	}
	if max > 0 && (delay > float64(max) || math.IsInf(delay, 1)) {
		return max
	}
	return time.Duration(delay)
}
