package delivery

import "time"

// Backoff returns the wait before retrying after the given failed attempt:
// base doubled per prior attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	if max > 0 && base >= max {
		return max
	}

	wait := base
	for i := 1; i < attempt; i++ {
		if max > 0 && wait >= max/2 {
			return max
		}
		wait *= 2
	}
	return wait
}
