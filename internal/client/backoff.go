package client

import "time"

const (
	initialBackoff    = 5 * time.Second
	backoffMultiplier = 1.5
	maxBackoff        = 30 * time.Second

	// MaxReconnectAttempts is the hard ceiling before the session stops
	// retrying on its own and surfaces a persistent error state. Retry()
	// re-arms the counter.
	MaxReconnectAttempts = 10
)

// NextBackoff returns the delay before reconnect attempt n (1-based):
// 5s, 7.5s, 11.25s, ... capped at 30s.
func NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initialBackoff)
	for i := 1; i < attempt; i++ {
		d *= backoffMultiplier
		if d >= float64(maxBackoff) {
			return maxBackoff
		}
	}
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}
