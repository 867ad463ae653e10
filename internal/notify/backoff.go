package notify

import "time"

const (
	backoffBase    = time.Second
	minDelay       = 100 * time.Millisecond
	jitterFraction = 0.2
)

// backoffDelay returns the delay before attempt k (k >= 2):
// max(minDelay, base * 2^(k-2) + jitter), where jitter is the given fraction
// of the unjittered backoff.
func backoffDelay(attempt int, jitter float64) time.Duration {
	base := float64(backoffBase) * float64(int(1)<<uint(attempt-2))
	d := time.Duration(base + base*jitter)
	if d < minDelay {
		d = minDelay
	}
	return d
}
