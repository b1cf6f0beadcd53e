package ingest

import "time"

// Backoff is exponential: Base * 2^(attempt-1), capped at Max.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 8}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<(attempt-1))
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	return d
}
