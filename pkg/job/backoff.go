package job

import "time"

// Backoff yields the wait before status query attempt+1, given the base
// interval. attempt starts at 1.
type Backoff interface {
	Next(base time.Duration, attempt int) time.Duration
}

// FixedBackoff waits the base interval between every query.
type FixedBackoff struct{}

// Next implements Backoff.
func (FixedBackoff) Next(base time.Duration, _ int) time.Duration { return base }

// ExponentialBackoff multiplies the interval by Factor after every query,
// capped at Max when Max is positive.
type ExponentialBackoff struct {
	Factor float64
	Max    time.Duration
}

// Next implements Backoff.
func (b ExponentialBackoff) Next(base time.Duration, attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}
