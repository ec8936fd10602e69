package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// FailureDelay pads failed authentications to a minimum duration so an
// unknown phone and a wrong password take about the same time to answer.
type FailureDelay struct {
	min    time.Duration
	jitter time.Duration
}

func NewFailureDelay(min, jitter time.Duration) *FailureDelay {
	return &FailureDelay{min: min, jitter: jitter}
}

// Pad blocks until at least min plus a random jitter has elapsed since
// start, or until ctx is done.
func (d *FailureDelay) Pad(ctx context.Context, start time.Time) {
	if d == nil || (d.min <= 0 && d.jitter <= 0) {
		return
	}

	target := d.min + randomDuration(d.jitter)
	remaining := target - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
