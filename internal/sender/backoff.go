package sender

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff yields exponentially growing reconnect delays with ±20% jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int // 0 retries forever

	mu      sync.Mutex
	current time.Duration
	retries int
}

// NewBackoff returns a backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration, maxRetries int) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: 2,
		MaxRetries: maxRetries,
		current:    initial,
	}
}

// Next returns the next delay, or false once the retry budget is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.MaxRetries > 0 && b.retries >= b.MaxRetries {
		return 0, false
	}

	jitter := 0.8 + 0.4*rand.Float64()
	delay := time.Duration(float64(b.current) * jitter)

	b.current = time.Duration(float64(b.current) * b.Multiplier)
	if b.current > b.Max {
		b.current = b.Max
	}
	b.retries++

	return delay, true
}

// Reset restarts the sequence after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.Initial
	b.retries = 0
}

// Reconnect dials until it succeeds, ctx is done or b gives up.
func (s *Sender) Reconnect(ctx context.Context, b *Backoff) error {
	for {
		err := s.Connect(ctx)
		if err == nil {
			b.Reset()
			return nil
		}

		delay, ok := b.Next()
		if !ok {
			return err
		}
		s.log.WithError(err).WithField("retry_in", delay.String()).Warn("Connect failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
