package sender

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer spaces frames at a fixed rate. A nil Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer for fps frames per second, or nil when fps is
// not positive.
func NewPacer(fps float64) *Pacer {
	if fps <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(fps), 1)}
}

// Wait blocks until the next frame may be sent.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
