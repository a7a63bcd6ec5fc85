package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// pacer smooths outbound traffic to the configured bandwidth ceiling.
// A nil pacer means unlimited.
type pacer struct {
	limiter *rate.Limiter
}

// newPacer builds a byte-rate pacer for maxBandwidth bytes per second.
// Zero disables pacing.
func newPacer(maxBandwidth uint64) *pacer {
	if maxBandwidth == 0 {
		return nil
	}
	burst := int(maxBandwidth / 10)
	if burst < MaxFrameSize {
		burst = MaxFrameSize
	}
	return &pacer{limiter: rate.NewLimiter(rate.Limit(maxBandwidth), burst)}
}

// wait blocks until n bytes may be sent, or the context is done.
func (p *pacer) wait(ctx context.Context, n int) error {
	if p == nil {
		return nil
	}
	if n > p.limiter.Burst() {
		n = p.limiter.Burst()
	}
	return p.limiter.WaitN(ctx, n)
}
