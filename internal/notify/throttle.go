package notify

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits the wrapped sink with a token bucket. Messages over the
// limit are rejected with ErrThrottled rather than queued.
type Throttled struct {
	next    Sink
	limiter *rate.Limiter
}

// NewThrottled allows perSecond messages with bursts of up to burst.
func NewThrottled(next Sink, perSecond float64, burst int) *Throttled {
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) NotifyFaction(ctx context.Context, factionID, message string) error {
	if !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.next.NotifyFaction(ctx, factionID, message)
}
