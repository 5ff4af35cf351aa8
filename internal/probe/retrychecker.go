package probe

import (
	"context"
	"time"
)

// RetryProber re-probes a DOWN target up to Attempts times before accepting
// the verdict. Attempts <= 1 probes exactly once.
type RetryProber struct {
	Inner    Prober
	Attempts int
	Backoff  time.Duration
}

func (r *RetryProber) Probe(ctx context.Context, target string) Result {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last Result
	for i := 0; i < attempts; i++ {
		last = r.Inner.Probe(ctx, target)
		if last.Up() {
			return last
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				last.Reason += " (retry aborted)"
				return last
			case <-time.After(r.Backoff):
			}
		}
	}
	if attempts > 1 {
		last.Reason += " (after retries)"
	}
	return last
}
