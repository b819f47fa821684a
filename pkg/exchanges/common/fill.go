package common

import (
	"context"
	"time"
)

// DefaultPollInterval is how often fill polling re-reads the order.
const DefaultPollInterval = 500 * time.Millisecond

// PollFill reads the order immediately and then every interval until it is
// FILLED (true), reaches another terminal status (false), or maxWait elapses
// (false). A nil lookup counts as transient.
func PollFill(ctx context.Context, lookup func(ctx context.Context) *Order, interval, maxWait time.Duration) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if o := lookup(ctx); o != nil {
			if o.Status == StatusFilled {
				return true
			}
			if o.Status.IsTerminal() {
				return false
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
