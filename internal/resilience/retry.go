package resilience

import (
	"context"
	"time"
)

// RetryConfig holds the policy for [Retry]. The defaults match the ARI REST
// policy: one retry after 100 ms.
type RetryConfig struct {
	// Attempts is the total number of calls (first try included). Default: 2.
	Attempts int

	// Backoff is the pause between attempts. Default: 100ms.
	Backoff time.Duration
}

// Retry runs fn up to cfg.Attempts times, pausing cfg.Backoff between
// attempts. It returns nil on the first success, the last error otherwise.
// Context cancellation aborts the backoff wait and is returned as-is.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}

	var err error
	for attempt := range cfg.Attempts {
		if attempt > 0 {
			timer := time.NewTimer(cfg.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
