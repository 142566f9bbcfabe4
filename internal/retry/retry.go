// Package retry runs idempotent upstream calls with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/lestrrat-go/backoff/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
)

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	Attempts    int
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultPolicy is three attempts starting at 200ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, MinInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.MinInterval <= 0 {
		p.MinInterval = time.Millisecond
	}
	if p.MaxInterval < p.MinInterval {
		p.MaxInterval = p.MinInterval
	}
	return p
}

// Do calls fn until it succeeds, returns an error that is not retryable, the
// attempts are exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	ctl := backoff.Exponential(
		backoff.WithMinInterval(p.MinInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithJitterFactor(0.1),
		backoff.WithMaxRetries(p.Attempts),
	).Start(ctx)

	var lastErr error
	for attempt := 1; backoff.Continue(ctl); attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperr.IsRetryable(lastErr) || attempt >= p.Attempts {
			return lastErr
		}
		logging.From(ctx).Warn("upstream call failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.Attempts,
			"error", lastErr,
		)
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return lastErr
}
