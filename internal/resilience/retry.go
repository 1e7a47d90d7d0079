package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds retries within a single provider attempt. Retries apply
// to transient errors only; the classification decision belongs to the
// caller via the Retryable predicate.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial call
	// (0 = no retries). Default: 2.
	MaxRetries int

	// InitialDelay is the backoff before the first retry. Default: 1s.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 30s.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Default: 2.0.
	Multiplier float64

	// Jitter, when true, randomises each delay in [delay/2, delay) to avoid
	// synchronised retry storms.
	Jitter bool

	// Retryable decides whether an error is worth retrying. A nil predicate
	// retries every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used when the config leaves the
// retry block empty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// normalized returns p with zero-value fields replaced by defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Retry runs fn up to 1+MaxRetries times, sleeping with exponential backoff
// between attempts. It stops early when fn succeeds, when the error is not
// retryable, or when ctx is cancelled. The returned error is the last one fn
// produced (or ctx.Err() when cancelled mid-backoff).
func Retry[R any](ctx context.Context, p RetryPolicy, fn func(context.Context) (R, error)) (R, error) {
	p = p.normalized()

	var (
		zero    R
		lastErr error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// delay computes the backoff before the given retry attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		half := d / 2
		d = half + time.Duration(rand.Int64N(int64(half)+1))
	}
	return d
}
