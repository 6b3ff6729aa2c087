// Package retry classifies provider errors and retries recoverable ones
// with backoff, using two distinct regimes: a short, aggressive
// exponential backoff for an interactive turn waiting on a human, and a
// longer fixed ladder for an unattended autonomous loop where there is
// no one to notice a stall.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Class is the classification of a provider error, determining whether
// and how the engine retries.
type Class int

const (
	// ClassRateLimit: provider is throttling; retry with backoff.
	ClassRateLimit Class = iota
	// ClassNetworkError: transport-level failure; retry with backoff.
	ClassNetworkError
	// ClassServerError: provider-side 5xx; retry with backoff.
	ClassServerError
	// ClassModelBusy: model/capacity unavailable; retry with backoff.
	ClassModelBusy
	// ClassTimeout: request exceeded its deadline; retry with backoff.
	ClassTimeout
	// ClassTokenLimit: request itself exceeds a hard token limit; not
	// recoverable by retrying unchanged.
	ClassTokenLimit
	// ClassContextLengthExceeded: recoverable, but not by retrying the
	// same request — the engine should end the turn and let context
	// management shrink the conversation before trying again.
	ClassContextLengthExceeded
	// ClassNonRecoverable: anything else; propagate to the caller.
	ClassNonRecoverable
)

// classifiers are checked in order; the first substring match wins. This
// mirrors the ground-truth priority order exactly: more specific and
// more-actionable classes are checked before the generic fallback.
var classifiers = []struct {
	class    Class
	patterns []string
}{
	{ClassRateLimit, []string{"rate limit", "429", "too many requests"}},
	{ClassContextLengthExceeded, []string{"context length", "context_length_exceeded", "maximum context length"}},
	{ClassTokenLimit, []string{"token limit", "max_tokens", "too many tokens"}},
	{ClassModelBusy, []string{"model is busy", "overloaded", "529"}},
	{ClassTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
	{ClassServerError, []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"}},
	{ClassNetworkError, []string{"connection reset", "connection refused", "eof", "no such host", "network"}},
}

// Classify inspects err's message against the ground-truth pattern
// priority order and returns the matching class, or ClassNonRecoverable
// if nothing matches.
func Classify(err error) Class {
	if err == nil {
		return ClassNonRecoverable
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return c.class
			}
		}
	}
	return ClassNonRecoverable
}

// Recoverable reports whether a class should be retried at all (as
// opposed to ClassTokenLimit/ClassContextLengthExceeded/
// ClassNonRecoverable, which need a different response than "try the
// exact same request again").
func (c Class) Recoverable() bool {
	switch c {
	case ClassRateLimit, ClassNetworkError, ClassServerError, ClassModelBusy, ClassTimeout:
		return true
	default:
		return false
	}
}

// Regime selects which backoff schedule Backoff uses.
type Regime int

const (
	// RegimeInteractive is a short exponential backoff suited to a human
	// waiting on the other end of the turn.
	RegimeInteractive Regime = iota
	// RegimeAutonomous is a longer fixed ladder suited to an unattended
	// loop, where a stuck provider should be given real time to recover
	// rather than hammered.
	RegimeAutonomous
)

const (
	baseRetryDelay    = 1 * time.Second
	maxInteractiveDelay = 10 * time.Second
	jitterFactor      = 0.3
)

// autonomousLadder is a fixed schedule of delays in seconds, repeating
// the final value for any attempt beyond its length.
var autonomousLadder = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	180 * time.Second,
	200 * time.Second,
}

// Backoff returns the delay before retry attempt number n (1-indexed),
// with symmetric ±30% jitter: the jitter is a coin-flip add-or-subtract,
// not a one-directional pad, so retries cluster around the nominal delay
// rather than only ever running later than it.
func Backoff(regime Regime, attempt int) time.Duration {
	var nominal time.Duration
	switch regime {
	case RegimeAutonomous:
		idx := attempt - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(autonomousLadder) {
			idx = len(autonomousLadder) - 1
		}
		nominal = autonomousLadder[idx]
	default:
		nominal = baseRetryDelay * (1 << uint(attempt-1))
		if nominal > maxInteractiveDelay {
			nominal = maxInteractiveDelay
		}
	}
	return applyJitter(nominal)
}

func applyJitter(d time.Duration) time.Duration {
	delta := time.Duration(float64(d) * jitterFactor * rand.Float64())
	if rand.Intn(2) == 0 {
		return d + delta
	}
	result := d - delta
	if result < 0 {
		return 0
	}
	return result
}

// WithBackoff runs fn, retrying recoverable errors per regime's
// schedule, up to maxAttempts total tries. It returns the last error if
// every attempt fails, or immediately on a non-recoverable error or
// context cancellation.
func WithBackoff[T any](ctx context.Context, regime Regime, maxAttempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		class := Classify(err)
		if !class.Recoverable() || attempt == maxAttempts {
			return zero, err
		}
		delay := Backoff(regime, attempt)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
