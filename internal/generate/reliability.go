package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trustgate/internal/domain"
)

// ThrottleError lets the underlying generator propagate an upstream
// Retry-After hint into the retry schedule.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// ReliabilityConfig tunes the wrapper; zero values fall back to defaults.
type ReliabilityConfig struct {
	Attempts    uint
	CallTimeout time.Duration
	RateLimit   rate.Limit
	RateBurst   int
	CBMaxReqs   uint32
	CBInterval  time.Duration
	CBTimeout   time.Duration
}

// ReliabilityWrapper shields the gateway from a flaky generation upstream:
// rate limiter in front, circuit breaker around the whole attempt loop,
// retries with exponential backoff (or the upstream's own Retry-After) and a
// per-call timeout inside.
type ReliabilityWrapper struct {
	next    Generator
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	attempts    uint
	callTimeout time.Duration
}

func NewReliabilityWrapper(next Generator, cfg ReliabilityConfig) *ReliabilityWrapper {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Limit(100)
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	if cfg.CBMaxReqs == 0 {
		cfg.CBMaxReqs = 3
	}
	if cfg.CBInterval <= 0 {
		cfg.CBInterval = 5 * time.Second
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reply-generator",
		MaxRequests: cfg.CBMaxReqs,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliabilityWrapper{
		next:        next,
		cb:          cb,
		limiter:     rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		attempts:    cfg.Attempts,
		callTimeout: cfg.CallTimeout,
	}
}

func (w *ReliabilityWrapper) Generate(ctx context.Context, msg domain.Message) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", &Error{Cause: fmt.Errorf("rate limit: %w", err)}
	}

	var content string

	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Honor the upstream's Retry-After when it says so.
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
			defer cancel()

			var callErr error
			content, callErr = w.next.Generate(tCtx, msg)
			return callErr
		})
	})
	if err != nil {
		var genErr *Error
		if errors.As(err, &genErr) {
			return "", genErr
		}
		return "", &Error{Cause: err}
	}
	return content, nil
}
