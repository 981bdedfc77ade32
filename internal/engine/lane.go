package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// lane is everything the orchestrator holds for one backend kind during a
// session: its worker pool and the guards every call goes through.
type lane struct {
	target  StorageTarget
	backend Backend
	healthy bool
	downErr error

	pool    *pool
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	opts   Options
	clock  clock.Clock
	logger Logger
}

func newLane(target StorageTarget, b Backend, opts Options, clk clock.Clock, logger Logger) *lane {
	workers := target.Workers
	if workers <= 0 {
		workers = opts.Workers
	}

	limit := rate.Inf
	if target.RateLimit > 0 {
		limit = rate.Limit(target.RateLimit)
	}
	burst := int(math.Max(1, math.Ceil(target.RateLimit)))

	l := &lane{
		target:  target,
		backend: b,
		healthy: true,
		pool:    newPool(workers),
		limiter: rate.NewLimiter(limit, burst),
		opts:    opts,
		clock:   clk,
		logger:  logger,
	}
	if opts.BreakerThreshold > 0 {
		threshold := opts.BreakerThreshold
		l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(target.Kind),
			MaxRequests: 1,
			Timeout:     opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return l
}

// markDown records a failed healthcheck. No calls are made to a lane that
// is down.
func (l *lane) markDown(err error) {
	l.healthy = false
	l.downErr = &BackendUnavailableError{Kind: l.target.Kind, Err: err}
}

// call runs fn once under the rate limiter, the circuit breaker and the
// per-call timeout. A call that outlives its timeout is reported as failed;
// call still returns only once fn has, so in-flight calls never exceed the
// pool size.
func (l *lane) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	guarded := func() error {
		cctx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- fn(cctx) }()

		select {
		case err := <-done:
			return err
		case <-cctx.Done():
			err := fmt.Errorf("%s call timed out after %s: %w", l.target.Kind, l.opts.CallTimeout, cctx.Err())
			if ctx.Err() != nil {
				err = fmt.Errorf("%s call cancelled: %w", l.target.Kind, ctx.Err())
			}
			<-done
			return err
		}
	}

	if l.breaker == nil {
		return guarded()
	}
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, guarded()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrCircuitOpen, l.target.Kind, err)
	}
	return err
}

// retry runs fn through call with bounded exponential backoff. It returns
// the number of attempts made and the last error. An open circuit stops
// retrying immediately.
func (l *lane) retry(ctx context.Context, what string, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			return l.call(ctx, fn)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, ErrCircuitOpen)
		},
		NotifyFunc: func(err error, attempt int) {
			l.logger.Warn("backend call failed", "backend", l.target.Kind, "op", what, "attempt", attempt, "error", err)
		},
		Attempts:    l.opts.Attempts,
		Delay:       l.opts.RetryDelay,
		MaxDelay:    l.opts.MaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       l.clock,
	})
	if err != nil && retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	return attempts, err
}

// Options tunes the orchestrator.
type Options struct {
	// Workers is the default pool size per backend kind.
	Workers int

	// Attempts bounds tries per backend call, including the first.
	Attempts      int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// CallTimeout bounds every put, exists and verify call.
	CallTimeout        time.Duration
	HealthcheckTimeout time.Duration

	// BreakerThreshold is the number of consecutive failed calls that opens
	// a backend's circuit. Zero disables the breaker.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Workers:            2,
		Attempts:           3,
		RetryDelay:         500 * time.Millisecond,
		MaxRetryDelay:      10 * time.Second,
		CallTimeout:        5 * time.Minute,
		HealthcheckTimeout: 15 * time.Second,
		BreakerThreshold:   10,
		BreakerCooldown:    30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = d.MaxRetryDelay
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.HealthcheckTimeout <= 0 {
		o.HealthcheckTimeout = d.HealthcheckTimeout
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = d.BreakerCooldown
	}
	return o
}
