package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrTransient marks failures worth retrying: timeouts and 5xx-equivalent
// backend errors. Clients wrap such errors with %w so the policy can tell
// them apart from bad-request/not-found failures, which are never retried.
var ErrTransient = errors.New("transient backend failure")

type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// IsTransient overrides the default errors.Is(err, ErrTransient) check.
	IsTransient func(error) bool
	Logger      *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

func (p Policy) normalized() Policy {
	if p.InitialDelay == 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
	if p.IsTransient == nil {
		p.IsTransient = func(err error) bool { return errors.Is(err, ErrTransient) }
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

// Do runs operation up to 1+MaxRetries times, backing off exponentially
// between attempts. Non-transient errors and context cancellation stop the
// loop immediately.
func Do(ctx context.Context, p Policy, operation func() error) error {
	p = p.normalized()

	var lastErr error
	delay := p.InitialDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				p.Logger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		if !p.IsTransient(err) {
			p.Logger.Debug("error not transient, giving up",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
			)
			return err
		}

		if attempt == p.MaxRetries {
			break
		}

		p.Logger.Warn("transient failure, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay, p.JitterFraction)):
		}

		delay = time.Duration(math.Min(float64(p.MaxDelay), float64(delay)*p.Multiplier))
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, p Policy, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	jitter := time.Duration(rand.Float64() * float64(d) * fraction)
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}
