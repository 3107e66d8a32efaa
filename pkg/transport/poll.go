package transport

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is the interval used when none is given.
var DefaultPollInterval = 5 * time.Second

// PollOpts defines how often and until when a mailbox is polled.
type PollOpts struct {
	Interval time.Duration
	// Expiry is the zero time when polling never expires.
	Expiry time.Time
}

// Poll calls fn at most once per interval until it reports done. It stops
// when ctx is cancelled, when the expiry passes, returning ErrSessionExpired,
// or when fn fails with a non retryable error. Retryable errors are logged
// and polling goes on.
func Poll(
	ctx context.Context, opts PollOpts,
	fn func(ctx context.Context) (bool, error),
) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	pollCtx := ctx
	if !opts.Expiry.IsZero() {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithDeadline(ctx, opts.Expiry)
		defer cancel()
	}

	for {
		if err := limiter.Wait(pollCtx); err != nil {
			// Wait fails early when the next tick is past the deadline.
			<-pollCtx.Done()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return CheckExpiryOrDefault(opts.Expiry)
		}

		done, err := fn(pollCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) && !opts.Expiry.IsZero() {
				return CheckExpiryOrDefault(opts.Expiry)
			}
			if !IsRetryable(err) {
				return err
			}
			log.WithError(err).Warn("relay round trip failed, retrying")
			continue
		}
		if done {
			return nil
		}
	}
}

// CheckExpiryOrDefault behaves like CheckExpiry but always returns
// ErrSessionExpired: it is meant for when a deadline derived from expiry
// has been hit.
func CheckExpiryOrDefault(expiry time.Time) error {
	if err := CheckExpiry(expiry); err != nil {
		return err
	}
	return ErrSessionExpired
}
