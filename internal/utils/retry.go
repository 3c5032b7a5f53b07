package utils

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultRetryDelay  = 2 * time.Second
	defaultMaxAttempts = 3
)

// RetryPolicy bounds how many times a side-effecting operation is attempted
// and how long to wait between attempts. The delay is the same before every
// retry.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, Delay: defaultRetryDelay}
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// The error of the last attempt is returned.
func (p RetryPolicy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		log.WithError(err).Warnf(
			"%s failed (attempt %d/%d), retrying in %s", name, attempt, attempts, p.Delay,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
