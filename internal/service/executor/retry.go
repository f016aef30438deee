package executor

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/futures-engine/internal/util"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Retry returns it immediately instead of trying again.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to attempts times with a fixed delay between failures.
// It returns the number of attempts made and the last error, unwrapped from Permanent.
func Retry(ctx context.Context, clock util.Clock, attempts int, delay time.Duration, fn func(attempt int) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	if clock == nil {
		clock = util.RealClock{}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return attempt, permanent.err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		if err := util.Sleep(ctx, clock, delay); err != nil {
			return attempt, lastErr
		}
	}

	return attempts, lastErr
}
