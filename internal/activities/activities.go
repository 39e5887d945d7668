// Package activities holds the consumers that bill students through the credit service:
// AI chat practice, lesson booking and the learning track.
package activities

import (
	"errors"
	"fmt"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
)

var (
	ErrInvalidRequest    = errors.New("invalid activity request")
	ErrSlotUnavailable   = errors.New("lesson slot unavailable")
	ErrProviderFailure   = errors.New("provider failure")
	ErrMissingDependency = errors.New("missing dependency")
)

func failed[T any](err error) credits.Result[T] {
	return credits.Result[T]{Outcome: credits.OutcomeFailed, Err: err}
}

func invalid[T any](format string, args ...interface{}) credits.Result[T] {
	return failed[T](fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)))
}

func systemClock() time.Time {
	return time.Now().UTC()
}
