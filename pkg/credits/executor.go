package credits

import (
	"context"
	"errors"
	"fmt"
)

// Outcome discriminates the result of ExecuteActivity.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeInsufficientCredits Outcome = "insufficient_credits"
	OutcomeFailed              Outcome = "failed"
)

// Executor is the unit of work billed by ExecuteActivity. ctx expires with the pending lease.
type Executor[T any] func(ctx context.Context, activityID string) (T, error)

type permanentError struct {
	err error
}

func (failure permanentError) Error() string {
	return failure.err.Error()
}

func (failure permanentError) Unwrap() error {
	return failure.err
}

// Permanent marks an executor error as not worth retrying; the debit is restored after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var failure permanentError
	return errors.As(err, &failure)
}

// ExecuteOptions tunes a single ExecuteActivity call.
type ExecuteOptions struct {
	ActivityID  string
	Description string
	MaxRetries  int
}

// Result is the outcome of ExecuteActivity. Value and Transaction are set only when Outcome is completed;
// Err is set for every other outcome.
type Result[T any] struct {
	Outcome      Outcome
	Value        T
	Verification CreditVerification
	Transaction  *CreditTransaction
	Err          error
}

// Success reports whether the activity ran and was billed.
func (result Result[T]) Success() bool {
	return result.Outcome == OutcomeCompleted
}

// ErrorCode returns the stable client-facing code for a failed result.
func (result Result[T]) ErrorCode() string {
	return ErrorCode(result.Err)
}

type settlement struct {
	outcome      Outcome
	verification CreditVerification
	transaction  *CreditTransaction
	err          error
}

// ExecuteActivity reserves the activity's cost, runs executor with retries and either confirms
// the debit or restores it. It never panics on business outcomes and never returns a separate error.
func ExecuteActivity[T any](ctx context.Context, service *Service, userID UserID, activityType ActivityType, executor Executor[T], options ExecuteOptions) Result[T] {
	if executor == nil {
		return Result[T]{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: executor is nil", ErrInvalidServiceConfig)}
	}
	var value T
	outcome := service.execute(ctx, userID, activityType, options, func(runCtx context.Context, activityID string) error {
		produced, err := executor(runCtx, activityID)
		if err != nil {
			return err
		}
		value = produced
		return nil
	})
	result := Result[T]{
		Outcome:      outcome.outcome,
		Verification: outcome.verification,
		Transaction:  outcome.transaction,
		Err:          outcome.err,
	}
	if outcome.outcome == OutcomeCompleted {
		result.Value = value
	}
	return result
}

// Callbacks receives the outcome of WithCreditValidation. Nil callbacks are skipped.
type Callbacks[T any] struct {
	OnSuccess             func(value T, transaction CreditTransaction)
	OnInsufficientCredits func(verification CreditVerification)
	OnError               func(err error)
}

// WithCreditValidation runs ExecuteActivity and dispatches exactly one callback for the outcome.
func WithCreditValidation[T any](ctx context.Context, service *Service, userID UserID, activityType ActivityType, executor Executor[T], callbacks Callbacks[T]) Result[T] {
	result := ExecuteActivity(ctx, service, userID, activityType, executor, ExecuteOptions{})
	switch result.Outcome {
	case OutcomeCompleted:
		if callbacks.OnSuccess != nil {
			callbacks.OnSuccess(result.Value, *result.Transaction)
		}
	case OutcomeInsufficientCredits:
		if callbacks.OnInsufficientCredits != nil {
			callbacks.OnInsufficientCredits(result.Verification)
		}
	default:
		if callbacks.OnError != nil {
			callbacks.OnError(result.Err)
		}
	}
	return result
}
