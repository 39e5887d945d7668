package credits

import (
	"errors"
	"fmt"
	"testing"
)

const (
	operationName    = "credits"
	subjectName      = "pending"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap to the base error")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestErrorCode(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "rate limit", err: fmt.Errorf("%w: user a", ErrRateLimitExceeded), want: "RATE_LIMIT_EXCEEDED"},
		{name: "activity type", err: ErrInvalidActivityType, want: "INVALID_ACTIVITY_TYPE"},
		{name: "insufficient", err: ErrInsufficientCredits, want: "INSUFFICIENT_CREDITS"},
		{name: "expired", err: fmt.Errorf("%w: late", ErrTransactionExpired), want: "TRANSACTION_EXPIRED"},
		{name: "suspended", err: ErrAccountSuspended, want: "ACCOUNT_SUSPENDED"},
		{name: "execution", err: fmt.Errorf("%w after 3 attempts: %w", ErrExecutionFailed, errors.New("boom")), want: "EXECUTION_FAILED"},
		{name: "wrapped store failure", err: WrapError("store", "balance", "adjust", errors.New("disk full")), want: "INTERNAL_ERROR"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := ErrorCode(testCase.err); got != testCase.want {
				test.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}
