package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/inglespareto/credits/pkg/credits"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	userID, err := credits.NewUserID("student-1")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}

	testCases := []struct {
		name  string
		entry credits.OperationLog
		level zapcore.Level
	}{
		{
			name:  "ok",
			entry: credits.OperationLog{Operation: "confirm", UserID: userID, Amount: 300, Status: "ok"},
			level: zapcore.InfoLevel,
		},
		{
			name:  "error",
			entry: credits.OperationLog{Operation: "rollback", UserID: userID, Status: "error", Error: credits.ErrExecutionFailed},
			level: zapcore.WarnLevel,
		},
		{
			name:  "critical",
			entry: credits.OperationLog{Operation: "suspend", UserID: userID, Status: "critical", Error: credits.ErrAccountSuspended},
			level: zapcore.ErrorLevel,
		},
	}

	for _, testCase := range testCases {
		core, recorded := observer.New(zapcore.DebugLevel)
		New(zap.New(core)).LogOperation(context.Background(), testCase.entry)
		entries := recorded.All()
		if len(entries) != 1 {
			test.Fatalf("%s: expected one entry, got %d", testCase.name, len(entries))
		}
		if entries[0].Level != testCase.level {
			test.Fatalf("%s: expected level %v, got %v", testCase.name, testCase.level, entries[0].Level)
		}
		fields := entries[0].ContextMap()
		if fields["operation"] != testCase.entry.Operation || fields["user_id"] != "student-1" {
			test.Fatalf("%s: unexpected fields %v", testCase.name, fields)
		}
	}
}

func TestLogOperationErrorCode(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	New(zap.New(core)).LogOperation(context.Background(), credits.OperationLog{
		Operation: "reserve",
		Status:    "error",
		Error:     errors.Join(credits.ErrInsufficientCredits),
	})
	fields := recorded.All()[0].ContextMap()
	if fields["error_code"] != "INSUFFICIENT_CREDITS" {
		test.Fatalf("expected INSUFFICIENT_CREDITS, got %v", fields["error_code"])
	}
	if _, ok := fields["amount_cents"]; ok {
		test.Fatalf("expected zero amount to be omitted")
	}
}

func TestNewNilLogger(test *testing.T) {
	test.Parallel()
	New(nil).LogOperation(context.Background(), credits.OperationLog{Operation: "add"})
}
