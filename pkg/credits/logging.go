package credits

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation    string
	UserID       UserID
	ActivityType ActivityType
	PendingID    string
	Amount       CreditCents
	Attempts     int
	Status       string
	Error        error
}

// Critical reports whether the entry describes a financial-integrity incident.
func (entry OperationLog) Critical() bool {
	return entry.Status == operationStatusCritical
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// The option may be repeated; every logger receives every entry.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithClock replaces the wall clock used for pending expiry and ledger timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(service *Service) {
		if now != nil {
			service.nowFn = now
		}
	}
}

// WithPendingTimeout sets how long a debit may stay pending before it is expired and restored.
func WithPendingTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.pendingTimeout = timeout
		}
	}
}

// WithMaxRetries sets the default number of executor attempts.
func WithMaxRetries(maxRetries int) ServiceOption {
	return func(service *Service) {
		if maxRetries > 0 {
			service.maxRetries = maxRetries
		}
	}
}

// WithRetryBackoff replaces the delay applied after a failed attempt.
func WithRetryBackoff(backoff func(attempt int) time.Duration) ServiceOption {
	return func(service *Service) {
		if backoff != nil {
			service.backoffFn = backoff
		}
	}
}

// WithIDGenerator replaces the generator for pending, transaction and audit ids.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(service *Service) {
		if newID != nil {
			service.newID = newID
		}
	}
}

// LinearBackoff waits unit*attempt after each failed attempt.
func LinearBackoff(unit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return unit * time.Duration(attempt)
	}
}
