package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service contains the credit ledger logic over a Store.
type Service struct {
	store          Store
	limiter        RateLimiter
	catalog        Catalog
	nowFn          func() time.Time
	newID          func() string
	pendingTimeout time.Duration
	maxRetries     int
	backoffFn      func(attempt int) time.Duration
	loggers        []OperationLogger
	pending        *PendingManager

	suspendedMutex sync.RWMutex
	suspended      map[string]struct{}
}

// CheckOptions tunes CheckCreditsAvailable.
type CheckOptions struct {
	// Quantity, when above one, fills CreditVerification.EstimatedUsage.
	Quantity int
}

// NewService wires a Service.
func NewService(store Store, limiter RateLimiter, catalog Catalog, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if limiter == nil {
		return nil, fmt.Errorf("%w: rate limiter dependency is nil", ErrInvalidServiceConfig)
	}
	if catalog.empty() {
		return nil, fmt.Errorf("%w: activity catalog is empty", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:          store,
		limiter:        limiter,
		catalog:        catalog,
		nowFn:          func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		pendingTimeout: defaultPendingTimeout,
		maxRetries:     defaultMaxRetries,
		backoffFn:      LinearBackoff(defaultRetryBackoffUnit),
		suspended:      make(map[string]struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	service.pending = NewPendingManager(service.pendingTimeout, service.nowFn, service.newID, service.onPendingTimer)
	return service, nil
}

// CheckCreditsAvailable verifies whether the user can afford one unit of the activity. It fails with
// ErrRateLimitExceeded or ErrInvalidActivityType and never mutates the balance.
func (service *Service) CheckCreditsAvailable(ctx context.Context, userID UserID, activityType ActivityType, options CheckOptions) (CreditVerification, error) {
	allowed, err := service.limiter.Allow(ctx, userID.String())
	if err != nil {
		return CreditVerification{}, WrapError("service", "rate_limit", "allow", err)
	}
	if !allowed {
		return CreditVerification{}, fmt.Errorf("%w: user %s", ErrRateLimitExceeded, userID)
	}
	config, ok := service.catalog.Lookup(activityType)
	if !ok {
		return CreditVerification{}, fmt.Errorf("%w: %q", ErrInvalidActivityType, activityType)
	}
	balance, err := service.currentBalance(ctx, userID)
	if err != nil {
		return CreditVerification{}, err
	}
	verification := CreditVerification{
		Sufficient:   balance >= config.Cost,
		Required:     config.Cost,
		Available:    balance,
		ActivityType: activityType,
	}
	if options.Quantity > 1 {
		estimated, ok := config.Cost.Times(options.Quantity)
		if !ok {
			return CreditVerification{}, fmt.Errorf("%w: quantity %d of %q overflows", ErrInvalidEstimate, options.Quantity, activityType)
		}
		verification.EstimatedUsage = &estimated
	}
	return verification, nil
}

// execute runs the reserve, run, confirm-or-rollback sequence for one activity.
func (service *Service) execute(ctx context.Context, userID UserID, activityType ActivityType, options ExecuteOptions, run func(ctx context.Context, activityID string) error) settlement {
	if service.IsSuspended(userID) {
		return settlement{outcome: OutcomeFailed, err: fmt.Errorf("%w: user %s", ErrAccountSuspended, userID)}
	}
	verification, err := service.CheckCreditsAvailable(ctx, userID, activityType, CheckOptions{})
	if err != nil {
		return settlement{outcome: OutcomeFailed, err: err}
	}
	if !verification.Sufficient {
		return settlement{outcome: OutcomeInsufficientCredits, verification: verification, err: ErrInsufficientCredits}
	}
	config, _ := service.catalog.Lookup(activityType)
	activityID := options.ActivityID
	if activityID == "" {
		activityID = service.newID()
	}
	description := options.Description
	if description == "" {
		description = config.Description
	}
	maxRetries := options.MaxRetries
	if maxRetries <= 0 {
		maxRetries = service.maxRetries
	}

	pending, verification, err := service.reserve(ctx, userID, config, activityID, description, verification)
	if errors.Is(err, ErrInsufficientCredits) {
		return settlement{outcome: OutcomeInsufficientCredits, verification: verification, err: err}
	}
	if err != nil {
		return settlement{outcome: OutcomeFailed, verification: verification, err: err}
	}
	service.pending.Arm(pending)

	attempts, runErr := service.runWithRetries(ctx, pending, maxRetries, run)
	if runErr == nil {
		transaction, confirmErr := service.confirm(ctx, pending, attempts)
		if confirmErr == nil {
			return settlement{outcome: OutcomeCompleted, verification: verification, transaction: &transaction}
		}
		runErr = confirmErr
	}
	service.rollback(ctx, pending, attempts, runErr)
	return settlement{outcome: OutcomeFailed, verification: verification, err: runErr}
}

// reserve checks the balance and debits it inside one per-user critical section.
func (service *Service) reserve(ctx context.Context, userID UserID, config ActivityCostConfig, activityID string, description string, verification CreditVerification) (PendingTransaction, CreditVerification, error) {
	var (
		pending PendingTransaction
		expired []PendingTransaction
	)
	operationError := service.store.WithTx(ctx, userID, func(ctx context.Context, txStore Store) error {
		var err error
		expired, err = service.reconcileExpired(ctx, txStore, userID)
		if err != nil {
			return err
		}
		balance, err := txStore.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		verification.Available = balance
		verification.Sufficient = balance >= config.Cost
		if !verification.Sufficient {
			return ErrInsufficientCredits
		}
		opened, err := service.pending.Open(ctx, txStore, userID, config.ActivityType, activityID, config.Cost, description)
		if err != nil {
			return err
		}
		if _, err := txStore.AdjustBalance(ctx, userID, -config.Cost); err != nil {
			return err
		}
		pending = opened
		return nil
	})
	if operationError != nil {
		expired = nil
	}
	service.reportExpired(ctx, expired)
	service.logOperation(ctx, OperationLog{
		Operation:    operationReserve,
		UserID:       userID,
		ActivityType: config.ActivityType,
		PendingID:    pending.ID,
		Amount:       config.Cost,
		Error:        operationError,
	})
	return pending, verification, operationError
}

func (service *Service) runWithRetries(ctx context.Context, pending PendingTransaction, maxRetries int, run func(ctx context.Context, activityID string) error) (int, error) {
	lease := pending.ExpiresAt.Sub(service.nowFn())
	runCtx, cancel := context.WithTimeout(ctx, lease)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = run(runCtx, pending.ActivityID)
		if lastErr == nil {
			return attempt, nil
		}
		if runCtx.Err() != nil {
			return attempt, interruptionError(ctx, lastErr)
		}
		if isPermanent(lastErr) {
			return attempt, fmt.Errorf("%w: %w", ErrExecutionFailed, lastErr)
		}
		if attempt == maxRetries {
			break
		}
		if err := sleepContext(runCtx, service.backoffFn(attempt)); err != nil {
			return attempt, interruptionError(ctx, lastErr)
		}
	}
	return maxRetries, fmt.Errorf("%w after %d attempts: %w", ErrExecutionFailed, maxRetries, lastErr)
}

// confirm settles a successful activity into a usage entry.
func (service *Service) confirm(ctx context.Context, pending PendingTransaction, attempts int) (CreditTransaction, error) {
	var transaction CreditTransaction
	operationError := service.store.WithTx(ctx, pending.UserID, func(ctx context.Context, txStore Store) error {
		confirmed, ok, err := service.pending.Confirm(ctx, txStore, pending.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTransactionExpired, pending.ID)
		}
		completedAt := service.nowFn().UTC()
		transaction = CreditTransaction{
			ID:             service.newID(),
			UserID:         confirmed.UserID,
			Type:           TransactionUsage,
			Amount:         confirmed.Amount,
			Description:    confirmed.Description,
			ActivityID:     confirmed.ActivityID,
			ActivityType:   confirmed.ActivityType,
			Status:         TransactionStatusCompleted,
			IdempotencyKey: idempotencyPrefixUsage + confirmed.ID,
			Timestamp:      confirmed.CreatedAt,
			CompletedAt:    &completedAt,
		}
		return txStore.AppendTransaction(ctx, transaction)
	})
	if operationError == nil {
		service.pending.Disarm(pending.ID)
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationConfirm,
		UserID:       pending.UserID,
		ActivityType: pending.ActivityType,
		PendingID:    pending.ID,
		Amount:       pending.Amount,
		Attempts:     attempts,
		Error:        operationError,
	})
	return transaction, operationError
}

// rollback restores the reserved amount unless an expiry already did.
// It never returns an error: a failed restoration is audited and the account is suspended.
func (service *Service) rollback(ctx context.Context, pending PendingTransaction, attempts int, cause error) {
	restoreCtx := context.WithoutCancel(ctx)
	operationError := service.store.WithTx(restoreCtx, pending.UserID, func(ctx context.Context, txStore Store) error {
		rolledBack, ok, err := service.pending.Rollback(ctx, txStore, pending.ID)
		if err != nil || !ok {
			return err
		}
		_, err = txStore.AdjustBalance(ctx, pending.UserID, rolledBack.Amount)
		return err
	})
	if operationError != nil {
		// The timer stays armed so expiry can retry the restoration.
		service.handleRollbackFailure(restoreCtx, pending, cause, operationError)
		return
	}
	service.pending.Disarm(pending.ID)
	service.logOperation(restoreCtx, OperationLog{
		Operation:    operationRollback,
		UserID:       pending.UserID,
		ActivityType: pending.ActivityType,
		PendingID:    pending.ID,
		Amount:       pending.Amount,
		Attempts:     attempts,
		Error:        cause,
	})
}

func (service *Service) handleRollbackFailure(ctx context.Context, pending PendingTransaction, cause error, restoreErr error) {
	service.suspend(ctx, pending.UserID)
	details, _ := json.Marshal(map[string]string{
		"activity_type": pending.ActivityType.String(),
		"activity_id":   pending.ActivityID,
		"cause":         errorText(cause),
	})
	event := AuditEvent{
		ID:          service.newID(),
		UserID:      pending.UserID,
		Operation:   AuditOperationRollback,
		PendingID:   pending.ID,
		Amount:      pending.Amount,
		Reason:      restoreErr.Error(),
		DetailsJSON: string(details),
		CreatedAt:   service.nowFn().UTC(),
	}
	failure := restoreErr
	if auditErr := service.store.RecordAuditEvent(ctx, event); auditErr != nil {
		failure = errors.Join(restoreErr, WrapError("service", "audit", "record", auditErr))
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationRollback,
		UserID:       pending.UserID,
		ActivityType: pending.ActivityType,
		PendingID:    pending.ID,
		Amount:       pending.Amount,
		Status:       operationStatusCritical,
		Error:        failure,
	})
}

// ExpirePending restores a pending debit whose lease ran out. It reports whether this call did the restoration.
func (service *Service) ExpirePending(ctx context.Context, userID UserID, pendingID string) (bool, error) {
	var (
		expired PendingTransaction
		applied bool
	)
	operationError := service.store.WithTx(ctx, userID, func(ctx context.Context, txStore Store) error {
		candidate, ok, err := service.pending.Expire(ctx, txStore, pendingID)
		if err != nil || !ok {
			return err
		}
		if _, err := txStore.AdjustBalance(ctx, userID, candidate.Amount); err != nil {
			return err
		}
		expired = candidate
		applied = true
		return nil
	})
	if operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: operationExpire, UserID: userID, PendingID: pendingID, Error: operationError})
		return false, operationError
	}
	if applied {
		service.reportExpired(ctx, []PendingTransaction{expired})
	}
	return applied, nil
}

func (service *Service) onPendingTimer(pending PendingTransaction) {
	_, _ = service.ExpirePending(context.Background(), pending.UserID, pending.ID)
}

// reconcileExpired lazily restores every lapsed pending debit of the user inside the caller's transaction.
func (service *Service) reconcileExpired(ctx context.Context, txStore Store, userID UserID) ([]PendingTransaction, error) {
	candidates, err := txStore.ListExpiredPending(ctx, service.nowFn(), &userID)
	if err != nil {
		return nil, err
	}
	expired := make([]PendingTransaction, 0, len(candidates))
	for _, candidate := range candidates {
		pending, ok, err := service.pending.Expire(ctx, txStore, candidate.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, err := txStore.AdjustBalance(ctx, userID, pending.Amount); err != nil {
			return nil, err
		}
		expired = append(expired, pending)
	}
	return expired, nil
}

func (service *Service) reportExpired(ctx context.Context, expired []PendingTransaction) {
	for _, pending := range expired {
		service.pending.Disarm(pending.ID)
		service.logOperation(ctx, OperationLog{
			Operation:    operationExpire,
			UserID:       pending.UserID,
			ActivityType: pending.ActivityType,
			PendingID:    pending.ID,
			Amount:       pending.Amount,
		})
	}
}

func (service *Service) currentBalance(ctx context.Context, userID UserID) (CreditCents, error) {
	var (
		balance CreditCents
		expired []PendingTransaction
	)
	err := service.store.WithTx(ctx, userID, func(ctx context.Context, txStore Store) error {
		var err error
		expired, err = service.reconcileExpired(ctx, txStore, userID)
		if err != nil {
			return err
		}
		balance, err = txStore.GetBalance(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	service.reportExpired(ctx, expired)
	return balance, nil
}

func (service *Service) suspend(ctx context.Context, userID UserID) {
	service.suspendedMutex.Lock()
	service.suspended[userID.String()] = struct{}{}
	service.suspendedMutex.Unlock()
	service.logOperation(ctx, OperationLog{
		Operation: operationSuspend,
		UserID:    userID,
		Status:    operationStatusCritical,
		Error:     ErrAccountSuspended,
	})
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}

func interruptionError(ctx context.Context, lastErr error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrExecutionFailed, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrTransactionExpired, lastErr)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
