package credits

import (
	"context"
	"fmt"
	"strings"
)

// AddCreditsRequest describes a balance increase (purchase, bonus or refund).
type AddCreditsRequest struct {
	UserID         UserID
	Amount         CreditCents
	Description    string
	Type           TransactionType
	IdempotencyKey string
}

// AddCredits unconditionally increases the balance and appends a ledger entry.
// A repeated non-empty IdempotencyKey fails with ErrDuplicateIdempotencyKey and changes nothing.
func (service *Service) AddCredits(ctx context.Context, request AddCreditsRequest) (CreditTransaction, CreditCents, error) {
	if request.UserID.IsZero() {
		return CreditTransaction{}, 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if request.Amount <= 0 {
		return CreditTransaction{}, 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	transactionType := request.Type
	if transactionType == "" {
		transactionType = TransactionPurchase
	}
	if transactionType == TransactionUsage {
		return CreditTransaction{}, 0, fmt.Errorf("%w: usage entries come from executed activities", ErrInvalidTransactionType)
	}
	if _, err := ParseTransactionType(transactionType.String()); err != nil {
		return CreditTransaction{}, 0, err
	}

	var (
		transaction CreditTransaction
		balance     CreditCents
	)
	operationError := service.store.WithTx(ctx, request.UserID, func(ctx context.Context, txStore Store) error {
		now := service.nowFn().UTC()
		transaction = CreditTransaction{
			ID:             service.newID(),
			UserID:         request.UserID,
			Type:           transactionType,
			Amount:         request.Amount,
			Description:    strings.TrimSpace(request.Description),
			Status:         TransactionStatusCompleted,
			IdempotencyKey: strings.TrimSpace(request.IdempotencyKey),
			Timestamp:      now,
			CompletedAt:    &now,
		}
		if err := txStore.AppendTransaction(ctx, transaction); err != nil {
			return err
		}
		var err error
		balance, err = txStore.AdjustBalance(ctx, request.UserID, request.Amount)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAdd,
		UserID:    request.UserID,
		Amount:    request.Amount,
		Error:     operationError,
	})
	if operationError != nil {
		return CreditTransaction{}, 0, operationError
	}
	return transaction, balance, nil
}

// GetBalance returns the user's balance; unknown users have zero.
func (service *Service) GetBalance(ctx context.Context, userID UserID) (CreditCents, error) {
	return service.currentBalance(ctx, userID)
}

// EstimateActivityCost prices a list of activities without touching any balance.
// A missing quantity counts as one.
func (service *Service) EstimateActivityCost(activityTypes []ActivityType, quantities []int) (CostEstimate, error) {
	if len(quantities) > len(activityTypes) {
		return CostEstimate{}, fmt.Errorf("%w: %d quantities for %d activity types", ErrInvalidEstimate, len(quantities), len(activityTypes))
	}
	estimate := CostEstimate{Breakdown: make([]CostBreakdownItem, 0, len(activityTypes))}
	for index, activityType := range activityTypes {
		config, ok := service.catalog.Lookup(activityType)
		if !ok {
			return CostEstimate{}, fmt.Errorf("%w: %q", ErrInvalidActivityType, activityType)
		}
		quantity := 1
		if index < len(quantities) {
			quantity = quantities[index]
		}
		if quantity < 0 {
			return CostEstimate{}, fmt.Errorf("%w: negative quantity for %q", ErrInvalidEstimate, activityType)
		}
		subtotal, ok := config.Cost.Times(quantity)
		if !ok {
			return CostEstimate{}, fmt.Errorf("%w: quantity %d of %q overflows", ErrInvalidEstimate, quantity, activityType)
		}
		total, ok := estimate.TotalCost.Plus(subtotal)
		if !ok {
			return CostEstimate{}, fmt.Errorf("%w: total cost overflows", ErrInvalidEstimate)
		}
		estimate.TotalCost = total
		estimate.Breakdown = append(estimate.Breakdown, CostBreakdownItem{
			ActivityType: activityType,
			Quantity:     quantity,
			UnitCost:     config.Cost,
			Subtotal:     subtotal,
		})
	}
	return estimate, nil
}

// GetRateLimitStatus reports the remaining credit checks in the user's current window.
func (service *Service) GetRateLimitStatus(ctx context.Context, userID UserID) (RateLimitStatus, error) {
	remaining, err := service.limiter.Remaining(ctx, userID.String())
	if err != nil {
		return RateLimitStatus{}, WrapError("service", "rate_limit", "remaining", err)
	}
	return RateLimitStatus{Remaining: remaining, MaxRequests: service.limiter.Limit()}, nil
}

// ListTransactions lists ledger entries for a user, newest first.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, limit int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidListLimit, limit, maxListLimit)
	}
	return service.store.ListTransactions(ctx, userID, limit)
}

// LookupActivity exposes the catalog entry for an activity type.
func (service *Service) LookupActivity(activityType ActivityType) (ActivityCostConfig, bool) {
	return service.catalog.Lookup(activityType)
}

// Catalog returns the price table the service bills with.
func (service *Service) Catalog() Catalog {
	return service.catalog
}

// SweepExpired restores every lapsed pending debit across users and reports how many it restored.
func (service *Service) SweepExpired(ctx context.Context) (int, error) {
	candidates, err := service.store.ListExpiredPending(ctx, service.nowFn(), nil)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, candidate := range candidates {
		applied, err := service.ExpirePending(ctx, candidate.UserID, candidate.ID)
		if err != nil {
			return restored, err
		}
		if applied {
			restored++
		}
	}
	return restored, nil
}

// IsSuspended reports whether activities are blocked for the user after a failed restoration.
func (service *Service) IsSuspended(userID UserID) bool {
	service.suspendedMutex.RLock()
	defer service.suspendedMutex.RUnlock()
	_, suspended := service.suspended[userID.String()]
	return suspended
}

// ResumeAccount lifts a suspension once an operator has reconciled the balance.
// The resume is audited first so a restart does not suspend the user again.
func (service *Service) ResumeAccount(ctx context.Context, userID UserID) error {
	if !service.IsSuspended(userID) {
		return nil
	}
	event := AuditEvent{
		ID:          service.newID(),
		UserID:      userID,
		Operation:   AuditOperationResume,
		Reason:      "balance reconciled",
		DetailsJSON: "{}",
		CreatedAt:   service.nowFn().UTC(),
	}
	if err := service.store.RecordAuditEvent(ctx, event); err != nil {
		return WrapError("service", "audit", "record", err)
	}
	service.suspendedMutex.Lock()
	delete(service.suspended, userID.String())
	service.suspendedMutex.Unlock()
	service.logOperation(ctx, OperationLog{Operation: operationResume, UserID: userID})
	return nil
}

// RestoreSuspensions replays rollback and resume audit events and returns how many
// users remain suspended. Stores that cannot list audit events restore nothing.
func (service *Service) RestoreSuspensions(ctx context.Context) (int, error) {
	lister, ok := service.store.(AuditEventLister)
	if !ok {
		return 0, nil
	}
	events, err := lister.ListAuditEventsByOperation(ctx, AuditOperationRollback, AuditOperationResume)
	if err != nil {
		return 0, err
	}
	suspended := make(map[string]struct{})
	for _, event := range events {
		switch event.Operation {
		case AuditOperationRollback:
			suspended[event.UserID.String()] = struct{}{}
		case AuditOperationResume:
			delete(suspended, event.UserID.String())
		}
	}
	service.suspendedMutex.Lock()
	defer service.suspendedMutex.Unlock()
	for userID := range suspended {
		service.suspended[userID] = struct{}{}
	}
	return len(suspended), nil
}

// PendingManager exposes the pending transaction tracker.
func (service *Service) PendingManager() *PendingManager {
	return service.pending
}

// Close stops expiry timers. Outstanding pending records are left for the sweeper.
func (service *Service) Close() {
	service.pending.Close()
}
