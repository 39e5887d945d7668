package credits

import (
	"context"
	"errors"
	"sync"
	"time"
)

// PendingManager opens, confirms and rolls back in-flight debits.
// Records live in the Store so they survive restarts; expiry timers are an
// in-process accelerator on top of the lazy and periodic expiry checks.
type PendingManager struct {
	timeout  time.Duration
	nowFn    func() time.Time
	newID    func() string
	onExpire func(pending PendingTransaction)

	mutex  sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewPendingManager wires a PendingManager. onExpire runs on the timer goroutine.
func NewPendingManager(timeout time.Duration, now func() time.Time, newID func() string, onExpire func(pending PendingTransaction)) *PendingManager {
	return &PendingManager{
		timeout:  timeout,
		nowFn:    now,
		newID:    newID,
		onExpire: onExpire,
		timers:   make(map[string]*time.Timer),
	}
}

// Timeout returns the lease length of a pending transaction.
func (manager *PendingManager) Timeout() time.Duration {
	return manager.timeout
}

// Open persists a new pending entry through the transaction store.
func (manager *PendingManager) Open(ctx context.Context, txStore Store, userID UserID, activityType ActivityType, activityID string, amount CreditCents, description string) (PendingTransaction, error) {
	if amount <= 0 {
		return PendingTransaction{}, WrapError("pending", "open", "invalid_amount", ErrInvalidAmount)
	}
	createdAt := manager.nowFn().UTC()
	pending := PendingTransaction{
		ID:           manager.newID(),
		UserID:       userID,
		ActivityType: activityType,
		ActivityID:   activityID,
		Amount:       amount,
		Description:  description,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(manager.timeout),
		Status:       PendingStatusPending,
	}
	if err := txStore.InsertPending(ctx, pending); err != nil {
		return PendingTransaction{}, err
	}
	return pending, nil
}

// Confirm removes a live pending entry. It reports false when the entry is
// unknown, no longer pending, or past its expiry.
func (manager *PendingManager) Confirm(ctx context.Context, txStore Store, pendingID string) (PendingTransaction, bool, error) {
	pending, found, err := lookupPending(ctx, txStore, pendingID)
	if err != nil || !found {
		return PendingTransaction{}, false, err
	}
	if pending.Status != PendingStatusPending || pending.ExpiredAt(manager.nowFn()) {
		return pending, false, nil
	}
	if err := txStore.DeletePending(ctx, pendingID); err != nil {
		return PendingTransaction{}, false, err
	}
	return pending, true, nil
}

// Rollback removes the entry regardless of status. It reports false when the id is unknown,
// which means another path already settled it.
func (manager *PendingManager) Rollback(ctx context.Context, txStore Store, pendingID string) (PendingTransaction, bool, error) {
	pending, found, err := lookupPending(ctx, txStore, pendingID)
	if err != nil || !found {
		return PendingTransaction{}, false, err
	}
	if err := txStore.DeletePending(ctx, pendingID); err != nil {
		return PendingTransaction{}, false, err
	}
	return pending, true, nil
}

// Expire removes the entry only if it is past its expiry.
func (manager *PendingManager) Expire(ctx context.Context, txStore Store, pendingID string) (PendingTransaction, bool, error) {
	pending, found, err := lookupPending(ctx, txStore, pendingID)
	if err != nil || !found {
		return PendingTransaction{}, false, err
	}
	if !pending.ExpiredAt(manager.nowFn()) {
		return pending, false, nil
	}
	if err := txStore.DeletePending(ctx, pendingID); err != nil {
		return PendingTransaction{}, false, err
	}
	pending.Status = PendingStatusExpired
	return pending, true, nil
}

// Arm schedules the expiry callback for a committed pending entry.
func (manager *PendingManager) Arm(pending PendingTransaction) {
	delay := pending.ExpiresAt.Sub(manager.nowFn())
	if delay < 0 {
		delay = 0
	}
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.closed {
		return
	}
	if existing, ok := manager.timers[pending.ID]; ok {
		existing.Stop()
	}
	manager.timers[pending.ID] = time.AfterFunc(delay, func() {
		manager.fire(pending)
	})
}

// Disarm cancels the expiry callback; it is a no-op for unknown ids.
func (manager *PendingManager) Disarm(pendingID string) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if timer, ok := manager.timers[pendingID]; ok {
		timer.Stop()
		delete(manager.timers, pendingID)
	}
}

// Armed reports how many expiry timers are outstanding.
func (manager *PendingManager) Armed() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return len(manager.timers)
}

// Close stops every timer. Records stay in the store for the sweeper.
func (manager *PendingManager) Close() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	for pendingID, timer := range manager.timers {
		timer.Stop()
		delete(manager.timers, pendingID)
	}
	manager.closed = true
}

func (manager *PendingManager) fire(pending PendingTransaction) {
	manager.mutex.Lock()
	delete(manager.timers, pending.ID)
	manager.mutex.Unlock()
	if manager.onExpire != nil {
		manager.onExpire(pending)
	}
}

func lookupPending(ctx context.Context, txStore Store, pendingID string) (PendingTransaction, bool, error) {
	pending, err := txStore.GetPending(ctx, pendingID)
	if errors.Is(err, ErrUnknownPendingTransaction) {
		return PendingTransaction{}, false, nil
	}
	if err != nil {
		return PendingTransaction{}, false, err
	}
	return pending, true, nil
}
