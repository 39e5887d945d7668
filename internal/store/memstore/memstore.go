// Package memstore keeps the credit ledger in process memory.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
)

const (
	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorSubjectPending     = "pending"
	errorCodeAdjust         = "adjust"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeDelete         = "delete"
	errorCodeInvalid        = "invalid"
)

type ledgerState struct {
	mutex        sync.Mutex
	balances     map[string]credits.CreditCents
	transactions []credits.CreditTransaction
	keys         map[string]struct{}
	pending      map[string]credits.PendingTransaction
	audits       []credits.AuditEvent
}

type userLocks struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func (locks *userLocks) lockFor(userID credits.UserID) *sync.Mutex {
	locks.mutex.Lock()
	defer locks.mutex.Unlock()
	lock, ok := locks.locks[userID.String()]
	if !ok {
		lock = &sync.Mutex{}
		locks.locks[userID.String()] = lock
	}
	return lock
}

// Store implements credits.Store in memory. WithTx holds a per-user lock and undoes
// every write of a failed callback.
type Store struct {
	state   *ledgerState
	locks   *userLocks
	journal *[]func()
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		state: &ledgerState{
			balances: make(map[string]credits.CreditCents),
			keys:     make(map[string]struct{}),
			pending:  make(map[string]credits.PendingTransaction),
		},
		locks: &userLocks{locks: make(map[string]*sync.Mutex)},
	}
}

// WithTx runs fn while holding the user's lock.
func (store *Store) WithTx(ctx context.Context, userID credits.UserID, fn func(ctx context.Context, txStore credits.Store) error) error {
	if store.journal != nil {
		return fn(ctx, store)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := store.locks.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	journal := make([]func(), 0, 4)
	txStore := &Store{state: store.state, locks: store.locks, journal: &journal}
	if err := fn(ctx, txStore); err != nil {
		store.state.mutex.Lock()
		for index := len(journal) - 1; index >= 0; index-- {
			journal[index]()
		}
		store.state.mutex.Unlock()
		return err
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID credits.UserID) (credits.CreditCents, error) {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	return store.state.balances[userID.String()], nil
}

func (store *Store) AdjustBalance(ctx context.Context, userID credits.UserID, delta credits.CreditCents) (credits.CreditCents, error) {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	key := userID.String()
	previous, existed := store.state.balances[key]
	updated := previous + delta
	if updated < 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, fmt.Errorf("%w: balance %s, delta %s", credits.ErrInsufficientCredits, previous, delta))
	}
	store.state.balances[key] = updated
	store.record(func() {
		if existed {
			store.state.balances[key] = previous
			return
		}
		delete(store.state.balances, key)
	})
	return updated, nil
}

func (store *Store) AppendTransaction(ctx context.Context, transaction credits.CreditTransaction) error {
	if transaction.ID == "" || transaction.UserID.IsZero() {
		return wrapStoreError(errorSubjectTransaction, errorCodeInvalid, credits.ErrInvalidCreditTransaction)
	}
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	key := transaction.IdempotencyKey
	if key != "" {
		if _, exists := store.state.keys[key]; exists {
			return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateIdempotencyKey)
		}
		store.state.keys[key] = struct{}{}
	}
	store.state.transactions = append(store.state.transactions, transaction)
	store.record(func() {
		if key != "" {
			delete(store.state.keys, key)
		}
		for index := len(store.state.transactions) - 1; index >= 0; index-- {
			if store.state.transactions[index].ID == transaction.ID {
				store.state.transactions = append(store.state.transactions[:index], store.state.transactions[index+1:]...)
				return
			}
		}
	})
	return nil
}

// ListTransactions returns the user's entries newest first.
func (store *Store) ListTransactions(ctx context.Context, userID credits.UserID, limit int) ([]credits.CreditTransaction, error) {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	transactions := make([]credits.CreditTransaction, 0, limit)
	for index := len(store.state.transactions) - 1; index >= 0 && len(transactions) < limit; index-- {
		if store.state.transactions[index].UserID == userID {
			transactions = append(transactions, store.state.transactions[index])
		}
	}
	return transactions, nil
}

func (store *Store) InsertPending(ctx context.Context, pending credits.PendingTransaction) error {
	if pending.ID == "" || pending.UserID.IsZero() {
		return wrapStoreError(errorSubjectPending, errorCodeInvalid, credits.ErrInvalidPendingTransaction)
	}
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	if _, exists := store.state.pending[pending.ID]; exists {
		return wrapStoreError(errorSubjectPending, errorCodeDuplicate, credits.ErrInvalidPendingTransaction)
	}
	store.state.pending[pending.ID] = pending
	store.record(func() {
		delete(store.state.pending, pending.ID)
	})
	return nil
}

func (store *Store) GetPending(ctx context.Context, pendingID string) (credits.PendingTransaction, error) {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	pending, ok := store.state.pending[pendingID]
	if !ok {
		return credits.PendingTransaction{}, wrapStoreError(errorSubjectPending, errorCodeGet, credits.ErrUnknownPendingTransaction)
	}
	return pending, nil
}

func (store *Store) DeletePending(ctx context.Context, pendingID string) error {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	pending, ok := store.state.pending[pendingID]
	if !ok {
		return wrapStoreError(errorSubjectPending, errorCodeDelete, credits.ErrUnknownPendingTransaction)
	}
	delete(store.state.pending, pendingID)
	store.record(func() {
		store.state.pending[pendingID] = pending
	})
	return nil
}

// ListExpiredPending returns pending entries whose lease ended at or before at, oldest deadline first.
func (store *Store) ListExpiredPending(ctx context.Context, at time.Time, userID *credits.UserID) ([]credits.PendingTransaction, error) {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	expired := make([]credits.PendingTransaction, 0)
	for _, pending := range store.state.pending {
		if userID != nil && pending.UserID != *userID {
			continue
		}
		if pending.ExpiredAt(at) {
			expired = append(expired, pending)
		}
	}
	sort.Slice(expired, func(left, right int) bool {
		return expired[left].ExpiresAt.Before(expired[right].ExpiresAt)
	})
	return expired, nil
}

func (store *Store) RecordAuditEvent(ctx context.Context, event credits.AuditEvent) error {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	store.state.audits = append(store.state.audits, event)
	return nil
}

// ListAuditEventsByOperation returns matching audit events in insertion order.
func (store *Store) ListAuditEventsByOperation(ctx context.Context, operations ...string) ([]credits.AuditEvent, error) {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	var events []credits.AuditEvent
	for _, event := range store.state.audits {
		if slices.Contains(operations, event.Operation) {
			events = append(events, event)
		}
	}
	return events, nil
}

// AuditEvents returns every recorded audit event in insertion order.
func (store *Store) AuditEvents() []credits.AuditEvent {
	store.state.mutex.Lock()
	defer store.state.mutex.Unlock()
	return append([]credits.AuditEvent(nil), store.state.audits...)
}

// record must be called with state.mutex held.
func (store *Store) record(undo func()) {
	if store.journal == nil {
		return
	}
	*store.journal = append(*store.journal, undo)
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}
