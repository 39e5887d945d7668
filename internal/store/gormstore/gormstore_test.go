package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/inglespareto/credits/internal/ratelimit"
	"github.com/inglespareto/credits/pkg/credits"
	"gorm.io/gorm"
)

func openTestStore(test *testing.T) *Store {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/credits.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(database); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(database)
}

func TestStoreBalanceAndTransactions(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "student-1")

	balance, err := store.GetBalance(ctx, userID)
	if err != nil || balance != 0 {
		test.Fatalf("expected zero balance for a new user, got %s (%v)", balance, err)
	}
	balance, err = store.AdjustBalance(ctx, userID, 1000)
	if err != nil || balance != 1000 {
		test.Fatalf("expected 10.00, got %s (%v)", balance, err)
	}
	if _, err := store.AdjustBalance(ctx, userID, -1001); !errors.Is(err, credits.ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	completedAt := time.Date(2025, time.March, 1, 9, 0, 1, 0, time.UTC)
	first := credits.CreditTransaction{
		ID:             "tx-1",
		UserID:         userID,
		Type:           credits.TransactionPurchase,
		Amount:         1000,
		Description:    "Starter pack",
		Status:         credits.TransactionStatusCompleted,
		IdempotencyKey: "payment:1",
		Timestamp:      completedAt,
		CompletedAt:    &completedAt,
	}
	if err := store.AppendTransaction(ctx, first); err != nil {
		test.Fatalf("append: %v", err)
	}
	duplicate := first
	duplicate.ID = "tx-dup"
	if err := store.AppendTransaction(ctx, duplicate); !errors.Is(err, credits.ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	for _, id := range []string{"tx-2", "tx-3"} {
		unkeyed := credits.CreditTransaction{ID: id, UserID: userID, Type: credits.TransactionBonus, Amount: 50, Status: credits.TransactionStatusCompleted, Timestamp: completedAt}
		if err := store.AppendTransaction(ctx, unkeyed); err != nil {
			test.Fatalf("entries without a key never conflict: %v", err)
		}
	}

	transactions, err := store.ListTransactions(ctx, userID, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 3 || transactions[0].ID != "tx-3" || transactions[2].ID != "tx-1" {
		test.Fatalf("expected newest first, got %+v", transactions)
	}
	if transactions[2].IdempotencyKey != "payment:1" || transactions[2].CompletedAt == nil || !transactions[2].CompletedAt.Equal(completedAt) {
		test.Fatalf("unexpected mapped transaction %+v", transactions[2])
	}
}

func TestStoreTransactionIDConflictIsNotIdempotencyConflict(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "student-1")
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	first := credits.CreditTransaction{ID: "tx-1", UserID: userID, Type: credits.TransactionPurchase, Amount: 100, Status: credits.TransactionStatusCompleted, IdempotencyKey: "payment:1", Timestamp: now}
	if err := store.AppendTransaction(ctx, first); err != nil {
		test.Fatalf("append: %v", err)
	}
	sameID := first
	sameID.IdempotencyKey = "payment:2"
	err := store.AppendTransaction(ctx, sameID)
	if err == nil {
		test.Fatalf("expected a transaction id conflict")
	}
	if errors.Is(err, credits.ErrDuplicateIdempotencyKey) {
		test.Fatalf("a repeated transaction id must not read as a duplicate idempotency key: %v", err)
	}
}

func TestStorePendingLifecycle(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "student-1")
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	pending := credits.PendingTransaction{
		ID:           "pending-1",
		UserID:       userID,
		ActivityType: credits.ActivityIndividualLesson,
		ActivityID:   "lesson-1",
		Amount:       300,
		Description:  "Individual lesson",
		CreatedAt:    now,
		ExpiresAt:    now.Add(30 * time.Second),
		Status:       credits.PendingStatusPending,
	}
	if err := store.InsertPending(ctx, pending); err != nil {
		test.Fatalf("insert: %v", err)
	}
	loaded, err := store.GetPending(ctx, "pending-1")
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Amount != 300 || !loaded.ExpiresAt.Equal(pending.ExpiresAt) || loaded.UserID != userID {
		test.Fatalf("unexpected pending %+v", loaded)
	}

	expired, err := store.ListExpiredPending(ctx, now.Add(29*time.Second), nil)
	if err != nil || len(expired) != 0 {
		test.Fatalf("expected nothing expired yet, got %d (%v)", len(expired), err)
	}
	expired, err = store.ListExpiredPending(ctx, now.Add(30*time.Second), &userID)
	if err != nil || len(expired) != 1 {
		test.Fatalf("expected the pending to expire at its deadline, got %d (%v)", len(expired), err)
	}

	if err := store.DeletePending(ctx, "pending-1"); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if err := store.DeletePending(ctx, "pending-1"); !errors.Is(err, credits.ErrUnknownPendingTransaction) {
		test.Fatalf("expected ErrUnknownPendingTransaction, got %v", err)
	}
	if _, err := store.GetPending(ctx, "pending-1"); !errors.Is(err, credits.ErrUnknownPendingTransaction) {
		test.Fatalf("expected ErrUnknownPendingTransaction, got %v", err)
	}
}

func TestStoreWithTxRollsBack(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "student-1")
	if _, err := store.AdjustBalance(ctx, userID, 500); err != nil {
		test.Fatalf("seed: %v", err)
	}
	failure := errors.New("executor crashed")

	err := store.WithTx(ctx, userID, func(ctx context.Context, txStore credits.Store) error {
		if _, err := txStore.AdjustBalance(ctx, userID, -300); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected the callback error, got %v", err)
	}
	balance, err := store.GetBalance(ctx, userID)
	if err != nil || balance != 500 {
		test.Fatalf("expected the debit rolled back, got %s (%v)", balance, err)
	}
}

func TestStoreAuditEvents(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "student-1")
	event := credits.AuditEvent{
		ID:          "audit-1",
		UserID:      userID,
		Operation:   "rollback",
		PendingID:   "pending-1",
		Amount:      50,
		Reason:      "database unavailable",
		DetailsJSON: `{"activity_type":"learning-unit"}`,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.RecordAuditEvent(ctx, event); err != nil {
		test.Fatalf("record: %v", err)
	}
	events, err := store.ListAuditEvents(ctx, userID, 10)
	if err != nil || len(events) != 1 {
		test.Fatalf("expected one event, got %d (%v)", len(events), err)
	}
	if events[0].Amount != 50 || events[0].PendingID != "pending-1" {
		test.Fatalf("unexpected event %+v", events[0])
	}
}

func TestSuspensionsSurviveServiceRestart(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	stranded := mustUserID(test, "student-stranded")
	reconciled := mustUserID(test, "student-reconciled")
	failedAt := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	for index, userID := range []credits.UserID{stranded, reconciled} {
		event := credits.AuditEvent{
			ID:        fmt.Sprintf("audit-%d", index),
			UserID:    userID,
			Operation: credits.AuditOperationRollback,
			Amount:    50,
			Reason:    "database unavailable",
			CreatedAt: failedAt.Add(time.Duration(index) * time.Second),
		}
		if err := store.RecordAuditEvent(ctx, event); err != nil {
			test.Fatalf("record: %v", err)
		}
	}
	newService := func() *credits.Service {
		limiter, err := ratelimit.NewLimiter(ratelimit.Config{Store: ratelimit.NewMemoryStore(ratelimit.WithCleanupInterval(0)), Window: time.Minute, MaxRequests: 100})
		if err != nil {
			test.Fatalf("limiter: %v", err)
		}
		service, err := credits.NewService(store, limiter, credits.DefaultCatalog())
		if err != nil {
			test.Fatalf("service: %v", err)
		}
		test.Cleanup(service.Close)
		return service
	}

	first := newService()
	if count, err := first.RestoreSuspensions(ctx); err != nil || count != 2 {
		test.Fatalf("expected two suspensions, got %d (%v)", count, err)
	}
	if err := first.ResumeAccount(ctx, reconciled); err != nil {
		test.Fatalf("resume: %v", err)
	}

	restarted := newService()
	count, err := restarted.RestoreSuspensions(ctx)
	if err != nil {
		test.Fatalf("restore: %v", err)
	}
	if count != 1 || !restarted.IsSuspended(stranded) || restarted.IsSuspended(reconciled) {
		test.Fatalf("expected only the stranded user suspended, got count %d", count)
	}
	events, err := store.ListAuditEventsByOperation(ctx, credits.AuditOperationResume)
	if err != nil || len(events) != 1 || events[0].UserID != reconciled {
		test.Fatalf("expected one resume event for the reconciled user, got %+v (%v)", events, err)
	}
}

func TestServiceOverSQLiteNeverOverspends(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Store: ratelimit.NewMemoryStore(ratelimit.WithCleanupInterval(0)), Window: time.Minute, MaxRequests: 100})
	if err != nil {
		test.Fatalf("limiter: %v", err)
	}
	service, err := credits.NewService(store, limiter, credits.DefaultCatalog(), credits.WithRetryBackoff(func(int) time.Duration { return 0 }))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	test.Cleanup(service.Close)
	ctx := context.Background()
	userID := mustUserID(test, "student-1")
	if _, _, err := service.AddCredits(ctx, credits.AddCreditsRequest{UserID: userID, Amount: 100, IdempotencyKey: "payment:seed"}); err != nil {
		test.Fatalf("add credits: %v", err)
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		completed int
	)
	for worker := 0; worker < 8; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			result := credits.ExecuteActivity(ctx, service, userID, credits.ActivityLearningUnit, func(ctx context.Context, activityID string) (string, error) {
				return "done", nil
			}, credits.ExecuteOptions{})
			if result.Success() {
				mutex.Lock()
				completed++
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()

	if completed != 2 {
		test.Fatalf("expected exactly two completed units, got %d", completed)
	}
	balance, err := service.GetBalance(ctx, userID)
	if err != nil || balance != 0 {
		test.Fatalf("expected balance 0.00, got %s (%v)", balance, err)
	}
}

func mustUserID(test *testing.T, raw string) credits.UserID {
	test.Helper()
	userID, err := credits.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}
