package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/inglespareto/credits/pkg/credits"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintIdempotencyKey = "uniq_credit_transactions_idempotency_key"
	sqliteIdempotencyColumn  = "credit_transactions.idempotency_key"
	defaultDetailsJSON       = "{}"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	errorOperationStore      = "store"
	errorSubjectAudit        = "audit"
	errorSubjectBalance      = "balance"
	errorSubjectPending      = "pending"
	errorSubjectTransaction  = "transaction"
	errorCodeAdjust          = "adjust"
	errorCodeDelete          = "delete"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLock            = "lock"
)

// Store implements credits.Store using GORM.
type Store struct {
	db    *gorm.DB
	locks *userLocks
	inTx  bool
}

type userLocks struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func (locks *userLocks) lockFor(userID string) *sync.Mutex {
	locks.mutex.Lock()
	defer locks.mutex.Unlock()
	lock, ok := locks.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		locks.locks[userID] = lock
	}
	return lock
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, locks: &userLocks{locks: make(map[string]*sync.Mutex)}}
}

// WithTx executes fn within a transaction that holds the user's balance row lock.
// An in-process lock serializes the same user first so SQLite never sees competing writers for one user.
func (store *Store) WithTx(ctx context.Context, userID credits.UserID, fn func(ctx context.Context, txStore credits.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	lock := store.locks.lockFor(userID.String())
	lock.Lock()
	defer lock.Unlock()
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		txStore := &Store{db: transaction, locks: store.locks, inTx: true}
		if _, err := txStore.lockBalance(ctx, userID); err != nil {
			return err
		}
		return fn(ctx, txStore)
	})
}

func (store *Store) GetBalance(ctx context.Context, userID credits.UserID) (credits.CreditCents, error) {
	var row CreditBalance
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return credits.CreditCents(row.BalanceCents), nil
}

func (store *Store) AdjustBalance(ctx context.Context, userID credits.UserID, delta credits.CreditCents) (credits.CreditCents, error) {
	if err := store.ensureBalanceRow(ctx, userID); err != nil {
		return 0, err
	}
	result := store.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ? AND balance_cents + ? >= 0", userID.String(), delta.Int64()).
		Updates(map[string]interface{}{
			"balance_cents": gorm.Expr("balance_cents + ?", delta.Int64()),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, fmt.Errorf("%w: delta %s", credits.ErrInsufficientCredits, delta))
	}
	return store.GetBalance(ctx, userID)
}

func (store *Store) AppendTransaction(ctx context.Context, transaction credits.CreditTransaction) error {
	if transaction.ID == "" || transaction.UserID.IsZero() {
		return wrapStoreError(errorSubjectTransaction, errorCodeInvalid, credits.ErrInvalidCreditTransaction)
	}
	var idempotencyKey *string
	if transaction.IdempotencyKey != "" {
		value := transaction.IdempotencyKey
		idempotencyKey = &value
	}
	createdAt := transaction.Timestamp.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := CreditTransaction{
		TransactionID:  transaction.ID,
		UserID:         transaction.UserID.String(),
		Type:           transaction.Type.String(),
		AmountCents:    transaction.Amount.Int64(),
		Description:    transaction.Description,
		ActivityID:     transaction.ActivityID,
		ActivityType:   transaction.ActivityType.String(),
		Status:         string(transaction.Status),
		IdempotencyKey: idempotencyKey,
		CreatedAt:      createdAt,
		CompletedAt:    utcPointer(transaction.CompletedAt),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, userID credits.UserID, limit int) ([]credits.CreditTransaction, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]credits.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapCreditTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) InsertPending(ctx context.Context, pending credits.PendingTransaction) error {
	if pending.ID == "" || pending.UserID.IsZero() {
		return wrapStoreError(errorSubjectPending, errorCodeInvalid, credits.ErrInvalidPendingTransaction)
	}
	row := PendingTransaction{
		PendingID:    pending.ID,
		UserID:       pending.UserID.String(),
		ActivityType: pending.ActivityType.String(),
		ActivityID:   pending.ActivityID,
		AmountCents:  pending.Amount.Int64(),
		Description:  pending.Description,
		Status:       string(pending.Status),
		CreatedAt:    pending.CreatedAt.UTC(),
		ExpiresAt:    pending.ExpiresAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPending, errorCodeDuplicate, credits.ErrInvalidPendingTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetPending(ctx context.Context, pendingID string) (credits.PendingTransaction, error) {
	var row PendingTransaction
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pending_id = ?", pendingID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.PendingTransaction{}, wrapStoreError(errorSubjectPending, errorCodeGet, credits.ErrUnknownPendingTransaction)
	}
	if err != nil {
		return credits.PendingTransaction{}, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	pending, err := mapPendingTransaction(row)
	if err != nil {
		return credits.PendingTransaction{}, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
	}
	return pending, nil
}

func (store *Store) DeletePending(ctx context.Context, pendingID string) error {
	result := store.db.WithContext(ctx).Where("pending_id = ?", pendingID).Delete(&PendingTransaction{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPending, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPending, errorCodeDelete, credits.ErrUnknownPendingTransaction)
	}
	return nil
}

func (store *Store) ListExpiredPending(ctx context.Context, at time.Time, userID *credits.UserID) ([]credits.PendingTransaction, error) {
	query := store.db.WithContext(ctx).Where("expires_at <= ?", at.UTC())
	if userID != nil {
		query = query.Where("user_id = ?", userID.String())
	}
	var rows []PendingTransaction
	if err := query.Order("expires_at ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPending, errorCodeList, err)
	}
	expired := make([]credits.PendingTransaction, 0, len(rows))
	for _, row := range rows {
		pending, err := mapPendingTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPending, errorCodeInvalid, err)
		}
		expired = append(expired, pending)
	}
	return expired, nil
}

func (store *Store) RecordAuditEvent(ctx context.Context, event credits.AuditEvent) error {
	createdAt := event.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := AuditEvent{
		EventID:     event.ID,
		UserID:      event.UserID.String(),
		Operation:   event.Operation,
		PendingID:   event.PendingID,
		AmountCents: event.Amount.Int64(),
		Reason:      event.Reason,
		Details:     datatypesJSON(event.DetailsJSON),
		CreatedAt:   createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

// ListAuditEvents returns a user's audit events, newest first.
func (store *Store) ListAuditEvents(ctx context.Context, userID credits.UserID, limit int) ([]credits.AuditEvent, error) {
	var rows []AuditEvent
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	return mapAuditEvents(rows)
}

// ListAuditEventsByOperation returns every event with one of the operations, oldest first.
func (store *Store) ListAuditEventsByOperation(ctx context.Context, operations ...string) ([]credits.AuditEvent, error) {
	if len(operations) == 0 {
		return nil, nil
	}
	var rows []AuditEvent
	err := store.db.WithContext(ctx).
		Where("operation IN ?", operations).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	return mapAuditEvents(rows)
}

func (store *Store) ensureBalanceRow(ctx context.Context, userID credits.UserID) error {
	row := CreditBalance{UserID: userID.String(), UpdatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeLock, err)
	}
	return nil
}

func (store *Store) lockBalance(ctx context.Context, userID credits.UserID) (CreditBalance, error) {
	if err := store.ensureBalanceRow(ctx, userID); err != nil {
		return CreditBalance{}, err
	}
	var row CreditBalance
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err != nil {
		return CreditBalance{}, wrapStoreError(errorSubjectBalance, errorCodeLock, err)
	}
	return row, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func mapCreditTransaction(row CreditTransaction) (credits.CreditTransaction, error) {
	userID, err := credits.NewUserID(row.UserID)
	if err != nil {
		return credits.CreditTransaction{}, err
	}
	transactionType, err := credits.ParseTransactionType(row.Type)
	if err != nil {
		return credits.CreditTransaction{}, err
	}
	transaction := credits.CreditTransaction{
		ID:           row.TransactionID,
		UserID:       userID,
		Type:         transactionType,
		Amount:       credits.CreditCents(row.AmountCents),
		Description:  row.Description,
		ActivityID:   row.ActivityID,
		ActivityType: credits.ActivityType(row.ActivityType),
		Status:       credits.TransactionStatus(row.Status),
		Timestamp:    row.CreatedAt.UTC(),
		CompletedAt:  utcPointer(row.CompletedAt),
	}
	if row.IdempotencyKey != nil {
		transaction.IdempotencyKey = *row.IdempotencyKey
	}
	return transaction, nil
}

func mapAuditEvents(rows []AuditEvent) ([]credits.AuditEvent, error) {
	events := make([]credits.AuditEvent, 0, len(rows))
	for _, row := range rows {
		userID, err := credits.NewUserID(row.UserID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
		}
		events = append(events, credits.AuditEvent{
			ID:          row.EventID,
			UserID:      userID,
			Operation:   row.Operation,
			PendingID:   row.PendingID,
			Amount:      credits.CreditCents(row.AmountCents),
			Reason:      row.Reason,
			DetailsJSON: string(row.Details),
			CreatedAt:   row.CreatedAt,
		})
	}
	return events, nil
}

func mapPendingTransaction(row PendingTransaction) (credits.PendingTransaction, error) {
	userID, err := credits.NewUserID(row.UserID)
	if err != nil {
		return credits.PendingTransaction{}, err
	}
	status, err := credits.ParsePendingStatus(row.Status)
	if err != nil {
		return credits.PendingTransaction{}, err
	}
	return credits.PendingTransaction{
		ID:           row.PendingID,
		UserID:       userID,
		ActivityType: credits.ActivityType(row.ActivityType),
		ActivityID:   row.ActivityID,
		Amount:       credits.CreditCents(row.AmountCents),
		Description:  row.Description,
		CreatedAt:    row.CreatedAt.UTC(),
		ExpiresAt:    row.ExpiresAt.UTC(),
		Status:       status,
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultDetailsJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isIdempotencyConflict reports a unique violation on the idempotency key only.
// SQLite names the offending table.column in its message rather than the index.
func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteIdempotencyColumn)
	}
	return false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
