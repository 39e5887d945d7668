package credits

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// CreditCents is a credit amount in hundredths of a credit.
type CreditCents int64

// UserID identifies an account owner.
type UserID struct {
	value string
}

// ActivityType identifies a billable activity in the catalog.
type ActivityType string

// ActivityCategory groups activity types.
type ActivityCategory string

const (
	CategoryCommunication ActivityCategory = "communication"
	CategoryLearning      ActivityCategory = "learning"
	CategoryAssessment    ActivityCategory = "assessment"
	CategoryLesson        ActivityCategory = "lesson"
)

// Activity identifiers shared with the consumers.
const (
	ActivityAIChatMessage      ActivityType = "ai-chat-message"
	ActivityLearningUnit       ActivityType = "learning-unit"
	ActivityLearningPathStart  ActivityType = "learning-path-start"
	ActivityQuizAttempt        ActivityType = "quiz-attempt"
	ActivityExerciseCompletion ActivityType = "exercise-completion"
	ActivityIndividualLesson   ActivityType = "individual"
	ActivityGroupBeginner      ActivityType = "group-beginner"
	ActivityGroupIntermediate  ActivityType = "group-intermediate"
	ActivityGroupAdvanced      ActivityType = "group-advanced"
	ActivityOpenConversation   ActivityType = "open-conversation"
)

// PendingStatus defines the pending transaction lifecycle.
type PendingStatus string

const (
	PendingStatusPending PendingStatus = "pending"
	PendingStatusExpired PendingStatus = "expired"
)

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
	TransactionBonus    TransactionType = "bonus"
)

// TransactionStatus is the settlement state recorded on a ledger entry.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// ActivityCostConfig prices one activity type.
type ActivityCostConfig struct {
	ActivityType         ActivityType
	Cost                 CreditCents
	Category             ActivityCategory
	RequiresConfirmation bool
	Description          string
}

// PendingTransaction is an in-flight debit awaiting confirmation or rollback.
type PendingTransaction struct {
	ID           string
	UserID       UserID
	ActivityType ActivityType
	ActivityID   string
	Amount       CreditCents
	Description  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Status       PendingStatus
}

// ExpiredAt reports whether the reservation lease has run out at the given instant.
func (pending PendingTransaction) ExpiredAt(at time.Time) bool {
	return !at.Before(pending.ExpiresAt)
}

// CreditTransaction is a single immutable line in the ledger.
type CreditTransaction struct {
	ID             string
	UserID         UserID
	Type           TransactionType
	Amount         CreditCents
	Description    string
	ActivityID     string
	ActivityType   ActivityType
	Status         TransactionStatus
	IdempotencyKey string
	Timestamp      time.Time
	CompletedAt    *time.Time
}

// CreditVerification is the computed answer to "can this user afford this activity".
type CreditVerification struct {
	Sufficient     bool
	Required       CreditCents
	Available      CreditCents
	EstimatedUsage *CreditCents
	ActivityType   ActivityType
}

// RateLimitStatus reports the caller's remaining budget in the current window.
type RateLimitStatus struct {
	Remaining   int
	MaxRequests int
}

// CostBreakdownItem is one line of a cost estimate.
type CostBreakdownItem struct {
	ActivityType ActivityType
	Quantity     int
	UnitCost     CreditCents
	Subtotal     CreditCents
}

// CostEstimate is the result of EstimateActivityCost.
type CostEstimate struct {
	TotalCost CreditCents
	Breakdown []CostBreakdownItem
}

// AuditEvent is a durable record of a financial-integrity incident.
type AuditEvent struct {
	ID          string
	UserID      UserID
	Operation   string
	PendingID   string
	Amount      CreditCents
	Reason      string
	DetailsJSON string
	CreatedAt   time.Time
}

// RateLimiter guards the credit-check path per user.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
	Remaining(ctx context.Context, userID string) (int, error)
	Limit() int
}

// Store is the persistence contract used by Service.
// WithTx serializes all work for a single user; operations for different users never share a lock.
type Store interface {
	WithTx(ctx context.Context, userID UserID, fn func(ctx context.Context, txStore Store) error) error
	GetBalance(ctx context.Context, userID UserID) (CreditCents, error)
	AdjustBalance(ctx context.Context, userID UserID, delta CreditCents) (CreditCents, error)
	AppendTransaction(ctx context.Context, transaction CreditTransaction) error
	ListTransactions(ctx context.Context, userID UserID, limit int) ([]CreditTransaction, error)
	InsertPending(ctx context.Context, pending PendingTransaction) error
	GetPending(ctx context.Context, pendingID string) (PendingTransaction, error)
	DeletePending(ctx context.Context, pendingID string) error
	ListExpiredPending(ctx context.Context, at time.Time, userID *UserID) ([]PendingTransaction, error)
	RecordAuditEvent(ctx context.Context, event AuditEvent) error
}

// AuditEventLister is implemented by stores that can replay audit events, oldest first.
// Service uses it to rebuild suspensions after a restart.
type AuditEventLister interface {
	ListAuditEventsByOperation(ctx context.Context, operations ...string) ([]AuditEvent, error)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewPositiveCreditCents validates an amount and ensures it is strictly positive.
func NewPositiveCreditCents(raw int64) (CreditCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return CreditCents(raw), nil
}

// CreditCentsFromCredits converts a decimal credit amount, rounding to the nearest cent.
func CreditCentsFromCredits(credits float64) (CreditCents, error) {
	if math.IsNaN(credits) || math.IsInf(credits, 0) {
		return 0, fmt.Errorf("%w: not a finite number", ErrInvalidAmount)
	}
	scaled := math.Round(credits * centsPerCredit)
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if scaled >= math.MaxInt64 || scaled < math.MinInt64 {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return CreditCents(scaled), nil
}

// Times multiplies a non-negative amount by quantity. It reports false when quantity is negative
// or the product does not fit in CreditCents.
func (amount CreditCents) Times(quantity int) (CreditCents, bool) {
	if amount < 0 || quantity < 0 {
		return 0, false
	}
	if amount > 0 && int64(quantity) > math.MaxInt64/int64(amount) {
		return 0, false
	}
	return amount * CreditCents(quantity), true
}

// Plus adds two non-negative amounts, reporting false on overflow.
func (amount CreditCents) Plus(other CreditCents) (CreditCents, bool) {
	if amount < 0 || other < 0 || amount > math.MaxInt64-other {
		return 0, false
	}
	return amount + other, true
}

// Int64 returns the raw cent count.
func (amount CreditCents) Int64() int64 {
	return int64(amount)
}

// Credits returns the amount as a decimal credit value for display.
func (amount CreditCents) Credits() float64 {
	return float64(amount) / centsPerCredit
}

// String renders the amount with two decimals, e.g. "2.50".
func (amount CreditCents) String() string {
	sign := ""
	value := int64(amount)
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d", sign, value/centsPerCredit, value%centsPerCredit)
}

// String returns the identifier.
func (activityType ActivityType) String() string {
	return string(activityType)
}

// ParseActivityCategory validates a category name.
func ParseActivityCategory(raw string) (ActivityCategory, error) {
	switch ActivityCategory(strings.TrimSpace(raw)) {
	case CategoryCommunication:
		return CategoryCommunication, nil
	case CategoryLearning:
		return CategoryLearning, nil
	case CategoryAssessment:
		return CategoryAssessment, nil
	case CategoryLesson:
		return CategoryLesson, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
}

// ParseTransactionType validates a ledger entry kind.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.TrimSpace(raw)) {
	case TransactionPurchase:
		return TransactionPurchase, nil
	case TransactionUsage:
		return TransactionUsage, nil
	case TransactionRefund:
		return TransactionRefund, nil
	case TransactionBonus:
		return TransactionBonus, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the type name.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParsePendingStatus validates a pending transaction status.
func ParsePendingStatus(raw string) (PendingStatus, error) {
	switch PendingStatus(strings.TrimSpace(raw)) {
	case PendingStatusPending:
		return PendingStatusPending, nil
	case PendingStatusExpired:
		return PendingStatusExpired, nil
	default:
		return "", fmt.Errorf("%w: status %q", ErrInvalidPendingTransaction, raw)
	}
}
