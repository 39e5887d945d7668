package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inglespareto/credits/internal/activities"
	"github.com/inglespareto/credits/pkg/credits"
	"go.uber.org/zap"
)

const (
	codeUnauthorized       = "UNAUTHORIZED"
	codeInvalidPayload     = "INVALID_PAYLOAD"
	codeInvalidRequest     = "INVALID_REQUEST"
	codeDuplicate          = "DUPLICATE_IDEMPOTENCY_KEY"
	codeSlotUnavailable    = "SLOT_UNAVAILABLE"
	codeInvalidSignature   = "INVALID_SIGNATURE"
	codeFeatureUnavailable = "FEATURE_UNAVAILABLE"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// statusFor maps a domain error onto an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, credits.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, credits.ErrorCode(err)
	case errors.Is(err, credits.ErrInvalidActivityType):
		return http.StatusNotFound, credits.ErrorCode(err)
	case errors.Is(err, credits.ErrInsufficientCredits):
		return http.StatusPaymentRequired, credits.ErrorCode(err)
	case errors.Is(err, credits.ErrAccountSuspended):
		return http.StatusForbidden, credits.ErrorCode(err)
	case errors.Is(err, credits.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, codeDuplicate
	case errors.Is(err, activities.ErrSlotUnavailable):
		return http.StatusConflict, codeSlotUnavailable
	case errors.Is(err, credits.ErrInvalidUserID),
		errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidTransactionType),
		errors.Is(err, credits.ErrInvalidEstimate),
		errors.Is(err, credits.ErrInvalidListLimit),
		errors.Is(err, activities.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, credits.ErrTransactionExpired):
		return http.StatusGatewayTimeout, credits.ErrorCode(err)
	case errors.Is(err, credits.ErrExecutionFailed):
		return http.StatusBadGateway, credits.ErrorCode(err)
	default:
		return http.StatusInternalServerError, credits.ErrorCode(err)
	}
}

type transactionPayload struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Type         string     `json:"type"`
	Amount       float64    `json:"amount"`
	AmountCents  int64      `json:"amountCents"`
	Description  string     `json:"description"`
	ActivityID   string     `json:"activityId,omitempty"`
	ActivityType string     `json:"activityType,omitempty"`
	Status       string     `json:"status"`
	Timestamp    time.Time  `json:"timestamp"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type verificationPayload struct {
	Sufficient          bool     `json:"sufficient"`
	Required            float64  `json:"required"`
	Available           float64  `json:"available"`
	RequiredCents       int64    `json:"requiredCents"`
	AvailableCents      int64    `json:"availableCents"`
	EstimatedUsage      *float64 `json:"estimatedUsage,omitempty"`
	EstimatedUsageCents *int64   `json:"estimatedUsageCents,omitempty"`
	ActivityType        string   `json:"activityType"`
}

type breakdownPayload struct {
	ActivityType  string  `json:"activityType"`
	Quantity      int     `json:"quantity"`
	UnitCost      float64 `json:"unitCost"`
	Subtotal      float64 `json:"subtotal"`
	SubtotalCents int64   `json:"subtotalCents"`
}

type activityPayload struct {
	ActivityType         string  `json:"activityType"`
	Cost                 float64 `json:"cost"`
	CostCents            int64   `json:"costCents"`
	Category             string  `json:"category"`
	RequiresConfirmation bool    `json:"requiresConfirmation"`
	Description          string  `json:"description"`
}

func newTransactionPayload(transaction credits.CreditTransaction) transactionPayload {
	return transactionPayload{
		ID:           transaction.ID,
		UserID:       transaction.UserID.String(),
		Type:         transaction.Type.String(),
		Amount:       transaction.Amount.Credits(),
		AmountCents:  transaction.Amount.Int64(),
		Description:  transaction.Description,
		ActivityID:   transaction.ActivityID,
		ActivityType: transaction.ActivityType.String(),
		Status:       string(transaction.Status),
		Timestamp:    transaction.Timestamp,
		CompletedAt:  transaction.CompletedAt,
	}
}

func newTransactionPayloads(transactions []credits.CreditTransaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, newTransactionPayload(transaction))
	}
	return payloads
}

func newVerificationPayload(verification credits.CreditVerification) verificationPayload {
	payload := verificationPayload{
		Sufficient:     verification.Sufficient,
		Required:       verification.Required.Credits(),
		Available:      verification.Available.Credits(),
		RequiredCents:  verification.Required.Int64(),
		AvailableCents: verification.Available.Int64(),
		ActivityType:   verification.ActivityType.String(),
	}
	if verification.EstimatedUsage != nil {
		estimated := verification.EstimatedUsage.Credits()
		cents := verification.EstimatedUsage.Int64()
		payload.EstimatedUsage = &estimated
		payload.EstimatedUsageCents = &cents
	}
	return payload
}

// respondResult writes an executed activity; value is included only on success.
func respondResult[T any](ctx *gin.Context, logger *zap.Logger, result credits.Result[T], valueKey string) {
	if result.Success() {
		body := gin.H{
			"success":      true,
			"transaction":  newTransactionPayload(*result.Transaction),
			"verification": newVerificationPayload(result.Verification),
		}
		if valueKey != "" {
			body[valueKey] = result.Value
		}
		ctx.JSON(http.StatusOK, body)
		return
	}
	statusCode, code := statusFor(result.Err)
	logFailure(logger, ctx, statusCode, result.Err)
	body := errorResponse(code, result.Err.Error())
	body["success"] = false
	if result.Outcome == credits.OutcomeInsufficientCredits {
		body["verification"] = newVerificationPayload(result.Verification)
	}
	ctx.JSON(statusCode, body)
}

func respondError(ctx *gin.Context, logger *zap.Logger, err error) {
	statusCode, code := statusFor(err)
	logFailure(logger, ctx, statusCode, err)
	ctx.JSON(statusCode, errorResponse(code, err.Error()))
}

func logFailure(logger *zap.Logger, ctx *gin.Context, statusCode int, err error) {
	if statusCode < http.StatusInternalServerError {
		return
	}
	logger.Error("request failed",
		zap.String("route", ctx.FullPath()),
		zap.Int("status", statusCode),
		zap.Error(err),
	)
}
