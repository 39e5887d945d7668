package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inglespareto/credits/pkg/credits"
)

type checkRequest struct {
	UserID       string `json:"userId"`
	ActivityType string `json:"activityType"`
	Quantity     int    `json:"quantity"`
}

type executeRequest struct {
	UserID       string `json:"userId"`
	ActivityType string `json:"activityType"`
	ActivityID   string `json:"activityId"`
	Description  string `json:"description"`
}

type addRequest struct {
	UserID         string   `json:"userId"`
	Amount         *float64 `json:"amount"`
	AmountCents    *int64   `json:"amountCents"`
	Description    string   `json:"description"`
	Type           string   `json:"type"`
	IdempotencyKey string   `json:"idempotencyKey"`
}

type estimateRequest struct {
	ActivityTypes []string `json:"activityTypes"`
	Quantities    []int    `json:"quantities"`
}

func (handler *httpHandler) handleCheck(ctx *gin.Context) {
	var request checkRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	userID, err := credits.NewUserID(request.UserID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	verification, err := handler.credits.CheckCreditsAvailable(ctx.Request.Context(), userID, credits.ActivityType(request.ActivityType), credits.CheckOptions{Quantity: request.Quantity})
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, newVerificationPayload(verification))
}

// handleExecute bills an activity the caller has already performed.
func (handler *httpHandler) handleExecute(ctx *gin.Context) {
	var request executeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	userID, err := credits.NewUserID(request.UserID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	result := credits.ExecuteActivity(ctx.Request.Context(), handler.credits, userID, credits.ActivityType(request.ActivityType),
		func(context.Context, string) (struct{}, error) { return struct{}{}, nil },
		credits.ExecuteOptions{ActivityID: request.ActivityID, Description: request.Description, MaxRetries: 1},
	)
	respondResult(ctx, handler.logger, result, "")
}

func (handler *httpHandler) handleAdd(ctx *gin.Context) {
	var request addRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	userID, err := credits.NewUserID(request.UserID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	amount, err := requestAmount(request)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	transaction, balance, err := handler.credits.AddCredits(ctx.Request.Context(), credits.AddCreditsRequest{
		UserID:         userID,
		Amount:         amount,
		Description:    request.Description,
		Type:           credits.TransactionType(request.Type),
		IdempotencyKey: request.IdempotencyKey,
	})
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction":  newTransactionPayload(transaction),
		"balance":      balance.Credits(),
		"balanceCents": balance.Int64(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, err := credits.NewUserID(ctx.Param("userId"))
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	balance, err := handler.credits.GetBalance(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"userId": userID.String(), "balance": balance.Credits(), "balanceCents": balance.Int64()})
}

// handleResume lifts a suspension after an operator has reconciled the balance.
func (handler *httpHandler) handleResume(ctx *gin.Context) {
	userID, err := credits.NewUserID(ctx.Param("userId"))
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	if err := handler.credits.ResumeAccount(ctx.Request.Context(), userID); err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"userId": userID.String(), "suspended": false})
}

func (handler *httpHandler) handleRateLimit(ctx *gin.Context) {
	userID, err := credits.NewUserID(ctx.Param("userId"))
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	status, err := handler.credits.GetRateLimitStatus(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"remaining": status.Remaining, "maxRequests": status.MaxRequests})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, err := credits.NewUserID(ctx.Param("userId"))
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			respondError(ctx, handler.logger, fmt.Errorf("%w: %q", credits.ErrInvalidListLimit, raw))
			return
		}
	}
	transactions, err := handler.credits.ListTransactions(ctx.Request.Context(), userID, limit)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": newTransactionPayloads(transactions)})
}

func (handler *httpHandler) handleEstimate(ctx *gin.Context) {
	var request estimateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	activityTypes := make([]credits.ActivityType, 0, len(request.ActivityTypes))
	for _, raw := range request.ActivityTypes {
		activityTypes = append(activityTypes, credits.ActivityType(raw))
	}
	estimate, err := handler.credits.EstimateActivityCost(activityTypes, request.Quantities)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	respondEstimate(ctx, estimate)
}

func (handler *httpHandler) handleCatalog(ctx *gin.Context) {
	configs := handler.credits.Catalog().Configs()
	entries := make([]activityPayload, 0, len(configs))
	for _, config := range configs {
		entries = append(entries, activityPayload{
			ActivityType:         config.ActivityType.String(),
			Cost:                 config.Cost.Credits(),
			CostCents:            config.Cost.Int64(),
			Category:             string(config.Category),
			RequiresConfirmation: config.RequiresConfirmation,
			Description:          config.Description,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"activities": entries})
}

func respondEstimate(ctx *gin.Context, estimate credits.CostEstimate) {
	breakdown := make([]breakdownPayload, 0, len(estimate.Breakdown))
	for _, item := range estimate.Breakdown {
		breakdown = append(breakdown, breakdownPayload{
			ActivityType:  item.ActivityType.String(),
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost.Credits(),
			Subtotal:      item.Subtotal.Credits(),
			SubtotalCents: item.Subtotal.Int64(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"totalCost":      estimate.TotalCost.Credits(),
		"totalCostCents": estimate.TotalCost.Int64(),
		"breakdown":      breakdown,
	})
}

// requestAmount prefers amountCents over the decimal credit amount.
func requestAmount(request addRequest) (credits.CreditCents, error) {
	if request.AmountCents != nil {
		return credits.NewPositiveCreditCents(*request.AmountCents)
	}
	if request.Amount == nil {
		return 0, fmt.Errorf("%w: amount is required", credits.ErrInvalidAmount)
	}
	return credits.CreditCentsFromCredits(*request.Amount)
}
