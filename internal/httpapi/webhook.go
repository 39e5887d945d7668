package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inglespareto/credits/pkg/credits"
	"go.uber.org/zap"
)

const (
	paymentStatusApproved    = "approved"
	idempotencyPrefixPayment = "payment:"
	paymentDescription       = "Credit purchase"
)

type paymentNotification struct {
	PaymentID string  `json:"paymentId"`
	UserID    string  `json:"userId"`
	Status    string  `json:"status"`
	Credits   float64 `json:"credits"`
}

// handlePaymentWebhook grants purchased credits once per approved payment.
func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "unreadable body"))
		return
	}
	if !validSignature(body, ctx.GetHeader(signatureHeader), handler.cfg.PaymentWebhookSecret) {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeInvalidSignature, "signature mismatch"))
		return
	}
	var notification paymentNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	paymentID := strings.TrimSpace(notification.PaymentID)
	if paymentID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "paymentId is required"))
		return
	}
	if !strings.EqualFold(notification.Status, paymentStatusApproved) {
		ctx.JSON(http.StatusAccepted, gin.H{"processed": false, "status": notification.Status})
		return
	}
	userID, err := credits.NewUserID(notification.UserID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	amount, err := credits.CreditCentsFromCredits(notification.Credits)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	transaction, balance, err := handler.credits.AddCredits(ctx.Request.Context(), credits.AddCreditsRequest{
		UserID:         userID,
		Amount:         amount,
		Description:    fmt.Sprintf("%s %s", paymentDescription, paymentID),
		Type:           credits.TransactionPurchase,
		IdempotencyKey: idempotencyPrefixPayment + paymentID,
	})
	if errors.Is(err, credits.ErrDuplicateIdempotencyKey) {
		ctx.JSON(http.StatusOK, gin.H{"processed": false, "duplicate": true})
		return
	}
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	handler.logger.Info("payment credited",
		zap.String("payment_id", paymentID),
		zap.String("user_id", userID.String()),
		zap.Int64("amount_cents", amount.Int64()),
	)
	ctx.JSON(http.StatusOK, gin.H{
		"processed":    true,
		"transaction":  newTransactionPayload(transaction),
		"balanceCents": balance.Int64(),
	})
}
