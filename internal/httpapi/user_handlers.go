package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inglespareto/credits/internal/activities"
	"github.com/inglespareto/credits/pkg/credits"
)

const slotDateLayout = "2006-01-02"

type chatMessageRequest struct {
	Message string                   `json:"message"`
	History []activities.ChatMessage `json:"history"`
}

type lessonRequest struct {
	LessonType string    `json:"lessonType"`
	Start      time.Time `json:"start"`
	Notes      string    `json:"notes"`
}

type scoreRequest struct {
	Score  int  `json:"score"`
	Passed bool `json:"passed"`
}

type slotPayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// sessionUser resolves the signed-in student or writes a 401.
func (handler *httpHandler) sessionUser(ctx *gin.Context) (credits.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing session"))
		return credits.UserID{}, false
	}
	userID, err := credits.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "session has no user"))
		return credits.UserID{}, false
	}
	return userID, true
}

func featureUnavailable(ctx *gin.Context, feature string) {
	ctx.JSON(http.StatusServiceUnavailable, errorResponse(codeFeatureUnavailable, feature+" is not configured"))
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx := ctx.Request.Context()
	balance, err := handler.credits.GetBalance(requestCtx, userID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	transactions, err := handler.credits.ListTransactions(requestCtx, userID, walletHistoryLimit)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	rateLimit, err := handler.credits.GetRateLimitStatus(requestCtx, userID)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet": gin.H{
			"balance":      balance.Credits(),
			"balanceCents": balance.Int64(),
			"transactions": newTransactionPayloads(transactions),
			"rateLimit":    gin.H{"remaining": rateLimit.Remaining, "maxRequests": rateLimit.MaxRequests},
		},
	})
}

func (handler *httpHandler) handleChatMessage(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	if handler.chat == nil {
		featureUnavailable(ctx, "chat")
		return
	}
	var request chatMessageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	result := handler.chat.SendMessage(ctx.Request.Context(), userID, activities.ChatRequest{Message: request.Message, History: request.History})
	respondResult(ctx, handler.logger, result, "reply")
}

func (handler *httpHandler) handleBookLesson(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	if handler.booking == nil {
		featureUnavailable(ctx, "lesson booking")
		return
	}
	var request lessonRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body with an RFC 3339 start"))
		return
	}
	result := handler.booking.BookLesson(ctx.Request.Context(), userID, activities.LessonRequest{
		LessonType:   credits.ActivityType(request.LessonType),
		Start:        request.Start,
		StudentEmail: getClaims(ctx).GetUserEmail(),
		Notes:        request.Notes,
	})
	respondResult(ctx, handler.logger, result, "booking")
}

func (handler *httpHandler) handleLessonSlots(ctx *gin.Context) {
	if _, ok := handler.sessionUser(ctx); !ok {
		return
	}
	if handler.booking == nil {
		featureUnavailable(ctx, "lesson booking")
		return
	}
	day, err := time.Parse(slotDateLayout, ctx.Query("date"))
	if err != nil {
		respondError(ctx, handler.logger, fmt.Errorf("%w: date must be YYYY-MM-DD", activities.ErrInvalidRequest))
		return
	}
	slots, err := handler.booking.AvailableSlots(ctx.Request.Context(), day)
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	payload := make([]slotPayload, 0, len(slots))
	for _, slot := range slots {
		payload = append(payload, slotPayload{Start: slot.Start, End: slot.End})
	}
	ctx.JSON(http.StatusOK, gin.H{"slots": payload})
}

func (handler *httpHandler) handleCompleteUnit(ctx *gin.Context) {
	userID, request, ok := handler.learningRequest(ctx)
	if !ok {
		return
	}
	result := handler.learning.CompleteUnit(ctx.Request.Context(), userID, ctx.Param("unitId"), request.Score)
	respondResult(ctx, handler.logger, result, "progress")
}

func (handler *httpHandler) handleStartPath(ctx *gin.Context) {
	userID, _, ok := handler.learningRequest(ctx)
	if !ok {
		return
	}
	result := handler.learning.StartPath(ctx.Request.Context(), userID, ctx.Param("pathId"))
	respondResult(ctx, handler.logger, result, "progress")
}

func (handler *httpHandler) handleQuizAttempt(ctx *gin.Context) {
	userID, request, ok := handler.learningRequest(ctx)
	if !ok {
		return
	}
	result := handler.learning.RecordQuizAttempt(ctx.Request.Context(), userID, ctx.Param("quizId"), request.Score, request.Passed)
	respondResult(ctx, handler.logger, result, "progress")
}

func (handler *httpHandler) handleCompleteExercise(ctx *gin.Context) {
	userID, _, ok := handler.learningRequest(ctx)
	if !ok {
		return
	}
	result := handler.learning.CompleteExercise(ctx.Request.Context(), userID, ctx.Param("exerciseId"))
	respondResult(ctx, handler.logger, result, "progress")
}

func (handler *httpHandler) handleEstimatePath(ctx *gin.Context) {
	if _, ok := handler.sessionUser(ctx); !ok {
		return
	}
	if handler.learning == nil {
		featureUnavailable(ctx, "learning")
		return
	}
	units, unitsErr := strconv.Atoi(ctx.DefaultQuery("units", "0"))
	quizzes, quizzesErr := strconv.Atoi(ctx.DefaultQuery("quizzes", "0"))
	if unitsErr != nil || quizzesErr != nil {
		respondError(ctx, handler.logger, fmt.Errorf("%w: units and quizzes must be integers", activities.ErrInvalidRequest))
		return
	}
	estimate, err := handler.learning.EstimatePath(activities.PathPlan{PathID: ctx.Param("pathId"), Units: units, Quizzes: quizzes})
	if err != nil {
		respondError(ctx, handler.logger, err)
		return
	}
	respondEstimate(ctx, estimate)
}

// learningRequest resolves the session and an optional score body.
func (handler *httpHandler) learningRequest(ctx *gin.Context) (credits.UserID, scoreRequest, bool) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return credits.UserID{}, scoreRequest{}, false
	}
	if handler.learning == nil {
		featureUnavailable(ctx, "learning")
		return credits.UserID{}, scoreRequest{}, false
	}
	var request scoreRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return credits.UserID{}, scoreRequest{}, false
	}
	return userID, request, true
}
