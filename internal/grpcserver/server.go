package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorRateLimitExceeded       = "rate_limit_exceeded"
	errorInvalidActivityType     = "invalid_activity_type"
	errorInsufficientCredits     = "insufficient_credits"
	errorAccountSuspended        = "account_suspended"
	errorDuplicateIdempotencyKey = "duplicate_idempotency_key"
	errorInvalidUserID           = "invalid_user_id"
	errorInvalidAmount           = "invalid_amount"
	errorInvalidTransactionType  = "invalid_transaction_type"
	errorInvalidEstimate         = "invalid_estimate"
	errorInvalidListLimit        = "invalid_list_limit"
	errorInvalidRequest          = "invalid_request"
)

const maxExactInteger = 1 << 53

var errInvalidRequest = errors.New("invalid request")

// CreditServiceServer exposes the credit ledger over gRPC.
type CreditServiceServer struct {
	creditService *credits.Service
}

// NewCreditServiceServer constructs a gRPC server for the credit service.
func NewCreditServiceServer(creditService *credits.Service) *CreditServiceServer {
	return &CreditServiceServer{creditService: creditService}
}

// NewServer builds a grpc.Server carrying the credit service and the standard health service.
func NewServer(creditService *credits.Service, logger *zap.Logger, options ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	options = append(options, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	server := grpc.NewServer(options...)
	RegisterCreditServiceHandler(server, NewCreditServiceServer(creditService))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)
	healthgrpc.RegisterHealthServer(server, healthServer)
	return server
}

func (service *CreditServiceServer) CheckCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := credits.NewUserID(stringField(request, "userId"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	quantity, err := intField(request, "quantity")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	verification, err := service.creditService.CheckCreditsAvailable(ctx, userID, credits.ActivityType(stringField(request, "activityType")), credits.CheckOptions{Quantity: quantity})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	payload := map[string]interface{}{
		"sufficient":     verification.Sufficient,
		"requiredCents":  verification.Required.Int64(),
		"availableCents": verification.Available.Int64(),
		"required":       verification.Required.Credits(),
		"available":      verification.Available.Credits(),
		"activityType":   string(verification.ActivityType),
	}
	if verification.EstimatedUsage != nil {
		payload["estimatedUsageCents"] = verification.EstimatedUsage.Int64()
	}
	return newStruct(payload)
}

func (service *CreditServiceServer) AddCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := credits.NewUserID(stringField(request, "userId"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := amountField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, balance, err := service.creditService.AddCredits(ctx, credits.AddCreditsRequest{
		UserID:         userID,
		Amount:         amount,
		Description:    stringField(request, "description"),
		Type:           credits.TransactionType(stringField(request, "type")),
		IdempotencyKey: stringField(request, "idempotencyKey"),
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]interface{}{
		"transaction":  transactionPayload(transaction),
		"balanceCents": balance.Int64(),
		"balance":      balance.Credits(),
	})
}

func (service *CreditServiceServer) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := credits.NewUserID(stringField(request, "userId"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := service.creditService.GetBalance(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]interface{}{
		"balanceCents": balance.Int64(),
		"balance":      balance.Credits(),
	})
}

func (service *CreditServiceServer) GetRateLimitStatus(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := credits.NewUserID(stringField(request, "userId"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rateLimit, err := service.creditService.GetRateLimitStatus(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]interface{}{
		"remaining":   rateLimit.Remaining,
		"maxRequests": rateLimit.MaxRequests,
	})
}

func (service *CreditServiceServer) ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := credits.NewUserID(stringField(request, "userId"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := intField(request, "limit")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactions, err := service.creditService.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	items := make([]interface{}, 0, len(transactions))
	for _, transaction := range transactions {
		items = append(items, transactionPayload(transaction))
	}
	return newStruct(map[string]interface{}{"transactions": items})
}

func (service *CreditServiceServer) EstimateCost(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	rawTypes := listField(request, "activityTypes")
	activityTypes := make([]credits.ActivityType, 0, len(rawTypes))
	for _, value := range rawTypes {
		raw, ok := value.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, mapToGRPCError(fmt.Errorf("%w: activityTypes must be strings", errInvalidRequest))
		}
		activityTypes = append(activityTypes, credits.ActivityType(raw.StringValue))
	}
	rawQuantities := listField(request, "quantities")
	quantities := make([]int, 0, len(rawQuantities))
	for _, value := range rawQuantities {
		quantity, err := wholeNumber(value)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		quantities = append(quantities, quantity)
	}
	estimate, err := service.creditService.EstimateActivityCost(activityTypes, quantities)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	breakdown := make([]interface{}, 0, len(estimate.Breakdown))
	for _, item := range estimate.Breakdown {
		breakdown = append(breakdown, map[string]interface{}{
			"activityType":  string(item.ActivityType),
			"quantity":      item.Quantity,
			"unitCostCents": item.UnitCost.Int64(),
			"subtotalCents": item.Subtotal.Int64(),
		})
	}
	return newStruct(map[string]interface{}{
		"totalCostCents": estimate.TotalCost.Int64(),
		"totalCost":      estimate.TotalCost.Credits(),
		"breakdown":      breakdown,
	})
}

func transactionPayload(transaction credits.CreditTransaction) map[string]interface{} {
	payload := map[string]interface{}{
		"id":           transaction.ID,
		"userId":       transaction.UserID.String(),
		"type":         transaction.Type.String(),
		"amountCents":  transaction.Amount.Int64(),
		"amount":       transaction.Amount.Credits(),
		"description":  transaction.Description,
		"status":       string(transaction.Status),
		"timestamp":    transaction.Timestamp.UTC().Format(time.RFC3339Nano),
		"activityId":   transaction.ActivityID,
		"activityType": string(transaction.ActivityType),
	}
	if transaction.CompletedAt != nil {
		payload["completedAt"] = transaction.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func newStruct(payload map[string]interface{}) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func stringField(request *structpb.Struct, key string) string {
	return request.GetFields()[key].GetStringValue()
}

func listField(request *structpb.Struct, key string) []*structpb.Value {
	return request.GetFields()[key].GetListValue().GetValues()
}

// intField returns zero for a missing key.
func intField(request *structpb.Struct, key string) (int, error) {
	value, ok := request.GetFields()[key]
	if !ok {
		return 0, nil
	}
	return wholeNumber(value)
}

// wholeNumber accepts integral numbers a float64 represents exactly.
func wholeNumber(value *structpb.Value) (int, error) {
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok || number.NumberValue != math.Trunc(number.NumberValue) {
		return 0, fmt.Errorf("%w: expected a whole number", errInvalidRequest)
	}
	if math.Abs(number.NumberValue) > maxExactInteger {
		return 0, fmt.Errorf("%w: %v is out of range", errInvalidRequest, number.NumberValue)
	}
	return int(number.NumberValue), nil
}

// amountField reads amountCents, falling back to a credit amount.
func amountField(request *structpb.Struct) (credits.CreditCents, error) {
	fields := request.GetFields()
	if value, ok := fields["amountCents"]; ok {
		cents, err := wholeNumber(value)
		if err != nil {
			return 0, err
		}
		return credits.NewPositiveCreditCents(int64(cents))
	}
	value, ok := fields["amount"]
	if !ok {
		return 0, fmt.Errorf("%w: amount is required", credits.ErrInvalidAmount)
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: amount must be a number", credits.ErrInvalidAmount)
	}
	return credits.CreditCentsFromCredits(number.NumberValue)
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(started)),
		}
		if err != nil {
			logger.Warn("grpc request failed", append(fields, zap.Error(err))...)
			return response, err
		}
		logger.Debug("grpc request", fields...)
		return response, nil
	}
}

func mapToGRPCError(source error) error {
	if errors.Is(source, credits.ErrRateLimitExceeded) {
		return status.Error(codes.ResourceExhausted, errorRateLimitExceeded)
	}
	if errors.Is(source, credits.ErrInvalidActivityType) {
		return status.Error(codes.NotFound, errorInvalidActivityType)
	}
	if errors.Is(source, credits.ErrInsufficientCredits) {
		return status.Error(codes.FailedPrecondition, errorInsufficientCredits)
	}
	if errors.Is(source, credits.ErrAccountSuspended) {
		return status.Error(codes.FailedPrecondition, errorAccountSuspended)
	}
	if errors.Is(source, credits.ErrDuplicateIdempotencyKey) {
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotencyKey)
	}
	if errors.Is(source, credits.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, credits.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, credits.ErrInvalidTransactionType) {
		return status.Error(codes.InvalidArgument, errorInvalidTransactionType)
	}
	if errors.Is(source, credits.ErrInvalidEstimate) {
		return status.Error(codes.InvalidArgument, errorInvalidEstimate)
	}
	if errors.Is(source, credits.ErrInvalidListLimit) {
		return status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	if errors.Is(source, errInvalidRequest) {
		return status.Error(codes.InvalidArgument, errorInvalidRequest)
	}
	return status.Error(codes.Internal, source.Error())
}
