package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/inglespareto/credits/internal/ratelimit"
	"github.com/inglespareto/credits/internal/store/memstore"
	"github.com/inglespareto/credits/pkg/credits"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufconnSize = 1 << 20

type testClient struct {
	credits *CreditServiceClient
	health  healthgrpc.HealthClient
}

func startCreditClient(test *testing.T, maxRequests int) testClient {
	test.Helper()
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Window: time.Minute, MaxRequests: maxRequests})
	if err != nil {
		test.Fatalf("limiter init failed: %v", err)
	}
	test.Cleanup(func() { _ = limiter.Close() })
	service, err := credits.NewService(memstore.New(), limiter, credits.DefaultCatalog())
	if err != nil {
		test.Fatalf("credit service init failed: %v", err)
	}
	test.Cleanup(service.Close)

	listener := bufconn.Listen(bufconnSize)
	grpcServer := NewServer(service, zap.NewNop())
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	conn.Connect()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := waitForClientReady(waitCtx, conn); err != nil {
		test.Fatalf("gRPC client failed to connect: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return testClient{credits: NewCreditServiceClient(conn), health: healthgrpc.NewHealthClient(conn)}
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

func mustStruct(test *testing.T, payload map[string]interface{}) *structpb.Struct {
	test.Helper()
	request, err := structpb.NewStruct(payload)
	if err != nil {
		test.Fatalf("struct build failed: %v", err)
	}
	return request
}

func numberOf(response *structpb.Struct, key string) float64 {
	return response.GetFields()[key].GetNumberValue()
}

func TestCreditServiceRoundTrip(test *testing.T) {
	test.Parallel()
	client := startCreditClient(test, 50)
	ctx := context.Background()

	added, err := client.credits.AddCredits(ctx, mustStruct(test, map[string]interface{}{
		"userId":         "student-1",
		"amount":         10,
		"description":    "starter pack",
		"idempotencyKey": "purchase-1",
	}))
	if err != nil {
		test.Fatalf("add credits failed: %v", err)
	}
	if numberOf(added, "balanceCents") != 1000 {
		test.Fatalf("expected 1000 cents after purchase, got %v", numberOf(added, "balanceCents"))
	}
	transaction := added.GetFields()["transaction"].GetStructValue()
	if transaction.GetFields()["type"].GetStringValue() != "purchase" {
		test.Fatalf("expected purchase transaction, got %v", transaction.GetFields()["type"])
	}

	balance, err := client.credits.GetBalance(ctx, mustStruct(test, map[string]interface{}{"userId": "student-1"}))
	if err != nil {
		test.Fatalf("get balance failed: %v", err)
	}
	if numberOf(balance, "balance") != 10 {
		test.Fatalf("expected 10 credits, got %v", numberOf(balance, "balance"))
	}

	verification, err := client.credits.CheckCredits(ctx, mustStruct(test, map[string]interface{}{
		"userId":       "student-1",
		"activityType": "individual",
		"quantity":     4,
	}))
	if err != nil {
		test.Fatalf("check credits failed: %v", err)
	}
	if !verification.GetFields()["sufficient"].GetBoolValue() {
		test.Fatalf("expected sufficient credits")
	}
	if numberOf(verification, "requiredCents") != 300 || numberOf(verification, "estimatedUsageCents") != 1200 {
		test.Fatalf("unexpected verification: %v", verification)
	}

	rateLimit, err := client.credits.GetRateLimitStatus(ctx, mustStruct(test, map[string]interface{}{"userId": "student-1"}))
	if err != nil {
		test.Fatalf("rate limit status failed: %v", err)
	}
	if numberOf(rateLimit, "remaining") != 49 || numberOf(rateLimit, "maxRequests") != 50 {
		test.Fatalf("unexpected rate limit status: %v", rateLimit)
	}

	listed, err := client.credits.ListTransactions(ctx, mustStruct(test, map[string]interface{}{"userId": "student-1"}))
	if err != nil {
		test.Fatalf("list transactions failed: %v", err)
	}
	if len(listed.GetFields()["transactions"].GetListValue().GetValues()) != 1 {
		test.Fatalf("expected one transaction, got %v", listed)
	}

	estimate, err := client.credits.EstimateCost(ctx, mustStruct(test, map[string]interface{}{
		"activityTypes": []interface{}{"ai-chat-message", "individual"},
		"quantities":    []interface{}{10},
	}))
	if err != nil {
		test.Fatalf("estimate failed: %v", err)
	}
	if numberOf(estimate, "totalCostCents") != 400 {
		test.Fatalf("expected 400 cents estimate, got %v", numberOf(estimate, "totalCostCents"))
	}
	if len(estimate.GetFields()["breakdown"].GetListValue().GetValues()) != 2 {
		test.Fatalf("expected two breakdown lines, got %v", estimate)
	}
}

func TestCreditServiceErrorCodes(test *testing.T) {
	test.Parallel()
	client := startCreditClient(test, 50)
	ctx := context.Background()
	if _, err := client.credits.AddCredits(ctx, mustStruct(test, map[string]interface{}{
		"userId":         "student-2",
		"amountCents":    100,
		"idempotencyKey": "purchase-dup",
	})); err != nil {
		test.Fatalf("seed purchase failed: %v", err)
	}

	testCases := []struct {
		name    string
		call    func() error
		code    codes.Code
		message string
	}{
		{
			name: "invalid user",
			call: func() error {
				_, err := client.credits.GetBalance(ctx, mustStruct(test, map[string]interface{}{"userId": "  "}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidUserID,
		},
		{
			name: "unknown activity",
			call: func() error {
				_, err := client.credits.CheckCredits(ctx, mustStruct(test, map[string]interface{}{"userId": "student-2", "activityType": "karaoke"}))
				return err
			},
			code:    codes.NotFound,
			message: errorInvalidActivityType,
		},
		{
			name: "duplicate idempotency key",
			call: func() error {
				_, err := client.credits.AddCredits(ctx, mustStruct(test, map[string]interface{}{"userId": "student-2", "amountCents": 100, "idempotencyKey": "purchase-dup"}))
				return err
			},
			code:    codes.AlreadyExists,
			message: errorDuplicateIdempotencyKey,
		},
		{
			name: "non positive amount",
			call: func() error {
				_, err := client.credits.AddCredits(ctx, mustStruct(test, map[string]interface{}{"userId": "student-2", "amountCents": 0}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidAmount,
		},
		{
			name: "usage type rejected",
			call: func() error {
				_, err := client.credits.AddCredits(ctx, mustStruct(test, map[string]interface{}{"userId": "student-2", "amount": 1, "type": "usage"}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidTransactionType,
		},
		{
			name: "list limit above maximum",
			call: func() error {
				_, err := client.credits.ListTransactions(ctx, mustStruct(test, map[string]interface{}{"userId": "student-2", "limit": 500}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidListLimit,
		},
		{
			name: "fractional quantity",
			call: func() error {
				_, err := client.credits.EstimateCost(ctx, mustStruct(test, map[string]interface{}{
					"activityTypes": []interface{}{"quiz-attempt"},
					"quantities":    []interface{}{1.5},
				}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidRequest,
		},
		{
			name: "too many quantities",
			call: func() error {
				_, err := client.credits.EstimateCost(ctx, mustStruct(test, map[string]interface{}{
					"activityTypes": []interface{}{"quiz-attempt"},
					"quantities":    []interface{}{1, 2},
				}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidEstimate,
		},
		{
			name: "quantity beyond exact float range",
			call: func() error {
				_, err := client.credits.EstimateCost(ctx, mustStruct(test, map[string]interface{}{
					"activityTypes": []interface{}{"individual"},
					"quantities":    []interface{}{1e17},
				}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidRequest,
		},
		{
			name: "overflowing total",
			call: func() error {
				_, err := client.credits.EstimateCost(ctx, mustStruct(test, map[string]interface{}{
					"activityTypes": []interface{}{"individual", "individual", "individual", "individual"},
					"quantities":    []interface{}{float64(maxExactInteger), float64(maxExactInteger), float64(maxExactInteger), float64(maxExactInteger)},
				}))
				return err
			},
			code:    codes.InvalidArgument,
			message: errorInvalidEstimate,
		},
	}

	for _, testCase := range testCases {
		err := testCase.call()
		if status.Code(err) != testCase.code {
			test.Fatalf("%s: expected code %v, got %v (%v)", testCase.name, testCase.code, status.Code(err), err)
		}
		if status.Convert(err).Message() != testCase.message {
			test.Fatalf("%s: expected message %q, got %q", testCase.name, testCase.message, status.Convert(err).Message())
		}
	}
}

func TestCheckCreditsRateLimited(test *testing.T) {
	test.Parallel()
	client := startCreditClient(test, 2)
	ctx := context.Background()
	request := mustStruct(test, map[string]interface{}{"userId": "student-3", "activityType": "quiz-attempt"})
	for attempt := 0; attempt < 2; attempt++ {
		response, err := client.credits.CheckCredits(ctx, request)
		if err != nil {
			test.Fatalf("check %d failed: %v", attempt, err)
		}
		if response.GetFields()["sufficient"].GetBoolValue() {
			test.Fatalf("expected insufficient credits for an empty account")
		}
	}
	_, err := client.credits.CheckCredits(ctx, request)
	if status.Code(err) != codes.ResourceExhausted {
		test.Fatalf("expected resource exhausted, got %v", err)
	}
}

func TestHealthServing(test *testing.T) {
	test.Parallel()
	client := startCreditClient(test, 50)
	response, err := client.health.Check(context.Background(), &healthgrpc.HealthCheckRequest{Service: serviceName})
	if err != nil {
		test.Fatalf("health check failed: %v", err)
	}
	if response.GetStatus() != healthgrpc.HealthCheckResponse_SERVING {
		test.Fatalf("expected serving, got %v", response.GetStatus())
	}
}
