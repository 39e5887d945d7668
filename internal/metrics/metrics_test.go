package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
)

func TestRecorderExposesOperationCounters(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	ctx := context.Background()
	recorder.LogOperation(ctx, credits.OperationLog{Operation: "confirm", Status: "ok", Amount: 300, Attempts: 2, ActivityType: credits.ActivityIndividualLesson})
	recorder.LogOperation(ctx, credits.OperationLog{Operation: "confirm", Status: "ok", Amount: 100, Attempts: 1, ActivityType: credits.ActivityIndividualLesson})
	recorder.LogOperation(ctx, credits.OperationLog{Operation: "suspend", Status: "critical", Error: credits.ErrAccountSuspended})
	recorder.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	server := httptest.NewServer(recorder.Handler())
	test.Cleanup(server.Close)
	response, err := server.Client().Get(server.URL)
	if err != nil {
		test.Fatalf("scrape failed: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		test.Fatalf("read failed: %v", err)
	}
	exposition := string(body)

	expectedLines := []string{
		`credits_operations_total{operation="confirm",status="ok"} 2`,
		`credits_operations_total{operation="suspend",status="critical"} 1`,
		`credits_amount_cents_total{operation="confirm"} 400`,
		`credits_critical_events_total 1`,
		`credits_executor_attempts_count{activity_type="individual"} 2`,
		`credits_http_request_duration_seconds_count{code="200",method="GET",route="/healthz"} 1`,
	}
	for _, line := range expectedLines {
		if !strings.Contains(exposition, line) {
			test.Fatalf("expected %q in exposition:\n%s", line, exposition)
		}
	}
}
