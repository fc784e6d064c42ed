package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsCalls(t *testing.T) {
	r := New(nil)
	r.ObserveCall("execute", "fund_agent", "", time.Millisecond)
	r.ObserveCall("execute", "fund_agent", "INSUFFICIENT_BALANCE", time.Millisecond)
	r.ObserveCall("execute", "fund_agent", "", time.Millisecond)
	r.AddTransfers(2)
	r.ObserveSettlement("settled")

	if got := testutil.ToFloat64(r.calls.WithLabelValues("execute", "fund_agent", "OK")); got != 2 {
		t.Fatalf("expected 2 successful calls, got %v", got)
	}
	if got := testutil.ToFloat64(r.transfers); got != 2 {
		t.Fatalf("expected 2 transfers, got %v", got)
	}
	if got := testutil.ToFloat64(r.settlements.WithLabelValues("settled")); got != 1 {
		t.Fatalf("expected 1 settlement, got %v", got)
	}
}

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	r := New(nil)
	r.ObserveHTTPRequest("/api/v1/execute", "POST", 200, 30*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `agentledger_http_requests_total{code="200",handler="/api/v1/execute",method="POST"} 1`) {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveCall("query", "config", "", time.Millisecond)
	r.ObserveHTTPRequest("/healthz", "GET", 200, time.Millisecond)
	r.AddTransfers(1)
	r.ObserveSettlement("failed")
}
