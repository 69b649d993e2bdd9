package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTick(t *testing.T) {
	before := testutil.ToFloat64(ticksTotal.WithLabelValues("cron", "ok"))
	RecordTick("cron", "ok", 2*time.Second)
	RecordTick("cron", "ok", 0)
	if got := testutil.ToFloat64(ticksTotal.WithLabelValues("cron", "ok")); got != before+2 {
		t.Errorf("expected %v ticks, got %v", before+2, got)
	}
}

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("sent", "water"))
	RecordJob("sent", "water")
	RecordJob("failed", "water")
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("sent", "water")); got != before+1 {
		t.Errorf("expected %v sent water jobs, got %v", before+1, got)
	}
}

func TestSetRemindersScanned(t *testing.T) {
	SetRemindersScanned(42)
	if got := testutil.ToFloat64(remindersScanned); got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
	SetRemindersScanned(0)
}

func TestSetBreakerOpen(t *testing.T) {
	SetBreakerOpen("push", true)
	if got := testutil.ToFloat64(breakerOpen.WithLabelValues("push")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	SetBreakerOpen("push", false)
	if got := testutil.ToFloat64(breakerOpen.WithLabelValues("push")); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestRecorders(t *testing.T) {
	RecordReminderMatched()
	RecordReminderSkipped("no_token")
	RecordDispatch("ok", 120*time.Millisecond)
	RecordJobsReconciled(3)
	RecordDuplicateJob()
	RecordRateLimitRejection("ip:10.0.0.1")
	SetDBConnections(4)
	SetRedisConnections(2)
}

func TestHandler(t *testing.T) {
	RecordTick("http", "ok", time.Second)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "zenpush_ticks_total") {
		t.Error("metrics output should include zenpush_ticks_total")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusAccepted)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/v1/ticks", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
