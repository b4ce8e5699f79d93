package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.EmailsSentTotal == nil {
		t.Error("EmailsSentTotal is nil")
	}
	if m.EmailsFailedTotal == nil {
		t.Error("EmailsFailedTotal is nil")
	}
	if m.SendDurationSeconds == nil {
		t.Error("SendDurationSeconds is nil")
	}
	if m.BulkJobsTotal == nil {
		t.Error("BulkJobsTotal is nil")
	}
	if m.BulkJobActive == nil {
		t.Error("BulkJobActive is nil")
	}
	if m.EventsDroppedTotal == nil {
		t.Error("EventsDroppedTotal is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
}

func TestGlobalHelpers(t *testing.T) {
	SetGlobal(nil)

	// Helpers must be safe without a global instance
	IncEmailsSent("test")
	IncEmailsFailed("test", "smtp")
	JobStarted(10)
	JobFinished("completed")

	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	if Global() != m {
		t.Fatal("Global() did not return the set metrics")
	}

	IncEmailsSent("primary")
	IncEmailsFailed("primary", "smtp")
	ObserveSendDuration(0.2)
	JobStarted(5)
	SetJobRemaining(3)
	JobFinished("completed")
	IncTagValuesConsumed()
	IncEventsDropped()
	ObserveAPIRequest("GET", "/api/emails", "200", 0.01)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.EmailsSentTotal.WithLabelValues("primary").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mailburst_emails_sent_total") {
		t.Error("exposition missing mailburst_emails_sent_total")
	}
}
