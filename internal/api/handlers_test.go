package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mailburst/mailburst/internal/config"
	"github.com/mailburst/mailburst/internal/dispatch"
	"github.com/mailburst/mailburst/internal/events"
	"github.com/mailburst/mailburst/internal/render"
	"github.com/mailburst/mailburst/internal/sentinel"
	"github.com/mailburst/mailburst/internal/smtpx"
	"github.com/mailburst/mailburst/internal/store"
	"github.com/mailburst/mailburst/internal/vault"
)

// stubDialer pretends every delivery succeeds.
type stubDialer struct {
	mu    sync.Mutex
	sends []string
}

type stubConn struct{ d *stubDialer }

func (d *stubDialer) Dial(cfg store.ServerConfig) (dispatch.Conn, error) {
	return &stubConn{d: d}, nil
}

func (c *stubConn) Send(from, to string, data []byte) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.sends = append(c.d.sends, to)
	return nil
}

func (c *stubConn) Close() error { return nil }

type testServer struct {
	server  *Server
	dialer  *stubDialer
	servers *store.ServerRepository
	vault   *vault.Vault
}

func newTestServer(t *testing.T, auth config.AuthConfig) *testServer {
	t.Helper()

	dir := t.TempDir()
	db, err := store.New(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	v, err := vault.Open(filepath.Join(dir, "vault.db"))
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	t.Cleanup(func() { v.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	servers := store.NewServerRepository(db)
	emails := store.NewEmailRepository(db)
	templates := store.NewTemplateRepository(db)
	broadcaster := events.NewBroadcaster(1024)
	dialer := &stubDialer{}
	snt := sentinel.New([]string{"rate limit"}, []int{421})

	scheduler := dispatch.New(servers, emails, render.New(v), snt, broadcaster, dialer, logger)

	srv := NewServer(Deps{
		Scheduler:   scheduler,
		Servers:     servers,
		Emails:      emails,
		Templates:   templates,
		Vault:       v,
		Broadcaster: broadcaster,
		Dialer:      smtpx.NewDialer(2*time.Second, "test.local", false, logger),
		Auth:        auth,
		ListenAddr:  ":0",
		Version:     "test",
		Logger:      logger,
	})

	return &testServer{server: srv, dialer: dialer, servers: servers, vault: v}
}

func (ts *testServer) addServer(t *testing.T, name string, active bool) *store.ServerConfig {
	t.Helper()
	cfg := &store.ServerConfig{
		Name:      name,
		Host:      "smtp.example.com",
		Port:      587,
		FromEmail: "noreply@example.com",
		IsActive:  active,
	}
	if err := ts.servers.Create(cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return cfg
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleSend(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)

	rec := ts.request(t, "POST", "/api/emails/send", SendRequest{
		To:      "rcpt@example.org",
		Subject: "hi",
		Body:    "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeJSON[SendResponse](t, rec)
	if !resp.Success {
		t.Errorf("success = false, want true")
	}
	if len(ts.dialer.sends) != 1 || ts.dialer.sends[0] != "rcpt@example.org" {
		t.Errorf("sends = %v, want [rcpt@example.org]", ts.dialer.sends)
	}
}

func TestHandleSendValidation(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)

	tests := []struct {
		name string
		req  SendRequest
	}{
		{"missing to", SendRequest{Subject: "s", Body: "b"}},
		{"missing subject", SendRequest{To: "a@x.com", Body: "b"}},
		{"bad encoding", SendRequest{To: "a@x.com", Subject: "s", Body: "b", Encoding: "binary"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.request(t, "POST", "/api/emails/send", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleSendNoActiveServers(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", false)

	rec := ts.request(t, "POST", "/api/emails/send", SendRequest{
		To: "a@x.com", Subject: "s", Body: "b",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSendBulkWait(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)

	rec := ts.request(t, "POST", "/api/emails/send-bulk?wait=true", BulkSendRequest{
		Emails:  "a@x.com\nb@x.com, c@x.com",
		Subject: "s",
		Body:    "b",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeJSON[SendResponse](t, rec)
	if resp.Sent == nil || *resp.Sent != 3 {
		t.Errorf("sent = %v, want 3", resp.Sent)
	}
	if resp.Failed == nil || *resp.Failed != 0 {
		t.Errorf("failed = %v, want 0", resp.Failed)
	}
}

func TestHandleSendBulkAsync(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)
	sub := ts.server.broadcaster.Subscribe()
	defer sub.Close()

	rec := ts.request(t, "POST", "/api/emails/send-bulk", BulkSendRequest{
		Emails:  "a@x.com",
		Subject: "s",
		Body:    "b",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body)
	}

	// The job runs in the background; wait for its terminal event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt := <-sub.C:
			if evt.Type == events.TypeComplete {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for completion")
		}
	}
}

func TestHandleSendBulkRejectsSecondJob(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)

	// A slow job: 60 recipients with 1s delay keeps it running while
	// the second request arrives.
	var recipients []string
	for i := 0; i < 60; i++ {
		recipients = append(recipients, fmt.Sprintf("r%d@x.com", i))
	}
	delay := 1
	rec := ts.request(t, "POST", "/api/emails/send-bulk", BulkSendRequest{
		Emails:       strings.Join(recipients, "\n"),
		Subject:      "s",
		Body:         "b",
		DelaySeconds: &delay,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first job status = %d", rec.Code)
	}

	rec = ts.request(t, "POST", "/api/emails/send-bulk", BulkSendRequest{
		Emails: "x@x.com", Subject: "s", Body: "b",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second job status = %d, want 409", rec.Code)
	}

	rec = ts.request(t, "POST", "/api/emails/stop-bulk", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("stop status = %d, want 200", rec.Code)
	}
}

func TestHandleStopBulkIdempotent(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.request(t, "POST", "/api/emails/stop-bulk", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeJSON[SendResponse](t, rec)
	if !resp.Success {
		t.Error("success = false, want true for idempotent stop")
	}
}

func TestHandleListEmails(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)

	ts.request(t, "POST", "/api/emails/send", SendRequest{
		To: "a@x.com", Subject: "s", Body: "b",
	})

	rec := ts.request(t, "GET", "/api/emails", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeJSON[[]store.EmailRecord](t, rec)
	if len(records) != 1 || records[0].Recipient != "a@x.com" {
		t.Errorf("records = %+v, want one for a@x.com", records)
	}
}

func TestTagEndpoints(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.request(t, "POST", "/api/tags", map[string]string{"name": "CODE"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	tag := decodeJSON[vault.Tag](t, rec)

	rec = ts.request(t, "POST", fmt.Sprintf("/api/tags/%d/values", tag.ID),
		map[string]string{"text": "alpha\nbeta\n\n gamma "})
	if rec.Code != http.StatusOK {
		t.Fatalf("add values status = %d", rec.Code)
	}
	added := decodeJSON[map[string]any](t, rec)
	if added["added"].(float64) != 3 {
		t.Errorf("added = %v, want 3", added["added"])
	}

	rec = ts.request(t, "GET", fmt.Sprintf("/api/tags/%d", tag.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	detail := decodeJSON[TagDetailResponse](t, rec)
	if detail.Counts.Total != 3 || detail.Counts.Remaining != 3 {
		t.Errorf("counts = %+v, want 3/3", detail.Counts)
	}

	rec = ts.request(t, "GET", fmt.Sprintf("/api/tags/%d/download", tag.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "alpha\nbeta\ngamma\n" {
		t.Errorf("download body = %q", got)
	}

	rec = ts.request(t, "POST", fmt.Sprintf("/api/tags/%d/reset", tag.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	rec = ts.request(t, "GET", "/api/tags", nil)
	tags := decodeJSON[[]TagResponse](t, rec)
	if len(tags) != 1 || tags[0].Name != "CODE" {
		t.Errorf("tags = %+v, want [CODE]", tags)
	}

	rec = ts.request(t, "DELETE", fmt.Sprintf("/api/tags/%d", tag.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.request(t, "GET", fmt.Sprintf("/api/tags/%d", tag.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestBulkSendConsumesTagValues(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.addServer(t, "S1", true)

	tag, err := ts.vault.CreateTag("CODE")
	if err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	if _, err := ts.vault.AddValues(tag.ID, "one\ntwo"); err != nil {
		t.Fatalf("AddValues() error = %v", err)
	}

	rec := ts.request(t, "POST", "/api/emails/send-bulk?wait=true", BulkSendRequest{
		Emails:  "a@x.com\nb@x.com",
		Subject: "code {{CODE}}",
		Body:    "b",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	counts, err := ts.vault.Counts(tag.ID)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.Remaining != 0 {
		t.Errorf("remaining = %d, want 0 after two renders", counts.Remaining)
	}
}

func TestServerEndpoints(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.request(t, "POST", "/api/smtp/configs", store.ServerConfig{
		Name:      "Primary",
		Host:      "smtp.example.com",
		Port:      587,
		FromEmail: "noreply@example.com",
		IsActive:  true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	created := decodeJSON[store.ServerConfig](t, rec)
	if created.ID == 0 {
		t.Fatal("created config has no id")
	}

	created.Name = "Renamed"
	rec = ts.request(t, "PUT", fmt.Sprintf("/api/smtp/configs/%d", created.ID), created)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}

	rec = ts.request(t, "GET", "/api/smtp/configs", nil)
	configs := decodeJSON[[]store.ServerConfig](t, rec)
	if len(configs) != 1 || configs[0].Name != "Renamed" {
		t.Errorf("configs = %+v, want [Renamed]", configs)
	}

	rec = ts.request(t, "POST", "/api/smtp/reset-sent-counts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset counts status = %d", rec.Code)
	}

	rec = ts.request(t, "DELETE", fmt.Sprintf("/api/smtp/configs/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = ts.request(t, "POST", "/api/smtp/configs", store.ServerConfig{Host: "h"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", rec.Code)
	}
}

func TestHandleTestServerUnreachable(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	cfg := &store.ServerConfig{
		Name:      "Dead",
		Host:      "127.0.0.1",
		Port:      1,
		FromEmail: "noreply@example.com",
	}
	if err := ts.servers.Create(cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := ts.request(t, "POST", fmt.Sprintf("/api/smtp/configs/%d/test", cfg.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeJSON[TestServerResponse](t, rec)
	if resp.Success {
		t.Error("success = true for unreachable server")
	}
	if len(resp.Logs) == 0 {
		t.Error("expected a transcript even on failure")
	}
}

func TestTemplateEndpoints(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.request(t, "POST", "/api/templates", store.Template{
		Name: "welcome", Subject: "hi", Body: "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}
	created := decodeJSON[store.Template](t, rec)

	rec = ts.request(t, "GET", fmt.Sprintf("/api/templates/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = ts.request(t, "DELETE", fmt.Sprintf("/api/templates/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = ts.request(t, "GET", "/api/templates", nil)
	templates := decodeJSON[[]store.Template](t, rec)
	if len(templates) != 0 {
		t.Errorf("templates = %+v, want empty", templates)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	rec := ts.request(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeJSON[HealthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error = %v", err)
	}
	ts := newTestServer(t, config.AuthConfig{
		Enabled:      true,
		Username:     "admin",
		PasswordHash: string(hash),
	})

	req := httptest.NewRequest("GET", "/api/smtp/configs", nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/smtp/configs", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/smtp/configs", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}

	// Health stays open
	req = httptest.NewRequest("GET", "/health", nil)
	rec = httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
