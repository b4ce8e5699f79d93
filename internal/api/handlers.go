package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/mailburst/mailburst/internal/dispatch"
	"github.com/mailburst/mailburst/internal/smtpx"
)

// SendRequest is the request body for POST /api/emails/send
type SendRequest struct {
	To          string `json:"to"`
	FromEmail   string `json:"fromEmail,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Encoding    string `json:"encoding,omitempty"`
	IsImportant bool   `json:"isImportant,omitempty"`
	SureInbox   bool   `json:"sureInbox,omitempty"`
}

// BulkSendRequest is the request body for POST /api/emails/send-bulk.
// Emails is one string with newline- or comma-separated recipients.
type BulkSendRequest struct {
	Emails                string `json:"emails"`
	FromEmail             string `json:"fromEmail,omitempty"`
	Subject               string `json:"subject"`
	Body                  string `json:"body"`
	Encoding              string `json:"encoding,omitempty"`
	DelaySeconds          *int   `json:"delaySeconds,omitempty"`
	BatchSize             int    `json:"batchSize,omitempty"`
	ConcurrentConnections int    `json:"concurrentConnections,omitempty"`
	IsImportant           bool   `json:"isImportant,omitempty"`
	SureInbox             bool   `json:"sureInbox,omitempty"`
}

// SendResponse answers the send endpoints
type SendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Sent    *int   `json:"sent,omitempty"`
	Failed  *int   `json:"failed,omitempty"`
}

var recipientSeparator = regexp.MustCompile(`[\n,]`)

// handleSend handles POST /api/emails/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.To == "" {
		s.sendError(w, http.StatusBadRequest, "to is required")
		return
	}
	if req.Subject == "" || req.Body == "" {
		s.sendError(w, http.StatusBadRequest, "subject and body are required")
		return
	}
	encoding, err := smtpx.ParseEncoding(req.Encoding)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.scheduler.SendSingle(dispatch.SingleRequest{
		To:           req.To,
		From:         req.FromEmail,
		Subject:      req.Subject,
		Body:         req.Body,
		Encoding:     encoding,
		Important:    req.IsImportant,
		Confirmation: req.SureInbox,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrNoActiveServers) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to send email: %v", err))
		return
	}

	s.sendJSON(w, http.StatusOK, SendResponse{Success: true, Message: "Email sent successfully"})
}

// handleSendBulk handles POST /api/emails/send-bulk. By default the
// job runs in the background and the call returns immediately;
// ?wait=true blocks until the terminal state and reports the final
// counts.
func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Emails == "" {
		s.sendError(w, http.StatusBadRequest, "emails is required")
		return
	}
	if req.Subject == "" || req.Body == "" {
		s.sendError(w, http.StatusBadRequest, "subject and body are required")
		return
	}
	encoding, err := smtpx.ParseEncoding(req.Encoding)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	delay := s.defaults.DelaySeconds
	if req.DelaySeconds != nil {
		delay = *req.DelaySeconds
	}
	lanes := req.ConcurrentConnections
	if lanes == 0 {
		lanes = s.defaults.ConcurrentConnections
	}

	dreq := dispatch.Request{
		Recipients:            recipientSeparator.Split(req.Emails, -1),
		From:                  req.FromEmail,
		Subject:               req.Subject,
		Body:                  req.Body,
		Encoding:              encoding,
		Important:             req.IsImportant,
		Confirmation:          req.SureInbox,
		DelaySeconds:          delay,
		BatchSize:             req.BatchSize,
		ConcurrentConnections: lanes,
	}

	if r.URL.Query().Get("wait") == "true" {
		summary, err := s.scheduler.Run(dreq)
		if err != nil {
			s.sendBulkError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, SendResponse{
			Success: true,
			Message: fmt.Sprintf("Bulk send finished: %d sent, %d failed", summary.Sent, summary.Failed),
			Sent:    &summary.Sent,
			Failed:  &summary.Failed,
		})
		return
	}

	if _, err := s.scheduler.Start(dreq); err != nil {
		s.sendBulkError(w, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, SendResponse{Success: true, Message: "Bulk send started"})
}

func (s *Server) sendBulkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrJobRunning):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrNoActiveServers),
		errors.Is(err, dispatch.ErrNoRecipients):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.sendError(w, http.StatusBadRequest, err.Error())
	}
}

// handleStopBulk handles POST /api/emails/stop-bulk
func (s *Server) handleStopBulk(w http.ResponseWriter, r *http.Request) {
	if s.scheduler.Stop() {
		s.sendJSON(w, http.StatusOK, SendResponse{Success: true, Message: "Stop requested"})
		return
	}
	s.sendJSON(w, http.StatusOK, SendResponse{Success: true, Message: "No bulk send running"})
}

// handleListEmails handles GET /api/emails
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.emails.List(limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	s.sendJSON(w, http.StatusOK, records)
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	BulkActive bool   `json:"bulkActive"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		BulkActive: s.scheduler.Running(),
	})
}
