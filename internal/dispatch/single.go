package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailburst/mailburst/internal/metrics"
	"github.com/mailburst/mailburst/internal/smtpx"
	"github.com/mailburst/mailburst/internal/store"
)

// SingleRequest carries one ad-hoc send outside a bulk job.
type SingleRequest struct {
	To           string
	From         string
	Subject      string
	Body         string
	Encoding     smtpx.Encoding
	Important    bool
	Confirmation bool
}

// SendSingle renders and delivers one message through the first active
// server. It runs independently of any bulk job and emits no progress
// events, but the attempt is persisted like any other.
func (s *Scheduler) SendSingle(req SingleRequest) error {
	addr := strings.ToLower(strings.TrimSpace(req.To))
	if !isValidAddress(addr) {
		return fmt.Errorf("invalid email address %q", req.To)
	}

	servers, err := s.servers.ListActive()
	if err != nil {
		return fmt.Errorf("failed to load server pool: %w", err)
	}
	if len(servers) == 0 {
		return ErrNoActiveServers
	}
	server := servers[0]

	from := s.renderer.Render(req.From)
	if from == "" {
		from = server.FromEmail
	}
	subject := s.renderer.Render(req.Subject)
	body := s.renderer.Render(req.Body)

	sendErr := func() error {
		msg := &smtpx.Message{
			From:         from,
			To:           addr,
			Subject:      subject,
			Body:         body,
			Encoding:     req.Encoding,
			Important:    req.Important,
			Confirmation: req.Confirmation,
		}
		data, err := msg.Build()
		if err != nil {
			return err
		}
		conn, err := s.dialer.Dial(server)
		if err != nil {
			return err
		}
		defer conn.Close()

		started := time.Now()
		err = conn.Send(from, addr, data)
		metrics.ObserveSendDuration(time.Since(started).Seconds())
		return err
	}()

	if sendErr != nil {
		metrics.IncEmailsFailed(server.Name, "smtp")
		s.persist(addr, subject, body, store.EmailStatusFailed, sendErr.Error())
		s.logger.Warn("single send failed",
			"server", server.Name, "recipient", addr, "error", sendErr)
		return sendErr
	}

	metrics.IncEmailsSent(server.Name)
	if err := s.servers.RecordSent(server.ID); err != nil {
		s.logger.Warn("failed to record sent count", "server", server.Name, "error", err)
	}
	s.persist(addr, subject, body, store.EmailStatusSent, "")
	s.logger.Info("single send delivered", "server", server.Name, "recipient", addr)
	return nil
}
