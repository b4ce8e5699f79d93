// Package dispatch runs bulk send jobs: it partitions recipients
// across concurrent lanes, rotates lanes over the active server pool
// after each batch, applies the inter-send delay and honors the
// cooperative stop flag. At most one job runs per process.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/mailburst/mailburst/internal/events"
	"github.com/mailburst/mailburst/internal/metrics"
	"github.com/mailburst/mailburst/internal/render"
	"github.com/mailburst/mailburst/internal/sentinel"
	"github.com/mailburst/mailburst/internal/smtpx"
	"github.com/mailburst/mailburst/internal/store"
)

var (
	ErrJobRunning      = errors.New("a bulk send is already running")
	ErrNoActiveServers = errors.New("no active SMTP servers configured")
	ErrNoRecipients    = errors.New("no recipients given")
)

// Conn is one open server session, reused for up to a batch of sends.
type Conn interface {
	Send(from, to string, data []byte) error
	Close() error
}

// Dialer opens sessions to configured servers.
type Dialer interface {
	Dial(cfg store.ServerConfig) (Conn, error)
}

// Request carries the parameters of one bulk send.
type Request struct {
	Recipients   []string
	From         string
	Subject      string
	Body         string
	Encoding     smtpx.Encoding
	Important    bool
	Confirmation bool

	DelaySeconds          int
	BatchSize             int // 0 = no rotation
	ConcurrentConnections int // 0 = 1
}

func (r *Request) validate() error {
	if r.DelaySeconds < 0 || r.DelaySeconds > 60 {
		return fmt.Errorf("delaySeconds must be between 0 and 60, got %d", r.DelaySeconds)
	}
	if r.BatchSize < 0 || r.BatchSize > 1000 {
		return fmt.Errorf("batchSize must be between 0 and 1000, got %d", r.BatchSize)
	}
	if r.ConcurrentConnections == 0 {
		r.ConcurrentConnections = 1
	}
	if r.ConcurrentConnections < 1 || r.ConcurrentConnections > 50 {
		return fmt.Errorf("concurrentConnections must be between 1 and 50, got %d", r.ConcurrentConnections)
	}
	return nil
}

// Scheduler owns job execution. Zero or one job runs at a time.
type Scheduler struct {
	servers  *store.ServerRepository
	emails   *store.EmailRepository
	renderer *render.Renderer
	sentinel *sentinel.Sentinel
	events   *events.Broadcaster
	dialer   Dialer
	logger   *slog.Logger

	mu      sync.Mutex
	current *Job
}

func New(
	servers *store.ServerRepository,
	emails *store.EmailRepository,
	renderer *render.Renderer,
	snt *sentinel.Sentinel,
	broadcaster *events.Broadcaster,
	dialer Dialer,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		servers:  servers,
		emails:   emails,
		renderer: renderer,
		sentinel: snt,
		events:   broadcaster,
		dialer:   dialer,
		logger:   logger,
	}
}

// Start validates the request, captures the active server snapshot and
// launches the job in the background. A second call while a job is
// running returns ErrJobRunning.
func (s *Scheduler) Start(req Request) (*Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	valid, invalid := partitionRecipients(req.Recipients)
	total := len(valid) + len(invalid)
	if total == 0 {
		return nil, ErrNoRecipients
	}

	servers, err := s.servers.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load server pool: %w", err)
	}
	if len(servers) == 0 {
		return nil, ErrNoActiveServers
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrJobRunning
	}
	job := newJob(total, servers)
	s.current = job
	s.mu.Unlock()

	s.logger.Info("bulk send started",
		"recipients", total,
		"invalid", len(invalid),
		"servers", len(servers),
		"lanes", req.ConcurrentConnections,
		"batch_size", req.BatchSize,
		"delay_seconds", req.DelaySeconds,
	)

	go s.run(job, req, valid, invalid)
	return job, nil
}

// Run is the blocking variant of Start.
func (s *Scheduler) Run(req Request) (*Summary, error) {
	job, err := s.Start(req)
	if err != nil {
		return nil, err
	}
	return job.Wait(), nil
}

// Stop requests a cooperative stop of the running job. It reports
// whether a stop is now in effect; calling it with no job, or after
// the job already drained, is a no-op.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	job := s.current
	s.mu.Unlock()

	if job == nil {
		return false
	}
	if job.RequestStop(ReasonUser) {
		s.logger.Info("stop requested by user")
		s.events.Publish(events.Event{
			Type: events.TypeStopping,
			Data: events.StoppingData{Message: "stop requested, finishing in-flight sends"},
		})
		return true
	}
	// A stop is already in effect, or the job sealed while the request
	// was in flight; only the former counts.
	return job.StopReason() != ReasonNone
}

// Wait blocks until the running job, if any, reaches its terminal
// state, so storage can be torn down without racing in-flight history
// writes. It returns the context error on cancellation.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	job := s.current
	s.mu.Unlock()

	if job == nil {
		return nil
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a job is currently executing.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Scheduler) run(job *Job, req Request, valid, invalid []recipient) {
	defer close(job.done)
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	metrics.JobStarted(job.Total)
	s.events.Publish(events.Event{
		Type: events.TypeStart,
		Data: events.StartData{Total: job.Total, SMTPCount: len(job.Servers)},
	})

	for _, r := range invalid {
		job.failed.Add(1)
		s.events.Publish(events.Event{
			Type: events.TypeFailed,
			Data: events.FailedData{
				Index:        r.index,
				Email:        r.addr,
				Error:        "invalid email address",
				InvalidEmail: true,
			},
		})
		s.persist(r.addr, req.Subject, req.Body, store.EmailStatusFailed, "invalid email address")
	}

	queue := make(chan recipient, len(valid))
	for _, r := range valid {
		queue <- r
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < req.ConcurrentConnections; i++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			s.runLane(job, req, lane, queue)
		}(i)
	}
	wg.Wait()

	drained := job.seal()
	sent, failed, remaining := job.Counts()
	if !drained {
		message := "sending stopped by user"
		outcome := "stopped_by_user"
		if job.StopReason() == ReasonSentinel {
			message = "sending stopped: rate limit detected"
			outcome = "stopped_by_sentinel"
		}
		s.events.Publish(events.Event{
			Type: events.TypeStopped,
			Data: events.StoppedData{
				Message:   message,
				Sent:      sent,
				Failed:    failed,
				Remaining: remaining,
			},
		})
		metrics.JobFinished(outcome)
		s.logger.Info("bulk send stopped",
			"reason", outcome, "sent", sent, "failed", failed, "remaining", remaining)
		return
	}

	s.events.Publish(events.Event{
		Type: events.TypeComplete,
		Data: events.CompleteData{Sent: sent, Failed: failed},
	})
	metrics.JobFinished("completed")
	s.logger.Info("bulk send complete", "sent", sent, "failed", failed)
}

// runLane consumes recipients until the queue drains or a stop is
// requested. The lane starts on servers[lane mod n] so concurrent
// lanes spread across the pool, and rotates to the next server after
// every batchSize sends through one connection.
func (s *Scheduler) runLane(job *Job, req Request, lane int, queue <-chan recipient) {
	cursor := lane % len(job.Servers)
	server := job.Servers[cursor]

	var conn Conn
	var batchCount, batchNumber int
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for r := range queue {
		if job.StopRequested() {
			return
		}

		// Rotate at the batch boundary, but only when another
		// recipient is actually waiting.
		if req.BatchSize > 0 && batchCount >= req.BatchSize {
			s.events.Publish(events.Event{
				Type: events.TypeBatchComplete,
				Data: events.BatchCompleteData{
					BatchNumber:   batchNumber,
					EmailsInBatch: batchCount,
				},
			})
			batchNumber++
			if conn != nil {
				conn.Close()
				conn = nil
			}
			cursor = (cursor + 1) % len(job.Servers)
			server = job.Servers[cursor]
			batchCount = 0
			s.events.Publish(events.Event{
				Type: events.TypeSMTPSwitch,
				Data: events.SMTPSwitchData{
					ConfigName: server.Name,
					BatchSize:  req.BatchSize,
				},
			})
			s.logger.Debug("lane rotated", "lane", lane, "server", server.Name)
		}

		if req.DelaySeconds > 0 {
			select {
			case <-time.After(time.Duration(req.DelaySeconds) * time.Second):
			case <-job.stopCh:
				return
			}
		}
		if job.StopRequested() {
			return
		}

		s.events.Publish(events.Event{
			Type: events.TypeSending,
			Data: events.SendingData{
				Index: r.index,
				Total: job.Total,
				SMTP:  server.Name,
				Email: r.addr,
			},
		})

		from := s.renderer.Render(req.From)
		if from == "" {
			from = server.FromEmail
		}
		subject := s.renderer.Render(req.Subject)
		body := s.renderer.Render(req.Body)

		err := func() error {
			msg := &smtpx.Message{
				From:         from,
				To:           r.addr,
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
			if conn == nil {
				c, err := s.dialer.Dial(server)
				if err != nil {
					return err
				}
				conn = c
			}
			started := time.Now()
			err = conn.Send(from, r.addr, data)
			metrics.ObserveSendDuration(time.Since(started).Seconds())
			return err
		}()
		batchCount++

		if err != nil {
			job.failed.Add(1)
			s.events.Publish(events.Event{
				Type: events.TypeFailed,
				Data: events.FailedData{
					Index:    r.index,
					SMTPName: server.Name,
					Email:    r.addr,
					Error:    err.Error(),
				},
			})
			metrics.IncEmailsFailed(server.Name, "smtp")
			s.persist(r.addr, subject, body, store.EmailStatusFailed, err.Error())
			s.logger.Warn("delivery failed",
				"lane", lane, "server", server.Name, "recipient", r.addr, "error", err)

			if signal := s.sentinel.Inspect(err.Error()); signal != nil {
				if job.RequestStop(ReasonSentinel) {
					s.logger.Warn("aborting job", "signal", signal, "recipient", r.addr)
					s.events.Publish(events.Event{
						Type: events.TypeRateLimitStop,
						Data: events.RateLimitStopData{
							Message: signal.String(),
							Email:   r.addr,
						},
					})
				}
			}
		} else {
			job.sent.Add(1)
			s.events.Publish(events.Event{
				Type: events.TypeSent,
				Data: events.SentData{
					Index:    r.index,
					SMTPName: server.Name,
					Email:    r.addr,
				},
			})
			metrics.IncEmailsSent(server.Name)
			if err := s.servers.RecordSent(server.ID); err != nil {
				s.logger.Warn("failed to record sent count", "server", server.Name, "error", err)
			}
			s.persist(r.addr, subject, body, store.EmailStatusSent, "")
		}

		_, _, remaining := job.Counts()
		metrics.SetJobRemaining(remaining)
	}
}

// persist writes one EmailRecord. Storage failures are logged, never
// escalated; history must not fail a send.
func (s *Scheduler) persist(recipientAddr, subject, body, status, errText string) {
	rec := &store.EmailRecord{
		Recipient: recipientAddr,
		Subject:   subject,
		Body:      body,
		Status:    status,
		Error:     errText,
	}
	if err := s.emails.Create(rec); err != nil {
		s.logger.Warn("failed to persist email record", "recipient", recipientAddr, "error", err)
	}
}

// partitionRecipients trims, lowercases and deduplicates the raw list,
// then splits it into valid and invalid addresses. Index positions are
// assigned over the deduplicated list, so every event for a recipient
// carries the same index.
func partitionRecipients(raw []string) (valid, invalid []recipient) {
	seen := make(map[string]bool, len(raw))
	index := 0
	for _, r := range raw {
		addr := strings.ToLower(strings.TrimSpace(r))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		index++
		if isValidAddress(addr) {
			valid = append(valid, recipient{index: index, addr: addr})
		} else {
			invalid = append(invalid, recipient{index: index, addr: addr})
		}
	}
	return valid, invalid
}

func isValidAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
