// Package smtpx delivers messages through user-configured upstream SMTP
// servers. A Conn wraps one authenticated session and can carry several
// messages, which is what makes per-batch connection reuse possible.
package smtpx

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailburst/mailburst/internal/store"
)

// DeliveryError carries the SMTP reply code alongside the message when
// the server returned one. Code is zero for transport-level failures.
type DeliveryError struct {
	Code    int
	Message string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// categorizeError wraps an error from one protocol stage, preserving
// the SMTP code when present.
func categorizeError(err error, stage string) *DeliveryError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Code:    smtpErr.Code,
			Message: fmt.Sprintf("%s failed: %d %s", stage, smtpErr.Code, smtpErr.Message),
		}
	}
	return &DeliveryError{
		Message: fmt.Sprintf("%s failed: %v", stage, err),
	}
}

// Dialer opens authenticated sessions to configured servers.
type Dialer struct {
	timeout     time.Duration
	helloDomain string
	skipVerify  bool
	logger      *slog.Logger
}

func NewDialer(timeout time.Duration, helloDomain string, skipVerify bool, logger *slog.Logger) *Dialer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if helloDomain == "" {
		helloDomain = "localhost"
	}
	return &Dialer{
		timeout:     timeout,
		helloDomain: helloDomain,
		skipVerify:  skipVerify,
		logger:      logger,
	}
}

// Dial connects to the server, negotiates TLS and authenticates.
func (d *Dialer) Dial(cfg store.ServerConfig) (*Conn, error) {
	return d.dial(cfg, nil)
}

func (d *Dialer) dial(cfg store.ServerConfig, debug io.Writer) (*Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	netDialer := &net.Dialer{Timeout: d.timeout}

	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: d.skipVerify,
	}

	conn, err := netDialer.Dial("tcp", addr)
	if err != nil {
		return nil, &DeliveryError{
			Message: fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}

	var client *smtp.Client
	if cfg.IsSecure {
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	} else {
		// Opportunistic STARTTLS. NewClientStartTLS closes the
		// connection on failure, so the plaintext fallback redials.
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			d.logger.Warn("STARTTLS failed, continuing without encryption",
				"server", cfg.Name,
				"error", err,
			)
			conn, err = netDialer.Dial("tcp", addr)
			if err != nil {
				return nil, &DeliveryError{
					Message: fmt.Sprintf("connection failed to %s: %v", addr, err),
				}
			}
			client = smtp.NewClient(conn)
		}
	}

	client.CommandTimeout = d.timeout
	client.SubmissionTimeout = d.timeout
	if debug != nil {
		client.DebugWriter = debug
	}

	// A successful STARTTLS resets the hello state, so this EHLO
	// re-identifies on the encrypted channel.
	if err := client.Hello(d.helo(cfg)); err != nil {
		client.Close()
		return nil, categorizeError(err, "EHLO")
	}

	if cfg.Username != "" {
		var auth sasl.Client
		if client.SupportsAuth(sasl.Plain) {
			auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
		} else {
			auth = sasl.NewLoginClient(cfg.Username, cfg.Password)
		}
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, categorizeError(err, "AUTH")
		}
	}

	return &Conn{client: client, server: cfg.Name}, nil
}

// helo picks the EHLO identity: the server's domain override when set,
// otherwise the dialer-wide default.
func (d *Dialer) helo(cfg store.ServerConfig) string {
	if cfg.DomainAuth != "" {
		return cfg.DomainAuth
	}
	return d.helloDomain
}

// Conn is one open session. Send may be called repeatedly before Close.
type Conn struct {
	client *smtp.Client
	server string
}

// Send delivers one message. On a rejected envelope the session is
// reset so the connection stays usable for the next recipient.
func (c *Conn) Send(from, to string, data []byte) error {
	if err := c.client.Mail(senderAddress(from), nil); err != nil {
		c.client.Reset()
		return categorizeError(err, "MAIL FROM")
	}
	if err := c.client.Rcpt(to, nil); err != nil {
		c.client.Reset()
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", to))
	}

	wc, err := c.client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return &DeliveryError{
			Message: fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	return nil
}

// Noop pings the server to verify the session is alive.
func (c *Conn) Noop() error {
	return c.client.Noop()
}

// Close ends the session with QUIT.
func (c *Conn) Close() error {
	return c.client.Quit()
}
