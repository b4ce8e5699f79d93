package smtpx

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Encoding is the Content-Transfer-Encoding of an outgoing body.
type Encoding string

const (
	Encoding7Bit            Encoding = "7bit"
	Encoding8Bit            Encoding = "8bit"
	EncodingBase64          Encoding = "base64"
	EncodingQuotedPrintable Encoding = "quoted-printable"
)

// ParseEncoding validates an encoding name from a request. An empty
// name means 7bit.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "":
		return Encoding7Bit, nil
	case Encoding7Bit, Encoding8Bit, EncodingBase64, EncodingQuotedPrintable:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// Message is one outgoing email before wire encoding.
type Message struct {
	From         string
	To           string
	Subject      string
	Body         string
	Encoding     Encoding
	Important    bool
	Confirmation bool
}

// Build constructs the RFC 5322 message data.
func (m *Message) Build() ([]byte, error) {
	enc := m.Encoding
	if enc == "" {
		enc = Encoding7Bit
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.New().String(), senderDomain(m.From))

	if m.Important {
		buf.WriteString("X-Priority: 1 (Highest)\r\n")
		buf.WriteString("Importance: high\r\n")
	}
	if m.Confirmation {
		addr := senderAddress(m.From)
		fmt.Fprintf(&buf, "Disposition-Notification-To: %s\r\n", addr)
		fmt.Fprintf(&buf, "Return-Receipt-To: %s\r\n", addr)
	}

	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Content-Transfer-Encoding: %s\r\n", enc)
	buf.WriteString("\r\n")

	if err := writeBody(&buf, m.Body, enc); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	return buf.Bytes(), nil
}

func writeBody(buf *bytes.Buffer, body string, enc Encoding) error {
	switch enc {
	case EncodingBase64:
		encoded := base64.StdEncoding.EncodeToString([]byte(body))
		// Wrap at 76 characters per RFC 2045
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	case EncodingQuotedPrintable:
		w := quotedprintable.NewWriter(buf)
		if _, err := w.Write([]byte(body)); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		buf.WriteString("\r\n")
	default:
		buf.WriteString(body)
		buf.WriteString("\r\n")
	}
	return nil
}

// senderAddress extracts the bare address from a From header value
// that may carry a display name.
func senderAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	return addr.Address
}

func senderDomain(from string) string {
	parts := strings.Split(senderAddress(from), "@")
	if len(parts) == 2 {
		return parts[1]
	}
	return "localhost"
}
