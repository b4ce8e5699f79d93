package store

import "time"

// ServerConfig is one outbound SMTP server identity. Rows are owned
// by the ServerRepository; running bulk jobs work from a snapshot
// taken at start and never see mid-job edits.
type ServerConfig struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	FromEmail  string `json:"fromEmail"`
	IsSecure   bool   `json:"isSecure"`
	DomainAuth string `json:"domainAuth,omitempty"`
	IsActive   bool   `json:"isActive"`
	SentCount  int64  `json:"sentCount"`
}

// EmailRecord is the persisted outcome of a single send attempt.
type EmailRecord struct {
	ID        int64     `json:"id"`
	Recipient string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

const (
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// Template is a saved subject/body pair for the compose UI.
type Template struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
