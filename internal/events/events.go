// Package events is the process-wide publish point for bulk-send
// progress. Delivery is best effort: a slow or disconnected subscriber
// never stalls dispatch.
package events

// Type identifies a progress event.
type Type string

const (
	TypeStart         Type = "start"
	TypeSMTPSwitch    Type = "smtp_switch"
	TypeBatchComplete Type = "batch_complete"
	TypeSending       Type = "sending"
	TypeSent          Type = "sent"
	TypeFailed        Type = "failed"
	TypeStopping      Type = "stopping"
	TypeStopped       Type = "stopped"
	TypeRateLimitStop Type = "ratelimit_stop"
	TypeComplete      Type = "complete"
)

// Event is one progress message as delivered to observers.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// StartData announces a new bulk job.
type StartData struct {
	Total     int `json:"total"`
	SMTPCount int `json:"smtpCount"`
}

// SMTPSwitchData reports a lane rotating to a new server.
type SMTPSwitchData struct {
	ConfigName string `json:"configName"`
	BatchSize  int    `json:"batchSize"`
}

// BatchCompleteData reports a closed connection after a full batch.
// BatchNumber counts from zero; the UI adds one for display.
type BatchCompleteData struct {
	BatchNumber   int `json:"batchNumber"`
	EmailsInBatch int `json:"emailsInBatch"`
}

// SendingData precedes each delivery attempt.
type SendingData struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	SMTP  string `json:"smtp"`
	Email string `json:"email"`
}

// SentData reports one successful delivery.
type SentData struct {
	Index    int    `json:"index"`
	SMTPName string `json:"smtpName"`
	Email    string `json:"email"`
}

// FailedData reports one failed delivery. InvalidEmail marks addresses
// rejected before dispatch.
type FailedData struct {
	Index        int    `json:"index"`
	SMTPName     string `json:"smtpName,omitempty"`
	Email        string `json:"email"`
	Error        string `json:"error"`
	InvalidEmail bool   `json:"invalidEmail,omitempty"`
}

// StoppingData acknowledges a stop request.
type StoppingData struct {
	Message string `json:"message"`
}

// StoppedData is the terminal event of a stopped job.
type StoppedData struct {
	Message   string `json:"message"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
}

// RateLimitStopData reports a sentinel-triggered abort.
type RateLimitStopData struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

// CompleteData is the terminal event of a drained job.
type CompleteData struct {
	Sent              int  `json:"sent"`
	Failed            int  `json:"failed"`
	StoppedByUser     bool `json:"stoppedByUser,omitempty"`
	StoppedBySentinel bool `json:"stoppedBySentinel,omitempty"`
}
