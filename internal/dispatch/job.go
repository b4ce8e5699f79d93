package dispatch

import (
	"sync/atomic"

	"github.com/mailburst/mailburst/internal/store"
)

// Reason records what ended a job early.
type Reason int32

const (
	ReasonNone Reason = iota
	ReasonUser
	ReasonSentinel
)

// stateDrained marks a job whose queue emptied with no stop request.
// Once set, stop requests are refused.
const stateDrained int32 = -1

// recipient is one queue entry. Index is the recipient's 1-based
// position in the deduplicated list and is stable across lanes.
type recipient struct {
	index int
	addr  string
}

// Job is the state of one running bulk send. It is created when a
// request is accepted and discarded at the terminal event. All fields
// shared across lanes are atomics or written once before the lanes
// start.
type Job struct {
	Total   int
	Servers []store.ServerConfig

	sent   atomic.Int64
	failed atomic.Int64

	// state holds int32(ReasonNone) while running, the stop reason
	// once a stop request wins, or stateDrained once the job sealed.
	// Every transition is a single compare-and-swap, so a stop and a
	// drain can never both claim the same job.
	state  atomic.Int32
	stopCh chan struct{}

	done chan struct{}
}

func newJob(total int, servers []store.ServerConfig) *Job {
	return &Job{
		Total:   total,
		Servers: servers,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RequestStop flips the job to stop-requested. Only the first caller
// on a still-running job wins; requests against a sealed job are
// refused, so a fully-drained job can never turn into a stopped one.
func (j *Job) RequestStop(r Reason) bool {
	if r == ReasonNone {
		return false
	}
	if !j.state.CompareAndSwap(int32(ReasonNone), int32(r)) {
		return false
	}
	close(j.stopCh)
	return true
}

// seal marks a fully-drained job terminal. It reports false when a
// stop request won first, in which case the stop reason stands.
func (j *Job) seal() bool {
	return j.state.CompareAndSwap(int32(ReasonNone), stateDrained)
}

// StopRequested reports whether a stop has been requested. Lanes check
// this before every send; an in-flight send is never interrupted.
func (j *Job) StopRequested() bool {
	select {
	case <-j.stopCh:
		return true
	default:
		return false
	}
}

// StopReason returns what requested the stop, or ReasonNone.
func (j *Job) StopReason() Reason {
	s := j.state.Load()
	if s == stateDrained {
		return ReasonNone
	}
	return Reason(s)
}

// Counts returns the current sent, failed and not-yet-attempted totals.
func (j *Job) Counts() (sent, failed, remaining int) {
	sent = int(j.sent.Load())
	failed = int(j.failed.Load())
	remaining = j.Total - sent - failed
	return sent, failed, remaining
}

// Wait blocks until the job reaches a terminal state.
func (j *Job) Wait() *Summary {
	<-j.done
	return j.summary()
}

func (j *Job) summary() *Summary {
	sent, failed, _ := j.Counts()
	return &Summary{
		Sent:              sent,
		Failed:            failed,
		StoppedByUser:     j.StopReason() == ReasonUser,
		StoppedBySentinel: j.StopReason() == ReasonSentinel,
	}
}

// Summary is the final outcome of a bulk job.
type Summary struct {
	Sent              int  `json:"sent"`
	Failed            int  `json:"failed"`
	StoppedByUser     bool `json:"stoppedByUser,omitempty"`
	StoppedBySentinel bool `json:"stoppedBySentinel,omitempty"`
}
