package domain

import "time"

// Event types emitted into the run event log. Stream consumers must
// tolerate types they do not recognize.
const (
	EventRunCreated      = "run_created"
	EventRunStarted      = "run_started"
	EventRunPaused       = "run_paused"
	EventRunResumed      = "run_resumed"
	EventRunCompleted    = "run_completed"
	EventRunFailed       = "run_failed"
	EventTicketStarted   = "ticket_started"
	EventTicketCompleted = "ticket_completed"
	EventTicketFailed    = "ticket_failed"
	EventTicketSkipped   = "ticket_skipped"
	EventVerification    = "verification"

	// EventPing is reserved for the stream transport keepalive and is
	// never appended to the log.
	EventPing = "ping"
)

// Event is one append-only progress record scoped to a run
type Event struct {
	Type    string         `json:"type"`
	RunID   string         `json:"runId"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}
