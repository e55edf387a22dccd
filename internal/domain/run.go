package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a build run
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal returns true if the run can no longer change state
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// TicketStatus is the lifecycle state of a single ticket
type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketInProgress TicketStatus = "in_progress"
	TicketCompleted  TicketStatus = "completed"
	TicketFailed     TicketStatus = "failed"
	TicketSkipped    TicketStatus = "skipped"
)

// TicketSpec is one planned unit of work as supplied by the caller
type TicketSpec struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Ticket is one unit of generation work within a run. Tickets are created
// from the input specs at run creation and are never deleted - failed
// tickets stay visible for diagnosis.
type Ticket struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TicketStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// RunInput is the immutable request that created a run. Run progress is
// expressed through run and ticket status plus the event log, never by
// rewriting the input.
type RunInput struct {
	SandboxID           string          `json:"sandboxId"`
	Model               string          `json:"model"`
	Plan                json.RawMessage `json:"plan"`
	Tickets             []TicketSpec    `json:"tickets"`
	UIStyle             json.RawMessage `json:"uiStyle,omitempty"`
	OnlyTicketID        string          `json:"onlyTicketId,omitempty"`
	MaxConcurrency      int             `json:"maxConcurrency,omitempty"`
	SkipPrReview        bool            `json:"skipPrReview,omitempty"`
	SkipIntegrationGate bool            `json:"skipIntegrationGate,omitempty"`
}

// BuildRun is one end-to-end execution of a ticket backlog against a sandbox
type BuildRun struct {
	ID              string    `json:"runId"`
	Status          RunStatus `json:"status"`
	Paused          bool      `json:"paused"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	CurrentTicketID string    `json:"currentTicketId,omitempty"`
	Error           string    `json:"error,omitempty"`
	Tickets         []*Ticket `json:"tickets"`
	Input           RunInput  `json:"input"`
}

// Clone returns a deep copy safe to hand to readers while the run mutates
func (r *BuildRun) Clone() *BuildRun {
	out := *r
	out.Tickets = make([]*Ticket, len(r.Tickets))
	for i, t := range r.Tickets {
		tc := *t
		out.Tickets[i] = &tc
	}
	return &out
}
