// Package runner drives build runs through their lifecycle: ticket by
// ticket through the AI generator, with pause honored at ticket
// boundaries and every transition published on the event log.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/autofix"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/domain"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/eventlog"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// Generator performs the actual AI code generation for one ticket inside
// the sandbox
type Generator interface {
	GenerateTicket(ctx context.Context, run *domain.BuildRun, ticket *domain.Ticket, p sandbox.Provider) error
}

// Verifier runs the post-ticket verification loop. Its outcome is
// advisory; a ticket is not failed for an unhealthy verification.
type Verifier interface {
	Run(ctx context.Context, p sandbox.Provider) (*autofix.Result, error)
}

// ProviderResolver hands out a sandbox connection for a run
type ProviderResolver interface {
	ResolveProvider(ctx context.Context, sandboxID string) (sandbox.Provider, error)
}

// RunStore persists run snapshots
type RunStore interface {
	SaveRun(run *domain.BuildRun) error
	ListRuns() ([]*domain.BuildRun, error)
	ListEvents(runID string) ([]domain.Event, error)
}

// pauseCheckInterval bounds how long a pause request waits before the
// loop notices it at a ticket boundary
const pauseCheckInterval = 100 * time.Millisecond

// Manager owns all runs in the process. Runs execute their tickets
// strictly in order; concurrency happens across runs, not within one.
type Manager struct {
	events   *eventlog.Log
	pool     ProviderResolver
	gen      Generator
	verifier Verifier
	reviewer Verifier
	logger   *log.Logger

	mu   sync.RWMutex
	runs map[string]*domain.BuildRun

	// Snapshot writes are serialized on one goroutine to keep SQLite
	// contention out of the run loop
	saveChan chan *domain.BuildRun
	saveDone chan struct{}
	store    RunStore
}

// NewManager creates a run manager. store may be nil for in-memory
// operation; verifier may be nil to skip the integration gate entirely.
func NewManager(events *eventlog.Log, pool ProviderResolver, gen Generator, verifier Verifier, store RunStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		events:   events,
		pool:     pool,
		gen:      gen,
		verifier: verifier,
		logger:   logger,
		runs:     make(map[string]*domain.BuildRun),
		saveChan: make(chan *domain.BuildRun, 100),
		saveDone: make(chan struct{}),
		store:    store,
	}
	go m.saveWriter()
	return m
}

// SetReviewer installs the PR review gate. Like the integration gate it
// runs after each ticket's generation and its outcome is advisory.
func (m *Manager) SetReviewer(v Verifier) {
	m.reviewer = v
}

// saveWriter processes run snapshots sequentially to avoid lock contention
func (m *Manager) saveWriter() {
	for run := range m.saveChan {
		if m.store == nil {
			continue
		}
		if err := m.store.SaveRun(run); err != nil {
			m.logger.Warn("persisting run failed", "run", run.ID, "error", err)
		}
	}
	close(m.saveDone)
}

// Stop shuts down the snapshot writer after draining queued writes
func (m *Manager) Stop() {
	close(m.saveChan)
	<-m.saveDone
}

// queueSave snapshots the run for async persistence. Falls back to a
// synchronous write when the queue is full.
func (m *Manager) queueSave(run *domain.BuildRun) {
	snapshot := run.Clone()
	select {
	case m.saveChan <- snapshot:
	default:
		m.saveNow(snapshot)
	}
}

// saveNow writes a snapshot synchronously, for transitions that later
// writes depend on
func (m *Manager) saveNow(snapshot *domain.BuildRun) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRun(snapshot); err != nil {
		m.logger.Warn("persisting run failed", "run", snapshot.ID, "error", err)
	}
}

// CreateRun registers a new run in queued state. Input validation is the
// caller's job. The run is visible to Get and its run_created event is
// appended before this returns; nothing executes until Start.
func (m *Manager) CreateRun(input domain.RunInput) *domain.BuildRun {
	now := time.Now()
	run := &domain.BuildRun{
		ID:        uuid.NewString(),
		Status:    domain.RunQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Input:     input,
	}
	for _, spec := range input.Tickets {
		run.Tickets = append(run.Tickets, &domain.Ticket{
			ID:          spec.ID,
			Title:       spec.Title,
			Description: spec.Description,
			Status:      domain.TicketPending,
		})
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	// The run row must exist before the first event references it, so
	// this one write skips the async queue
	m.saveNow(run.Clone())
	m.events.Append(domain.EventRunCreated, run.ID, map[string]any{
		"sandboxId":   input.SandboxID,
		"ticketCount": len(run.Tickets),
	})

	m.logger.Info("run created", "run", run.ID, "sandbox", input.SandboxID, "tickets", len(run.Tickets))
	return run.Clone()
}

// Start begins executing a queued run in the background
func (m *Manager) Start(ctx context.Context, runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown run: %s", runID)
	}
	if run.Status != domain.RunQueued {
		m.mu.Unlock()
		return fmt.Errorf("run %s is %s, not queued", runID, run.Status)
	}
	run.Status = domain.RunRunning
	run.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.queueSave(run)
	go m.process(ctx, run)
	return nil
}

// Get returns a snapshot of one run, or nil if unknown
func (m *Manager) Get(runID string) *domain.BuildRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil
	}
	return run.Clone()
}

// List returns snapshots of all runs, newest first
func (m *Manager) List() []*domain.BuildRun {
	m.mu.RLock()
	out := make([]*domain.BuildRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Pause requests a pause. The run keeps finishing its current ticket and
// stops before starting the next one.
func (m *Manager) Pause(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("unknown run: %s", runID)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already %s", runID, run.Status)
	}
	run.Paused = true
	run.UpdatedAt = time.Now()
	return nil
}

// Resume clears a pause request
func (m *Manager) Resume(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("unknown run: %s", runID)
	}
	run.Paused = false
	run.UpdatedAt = time.Now()
	return nil
}

// process executes the run's tickets in order. It is the only writer of
// ticket status for this run.
func (m *Manager) process(ctx context.Context, run *domain.BuildRun) {
	provider, err := m.pool.ResolveProvider(ctx, run.Input.SandboxID)
	if err != nil {
		m.finishFailed(run, fmt.Sprintf("resolving sandbox %s: %v", run.Input.SandboxID, err))
		return
	}

	m.events.Append(domain.EventRunStarted, run.ID, nil)

	for _, ticket := range run.Tickets {
		if run.Input.OnlyTicketID != "" && ticket.ID != run.Input.OnlyTicketID {
			m.setTicketStatus(run, ticket, domain.TicketSkipped, "")
			m.events.Append(domain.EventTicketSkipped, run.ID, map[string]any{"ticketId": ticket.ID})
			continue
		}

		if !m.waitIfPaused(ctx, run) {
			m.finishFailed(run, "canceled")
			return
		}

		m.beginTicket(run, ticket)
		m.events.Append(domain.EventTicketStarted, run.ID, map[string]any{
			"ticketId": ticket.ID,
			"title":    ticket.Title,
		})

		if err := m.gen.GenerateTicket(ctx, run, ticket, provider); err != nil {
			m.logger.Warn("ticket failed", "run", run.ID, "ticket", ticket.ID, "error", err)
			m.setTicketStatus(run, ticket, domain.TicketFailed, err.Error())
			m.events.Append(domain.EventTicketFailed, run.ID, map[string]any{
				"ticketId": ticket.ID,
				"error":    err.Error(),
			})
			continue
		}

		if m.verifier != nil && !run.Input.SkipIntegrationGate {
			m.verify(ctx, run, ticket, provider, m.verifier, "integration")
		}
		if m.reviewer != nil && !run.Input.SkipPrReview {
			m.verify(ctx, run, ticket, provider, m.reviewer, "pr_review")
		}

		m.setTicketStatus(run, ticket, domain.TicketCompleted, "")
		m.events.Append(domain.EventTicketCompleted, run.ID, map[string]any{"ticketId": ticket.ID})
	}

	m.finish(run)
}

// verify runs one gate after a ticket. The result is published for
// observers but never fails the ticket.
func (m *Manager) verify(ctx context.Context, run *domain.BuildRun, ticket *domain.Ticket, p sandbox.Provider, v Verifier, gate string) {
	result, err := v.Run(ctx, p)
	if err != nil {
		m.logger.Warn("verification errored", "run", run.ID, "ticket", ticket.ID, "gate", gate, "error", err)
		return
	}
	m.events.Append(domain.EventVerification, run.ID, map[string]any{
		"ticketId":      ticket.ID,
		"gate":          gate,
		"finalStatus":   string(result.FinalStatus),
		"totalAttempts": result.TotalAttempts,
	})
}

// waitIfPaused blocks at a ticket boundary while the pause flag is set.
// Returns false if the context was canceled while waiting.
func (m *Manager) waitIfPaused(ctx context.Context, run *domain.BuildRun) bool {
	m.mu.Lock()
	paused := run.Paused
	if paused {
		run.Status = domain.RunPaused
		run.UpdatedAt = time.Now()
	}
	m.mu.Unlock()

	if !paused {
		return true
	}

	m.queueSave(run)
	m.events.Append(domain.EventRunPaused, run.ID, nil)
	m.logger.Info("run paused", "run", run.ID)

	ticker := time.NewTicker(pauseCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			m.mu.Lock()
			if !run.Paused {
				run.Status = domain.RunRunning
				run.UpdatedAt = time.Now()
				m.mu.Unlock()
				m.queueSave(run)
				m.events.Append(domain.EventRunResumed, run.ID, nil)
				m.logger.Info("run resumed", "run", run.ID)
				return true
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) beginTicket(run *domain.BuildRun, ticket *domain.Ticket) {
	m.mu.Lock()
	ticket.Status = domain.TicketInProgress
	run.CurrentTicketID = ticket.ID
	run.UpdatedAt = time.Now()
	m.mu.Unlock()
	m.queueSave(run)
}

func (m *Manager) setTicketStatus(run *domain.BuildRun, ticket *domain.Ticket, status domain.TicketStatus, errMsg string) {
	m.mu.Lock()
	ticket.Status = status
	ticket.Error = errMsg
	run.UpdatedAt = time.Now()
	m.mu.Unlock()
	m.queueSave(run)
}

// finish settles the final run status. A run with at least one completed
// ticket counts as completed; failed tickets alone do not doom the run
// unless nothing completed at all.
func (m *Manager) finish(run *domain.BuildRun) {
	var completed, failed, skipped int
	m.mu.Lock()
	for _, t := range run.Tickets {
		switch t.Status {
		case domain.TicketCompleted:
			completed++
		case domain.TicketFailed:
			failed++
		case domain.TicketSkipped:
			skipped++
		}
	}
	run.CurrentTicketID = ""
	run.UpdatedAt = time.Now()
	if completed > 0 || failed == 0 {
		run.Status = domain.RunCompleted
	} else {
		run.Status = domain.RunFailed
		run.Error = "all tickets failed"
	}
	status := run.Status
	errMsg := run.Error
	m.mu.Unlock()

	m.queueSave(run)
	if status == domain.RunCompleted {
		m.events.Append(domain.EventRunCompleted, run.ID, map[string]any{
			"completed": completed,
			"failed":    failed,
			"skipped":   skipped,
		})
	} else {
		m.events.Append(domain.EventRunFailed, run.ID, map[string]any{"error": errMsg})
	}
	m.logger.Info("run finished", "run", run.ID, "status", string(status),
		"completed", completed, "failed", failed, "skipped", skipped)
}

// finishFailed marks the run failed before any ticket ran
func (m *Manager) finishFailed(run *domain.BuildRun, errMsg string) {
	m.mu.Lock()
	run.Status = domain.RunFailed
	run.Error = errMsg
	run.CurrentTicketID = ""
	run.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.queueSave(run)
	m.events.Append(domain.EventRunFailed, run.ID, map[string]any{"error": errMsg})
	m.logger.Error("run failed", "run", run.ID, "error", errMsg)
}

// RecoverRuns loads persisted runs after a restart. Runs that were mid
// flight are marked failed; their sandbox state is gone and replaying
// generation work is not safe.
func (m *Manager) RecoverRuns() error {
	if m.store == nil {
		return nil
	}

	runs, err := m.store.ListRuns()
	if err != nil {
		return fmt.Errorf("listing persisted runs: %w", err)
	}

	for _, run := range runs {
		if run.Status == domain.RunRunning || run.Status == domain.RunPaused || run.Status == domain.RunQueued {
			run.Status = domain.RunFailed
			run.Error = "orchestrator restarted"
			run.Paused = false
			run.CurrentTicketID = ""
			run.UpdatedAt = time.Now()
			m.queueSave(run)
		}

		if events, err := m.store.ListEvents(run.ID); err == nil && len(events) > 0 {
			m.events.Preload(run.ID, events)
		}

		m.mu.Lock()
		m.runs[run.ID] = run
		m.mu.Unlock()
	}

	m.logger.Info("recovered persisted runs", "count", len(runs))
	return nil
}
