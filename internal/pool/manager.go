// Package pool maintains the set of sandbox providers: a warm, unassigned
// subset kept ready ahead of demand, and the assigned providers in use by
// runs. Resolution follows a fixed precedence so an existing sandbox is
// never provisioned twice.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// Factory constructs a provider for a sandbox id. The returned provider
// may not be connected to a live sandbox yet; callers verify liveness
// through Info before trusting it.
type Factory interface {
	New(ctx context.Context, sandboxID string) (sandbox.Provider, error)
}

// Targets holds the steady-state and elevated warm pool sizes
type Targets struct {
	Baseline int `json:"baseline"`
	Burst    int `json:"burst"`
}

// Status is a snapshot of the pool's live state
type Status struct {
	Warm        int      `json:"warm"`
	Assigned    int      `json:"assigned"`
	WarmIDs     []string `json:"warmIds"`
	AssignedIDs []string `json:"assignedIds"`
	LastError   string   `json:"lastError,omitempty"`
}

// AdoptResult reports how many externally-known sandboxes were reattached
type AdoptResult struct {
	Adopted   int `json:"adopted"`
	Attempted int `json:"attempted"`
}

// Manager owns the provider registry and the warm pool
type Manager struct {
	factory Factory
	logger  *log.Logger

	mu       sync.Mutex
	targets  Targets
	assigned map[string]sandbox.Provider
	warm     map[string]sandbox.Provider
	active   sandbox.Provider // legacy process-wide fallback, see ResolveProvider
	lastErr  string
}

// NewManager creates a pool manager. The factory is the last-resort
// provider source; logger may be nil.
func NewManager(factory Factory, targets Targets, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		factory:  factory,
		logger:   logger,
		targets:  targets,
		assigned: make(map[string]sandbox.Provider),
		warm:     make(map[string]sandbox.Provider),
	}
}

// GetProvider returns the provider already registered under the exact
// sandbox id, or nil. It never creates one. A warm instance matching the
// id is claimed (warm -> assigned) atomically.
func (m *Manager) GetProvider(sandboxID string) sandbox.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.assigned[sandboxID]; ok {
		return p
	}
	if p, ok := m.warm[sandboxID]; ok {
		delete(m.warm, sandboxID)
		m.assigned[sandboxID] = p
		return p
	}
	return nil
}

// ClaimWarm takes any warm instance, registers it under its own id as
// assigned, and returns it. Returns nil when the pool has no warm instance.
func (m *Manager) ClaimWarm() (string, sandbox.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.warm {
		delete(m.warm, id)
		m.assigned[id] = p
		return id, p
	}
	return "", nil
}

// SetActiveProvider records the legacy "currently active" provider. It is
// consulted during resolution only when its own reported identity matches
// the requested id.
func (m *Manager) SetActiveProvider(p sandbox.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = p
}

// GetOrCreateProvider is the last-resort path: it builds a provider via
// the factory when no registered one exists. The result may not be live;
// callers must check Info before trusting it.
func (m *Manager) GetOrCreateProvider(ctx context.Context, sandboxID string) (sandbox.Provider, error) {
	if p := m.GetProvider(sandboxID); p != nil {
		return p, nil
	}

	created, err := m.factory.New(ctx, sandboxID)
	if err != nil {
		return nil, fmt.Errorf("creating provider for %s: %w", sandboxID, err)
	}

	// Another caller may have registered the id while we were creating.
	// The registered instance wins; the duplicate is discarded.
	m.mu.Lock()
	if p, ok := m.assigned[sandboxID]; ok {
		m.mu.Unlock()
		created.Close()
		return p, nil
	}
	if p, ok := m.warm[sandboxID]; ok {
		delete(m.warm, sandboxID)
		m.assigned[sandboxID] = p
		m.mu.Unlock()
		created.Close()
		return p, nil
	}
	m.assigned[sandboxID] = created
	m.mu.Unlock()

	return created, nil
}

// ResolveProvider resolves a sandbox id to a provider using the fixed
// precedence: (1) exact registration, (2) the legacy active provider when
// its reported identity matches, (3) the factory fallback.
func (m *Manager) ResolveProvider(ctx context.Context, sandboxID string) (sandbox.Provider, error) {
	if p := m.GetProvider(sandboxID); p != nil {
		return p, nil
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		if info, err := active.Info(ctx); err == nil && info != nil && info.SandboxID == sandboxID {
			m.mu.Lock()
			if _, ok := m.assigned[sandboxID]; !ok {
				m.assigned[sandboxID] = active
			}
			p := m.assigned[sandboxID]
			m.mu.Unlock()
			return p, nil
		}
	}

	return m.GetOrCreateProvider(ctx, sandboxID)
}

// EnsureWarmPool grows the warm subset toward target in the background.
// It never blocks and never returns an error; provisioning failures are
// recorded in the pool status.
func (m *Manager) EnsureWarmPool(target int) {
	go m.growWarm(context.Background(), target)
}

// ShrinkPool decommissions excess warm instances down to target in the
// background. Assigned instances are never touched.
func (m *Manager) ShrinkPool(target int) {
	go m.shrinkWarm(target)
}

func (m *Manager) growWarm(ctx context.Context, target int) {
	m.mu.Lock()
	missing := target - len(m.warm)
	m.mu.Unlock()
	if missing <= 0 {
		return
	}

	var g errgroup.Group
	for i := 0; i < missing; i++ {
		g.Go(func() error {
			id := "warm-" + uuid.New().String()
			p, err := m.factory.New(ctx, id)
			if err != nil {
				return fmt.Errorf("provisioning %s: %w", id, err)
			}

			m.mu.Lock()
			// Re-check under lock: a concurrent grow may have filled the pool.
			if len(m.warm) >= target {
				m.mu.Unlock()
				p.Close()
				return nil
			}
			m.warm[id] = p
			m.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.recordError(err)
		m.logger.Warn("warm pool grow incomplete", "target", target, "error", err)
	}
}

func (m *Manager) shrinkWarm(target int) {
	if target < 0 {
		target = 0
	}

	var victims []sandbox.Provider
	m.mu.Lock()
	for id, p := range m.warm {
		if len(m.warm) <= target {
			break
		}
		delete(m.warm, id)
		victims = append(victims, p)
	}
	m.mu.Unlock()

	for _, p := range victims {
		if err := p.Close(); err != nil {
			m.recordError(err)
		}
	}
}

// AdoptKnownSandboxes reconciles externally-remembered sandbox ids with
// the pool by re-establishing a live provider for each. Best effort: an
// individual failure is skipped, never raised.
func (m *Manager) AdoptKnownSandboxes(ctx context.Context, ids []string) AdoptResult {
	res := AdoptResult{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		res.Attempted++

		if m.GetProvider(id) != nil {
			res.Adopted++
			continue
		}

		p, err := m.factory.New(ctx, id)
		if err != nil {
			m.recordError(err)
			continue
		}
		info, err := p.Info(ctx)
		if err != nil || info == nil {
			p.Close()
			if err != nil {
				m.recordError(err)
			}
			continue
		}

		m.mu.Lock()
		if _, ok := m.assigned[id]; ok {
			m.mu.Unlock()
			p.Close()
		} else {
			m.assigned[id] = p
			m.mu.Unlock()
		}
		res.Adopted++
	}

	if res.Attempted > 0 {
		m.logger.Info("sandbox adoption finished", "adopted", res.Adopted, "attempted", res.Attempted)
	}
	return res
}

// GetPoolTargets returns the configured baseline and burst targets
func (m *Manager) GetPoolTargets() Targets {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets
}

// SetPoolTargets replaces the configured targets (config hot reload)
func (m *Manager) SetPoolTargets(t Targets) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = t
}

// GetPoolStatus returns a snapshot of warm and assigned instances
func (m *Manager) GetPoolStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Warm:      len(m.warm),
		Assigned:  len(m.assigned),
		LastError: m.lastErr,
	}
	for id := range m.warm {
		st.WarmIDs = append(st.WarmIDs, id)
	}
	for id := range m.assigned {
		st.AssignedIDs = append(st.AssignedIDs, id)
	}
	sort.Strings(st.WarmIDs)
	sort.Strings(st.AssignedIDs)
	return st
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err.Error()
}
