package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// fakeProvider is a minimal in-memory Provider for pool tests
type fakeProvider struct {
	id     string
	live   bool
	closed atomic.Bool
}

func (f *fakeProvider) RunCommand(ctx context.Context, cmd string) (*sandbox.CommandResult, error) {
	return &sandbox.CommandResult{Success: true}, nil
}
func (f *fakeProvider) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (f *fakeProvider) WriteFile(ctx context.Context, path, content string) error { return nil }
func (f *fakeProvider) InstallPackages(ctx context.Context, names []string) (*sandbox.InstallResult, error) {
	return &sandbox.InstallResult{Success: true}, nil
}
func (f *fakeProvider) RestartDevServer(ctx context.Context) error { return nil }
func (f *fakeProvider) Info(ctx context.Context) (*sandbox.Info, error) {
	if !f.live {
		return nil, nil
	}
	return &sandbox.Info{SandboxID: f.id}, nil
}
func (f *fakeProvider) Capabilities() sandbox.Capabilities { return sandbox.Capabilities{} }
func (f *fakeProvider) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeProvider
	fail    bool
}

func (f *fakeFactory) New(ctx context.Context, sandboxID string) (sandbox.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("no capacity")
	}
	p := &fakeProvider{id: sandboxID, live: true}
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestManager(factory Factory) *Manager {
	return NewManager(factory, Targets{Baseline: 2, Burst: 5}, nil)
}

func TestManager_GetProviderClaimsWarm(t *testing.T) {
	m := newTestManager(&fakeFactory{})
	warm := &fakeProvider{id: "sb-1", live: true}
	m.warm["sb-1"] = warm

	got := m.GetProvider("sb-1")
	if got != warm {
		t.Fatal("expected the warm provider to be returned")
	}

	status := m.GetPoolStatus()
	if status.Warm != 0 {
		t.Errorf("got warm=%d, want 0", status.Warm)
	}
	if status.Assigned != 1 {
		t.Errorf("got assigned=%d, want 1", status.Assigned)
	}

	// Second call finds it assigned
	if m.GetProvider("sb-1") != warm {
		t.Error("assigned provider should resolve on repeat lookup")
	}
}

func TestManager_GetProviderUnknownReturnsNil(t *testing.T) {
	m := newTestManager(&fakeFactory{})
	if p := m.GetProvider("nope"); p != nil {
		t.Error("GetProvider must never create providers")
	}
}

func TestManager_ClaimWarm(t *testing.T) {
	m := newTestManager(&fakeFactory{})
	m.warm["sb-a"] = &fakeProvider{id: "sb-a", live: true}

	id, p := m.ClaimWarm()
	if id != "sb-a" || p == nil {
		t.Fatalf("got (%q, %v), want sb-a with provider", id, p)
	}
	if id2, p2 := m.ClaimWarm(); p2 != nil {
		t.Errorf("second claim got %q, want empty pool", id2)
	}
}

func TestManager_GetOrCreateNoDuplicate(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(factory)

	const callers = 10
	var wg sync.WaitGroup
	providers := make([]sandbox.Provider, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := m.GetOrCreateProvider(context.Background(), "sb-1")
			if err != nil {
				t.Error(err)
				return
			}
			providers[i] = p
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if providers[i] != providers[0] {
			t.Fatal("concurrent callers must share one provider instance")
		}
	}
	if status := m.GetPoolStatus(); status.Assigned != 1 {
		t.Errorf("got assigned=%d, want 1", status.Assigned)
	}
}

func TestManager_ResolvePrecedence(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(factory)

	// Exact registration wins over everything
	registered := &fakeProvider{id: "sb-1", live: true}
	m.assigned["sb-1"] = registered
	m.SetActiveProvider(&fakeProvider{id: "sb-1", live: true})

	p, err := m.ResolveProvider(context.Background(), "sb-1")
	if err != nil {
		t.Fatal(err)
	}
	if p != registered {
		t.Error("exact registration should win over the active provider")
	}

	// Active provider serves when its identity matches
	active := &fakeProvider{id: "sb-2", live: true}
	m.SetActiveProvider(active)
	p, err = m.ResolveProvider(context.Background(), "sb-2")
	if err != nil {
		t.Fatal(err)
	}
	if p != active {
		t.Error("active provider with matching identity should be used")
	}
	if factory.count() != 0 {
		t.Errorf("factory created %d providers, want 0 so far", factory.count())
	}

	// Identity mismatch falls through to the factory
	p, err = m.ResolveProvider(context.Background(), "sb-3")
	if err != nil {
		t.Fatal(err)
	}
	if p == active || p == registered {
		t.Error("mismatched id must provision a fresh provider")
	}
	if factory.count() != 1 {
		t.Errorf("factory created %d providers, want 1", factory.count())
	}
}

func TestManager_GrowWarmConverges(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(factory)

	m.growWarm(context.Background(), 3)

	status := m.GetPoolStatus()
	if status.Warm != 3 {
		t.Errorf("got warm=%d, want 3", status.Warm)
	}
	// Growing again toward the same target is a no-op
	m.growWarm(context.Background(), 3)
	if got := m.GetPoolStatus().Warm; got != 3 {
		t.Errorf("got warm=%d after repeat grow, want 3", got)
	}
}

func TestManager_GrowWarmRecordsFailure(t *testing.T) {
	m := newTestManager(&fakeFactory{fail: true})

	m.growWarm(context.Background(), 2)

	status := m.GetPoolStatus()
	if status.Warm != 0 {
		t.Errorf("got warm=%d, want 0", status.Warm)
	}
	if status.LastError == "" {
		t.Error("provisioning failure should be recorded in status")
	}
}

func TestManager_ShrinkWarmSparesAssigned(t *testing.T) {
	m := newTestManager(&fakeFactory{})
	w1 := &fakeProvider{id: "w1", live: true}
	w2 := &fakeProvider{id: "w2", live: true}
	a1 := &fakeProvider{id: "a1", live: true}
	m.warm["w1"] = w1
	m.warm["w2"] = w2
	m.assigned["a1"] = a1

	m.shrinkWarm(0)

	status := m.GetPoolStatus()
	if status.Warm != 0 {
		t.Errorf("got warm=%d, want 0", status.Warm)
	}
	if status.Assigned != 1 {
		t.Errorf("got assigned=%d, want 1", status.Assigned)
	}
	if !w1.closed.Load() || !w2.closed.Load() {
		t.Error("decommissioned warm providers should be closed")
	}
	if a1.closed.Load() {
		t.Error("assigned providers must never be closed by shrink")
	}
}

func TestManager_AdoptKnownSandboxes(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(factory)
	m.assigned["sb-known"] = &fakeProvider{id: "sb-known", live: true}

	res := m.AdoptKnownSandboxes(context.Background(), []string{"sb-known", "sb-new", ""})

	if res.Attempted != 2 {
		t.Errorf("got attempted=%d, want 2", res.Attempted)
	}
	if res.Adopted != 2 {
		t.Errorf("got adopted=%d, want 2", res.Adopted)
	}
	if m.GetProvider("sb-new") == nil {
		t.Error("adopted sandbox should be registered")
	}
}

func TestManager_AdoptSkipsDeadSandboxes(t *testing.T) {
	factory := &fakeFactory{}
	m := newTestManager(factory)

	// Factory connects but the sandbox reports itself inactive
	dead := &deadFactory{}
	m.factory = dead

	res := m.AdoptKnownSandboxes(context.Background(), []string{"sb-gone"})
	if res.Adopted != 0 {
		t.Errorf("got adopted=%d, want 0", res.Adopted)
	}
	if m.GetProvider("sb-gone") != nil {
		t.Error("dead sandbox must not be registered")
	}
}

type deadFactory struct{}

func (deadFactory) New(ctx context.Context, sandboxID string) (sandbox.Provider, error) {
	return &fakeProvider{id: sandboxID, live: false}, nil
}

func TestManager_SetPoolTargets(t *testing.T) {
	m := newTestManager(&fakeFactory{})
	m.SetPoolTargets(Targets{Baseline: 4, Burst: 9})

	got := m.GetPoolTargets()
	if got.Baseline != 4 || got.Burst != 9 {
		t.Errorf("got targets=%+v, want {4 9}", got)
	}
}
