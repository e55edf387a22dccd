package autofix

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// memProvider serves files from a map and records writes
type memProvider struct {
	files  map[string]string
	writes int
}

func (m *memProvider) RunCommand(ctx context.Context, cmd string) (*sandbox.CommandResult, error) {
	return &sandbox.CommandResult{Success: true}, nil
}
func (m *memProvider) ReadFile(ctx context.Context, path string) (string, error) {
	content, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}
func (m *memProvider) WriteFile(ctx context.Context, path, content string) error {
	m.files[path] = content
	m.writes++
	return nil
}
func (m *memProvider) InstallPackages(ctx context.Context, names []string) (*sandbox.InstallResult, error) {
	return &sandbox.InstallResult{Success: true}, nil
}
func (m *memProvider) RestartDevServer(ctx context.Context) error { return nil }
func (m *memProvider) Info(ctx context.Context) (*sandbox.Info, error) {
	return &sandbox.Info{SandboxID: "sb-1"}, nil
}
func (m *memProvider) Capabilities() sandbox.Capabilities { return sandbox.Capabilities{} }
func (m *memProvider) Close() error                       { return nil }

// seqExecutor returns one scripted report per attempt
type seqExecutor struct {
	reports []*TestReport
	errs    []error
	calls   int
}

func (e *seqExecutor) RunTests(ctx context.Context, p sandbox.Provider) (*TestReport, error) {
	i := e.calls
	e.calls++
	if i < len(e.errs) && e.errs[i] != nil {
		return nil, e.errs[i]
	}
	if i >= len(e.reports) {
		i = len(e.reports) - 1
	}
	return e.reports[i], nil
}

type seqFixer struct {
	fixSets [][]Fix
	err     error
	calls   int
}

func (f *seqFixer) GenerateFixes(ctx context.Context, p sandbox.Provider, req FixRequest) ([]Fix, error) {
	i := f.calls
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if i >= len(f.fixSets) {
		return nil, nil
	}
	return f.fixSets[i], nil
}

func failingReport(n int) *TestReport {
	report := &TestReport{Summary: Summary{Total: n, Failed: n}}
	for i := 0; i < n; i++ {
		report.Playwright = append(report.Playwright, PlaywrightFailure{
			Test:  fmt.Sprintf("test-%d", i),
			Error: "expected heading to be visible",
			File:  "src/App.tsx",
		})
	}
	return report
}

func passingReport() *TestReport {
	return &TestReport{Summary: Summary{Total: 5, Passed: 5}}
}

func newTestLoop(tests TestExecutor, fixes FixGenerator, opts ...Option) *Loop {
	opts = append([]Option{WithBackoff(time.Millisecond)}, opts...)
	return NewLoop(tests, fixes, opts...)
}

func TestLoop_PassesFirstAttempt(t *testing.T) {
	loop := newTestLoop(&seqExecutor{reports: []*TestReport{passingReport()}}, &seqFixer{})
	p := &memProvider{files: map[string]string{}}

	res, err := loop.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusPassed {
		t.Errorf("FinalStatus = %q, want passed", res.FinalStatus)
	}
	if res.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", res.TotalAttempts)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Passed != 5 {
		t.Errorf("Attempts = %+v, want one attempt with 5 passed", res.Attempts)
	}
}

func TestLoop_PassesOnThirdAttempt(t *testing.T) {
	tests := &seqExecutor{reports: []*TestReport{
		failingReport(2),
		failingReport(1),
		passingReport(),
	}}
	fixes := &seqFixer{fixSets: [][]Fix{
		{{File: "src/App.tsx", SearchReplace: ReplaceFirstOccurrence{Search: "<h2>", Replace: "<h1>"}}},
		{{File: "src/App.tsx", SearchReplace: ReplaceFirstOccurrence{Search: "hidden", Replace: "visible"}}},
	}}
	p := &memProvider{files: map[string]string{
		"src/App.tsx": "<h2>hidden title</h2>",
	}}

	loop := newTestLoop(tests, fixes)
	res, err := loop.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusPassed {
		t.Errorf("FinalStatus = %q, want passed", res.FinalStatus)
	}
	if res.TotalAttempts != 3 {
		t.Errorf("TotalAttempts = %d, want 3", res.TotalAttempts)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("got %d attempt records, want 3", len(res.Attempts))
	}
	if len(res.Attempts[0].Fixes) != 1 || len(res.Attempts[1].Fixes) != 1 {
		t.Error("first two attempts should record their applied fixes")
	}
	if p.files["src/App.tsx"] != "<h1>visible title</h2>" {
		t.Errorf("file = %q, want both fixes applied", p.files["src/App.tsx"])
	}
}

func TestLoop_MaxAttemptsReached(t *testing.T) {
	tests := &seqExecutor{reports: []*TestReport{failingReport(1)}}
	fixes := &seqFixer{fixSets: [][]Fix{
		{{File: "src/App.tsx", SearchReplace: ReplaceFirstOccurrence{Search: "a", Replace: "b"}}},
		{{File: "src/App.tsx", SearchReplace: ReplaceFirstOccurrence{Search: "b", Replace: "c"}}},
		{{File: "src/App.tsx", SearchReplace: ReplaceFirstOccurrence{Search: "c", Replace: "d"}}},
	}}
	p := &memProvider{files: map[string]string{"src/App.tsx": "aaa"}}

	loop := newTestLoop(tests, fixes)
	res, err := loop.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusMaxAttempts {
		t.Errorf("FinalStatus = %q, want max_attempts_reached", res.FinalStatus)
	}
	if res.TotalAttempts != 3 {
		t.Errorf("TotalAttempts = %d, want 3", res.TotalAttempts)
	}
}

func TestLoop_HarnessErrorEndsLoop(t *testing.T) {
	tests := &seqExecutor{
		reports: []*TestReport{nil},
		errs:    []error{fmt.Errorf("playwright binary missing")},
	}
	loop := newTestLoop(tests, &seqFixer{})

	res, err := loop.Run(context.Background(), &memProvider{files: map[string]string{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusNoFailures {
		t.Errorf("FinalStatus = %q, want no_failures_detected", res.FinalStatus)
	}
	if res.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", res.TotalAttempts)
	}
}

func TestLoop_NoExtractableFailures(t *testing.T) {
	// Failed count without any typed failure details
	report := &TestReport{Summary: Summary{Total: 3, Failed: 1, Passed: 2}}
	loop := newTestLoop(&seqExecutor{reports: []*TestReport{report}}, &seqFixer{})

	res, err := loop.Run(context.Background(), &memProvider{files: map[string]string{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusNoFailures {
		t.Errorf("FinalStatus = %q, want no_failures_detected", res.FinalStatus)
	}
}

func TestLoop_NoFixesGenerated(t *testing.T) {
	loop := newTestLoop(&seqExecutor{reports: []*TestReport{failingReport(1)}}, &seqFixer{})
	p := &memProvider{files: map[string]string{"src/App.tsx": "content"}}

	res, err := loop.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusNoFixes {
		t.Errorf("FinalStatus = %q, want no_fixes_generated", res.FinalStatus)
	}
	if res.TotalAttempts != 1 {
		t.Errorf("TotalAttempts = %d, want 1", res.TotalAttempts)
	}
}

func TestLoop_GeneratorErrorEndsLoop(t *testing.T) {
	loop := newTestLoop(
		&seqExecutor{reports: []*TestReport{failingReport(1)}},
		&seqFixer{err: fmt.Errorf("model overloaded")},
	)

	res, err := loop.Run(context.Background(), &memProvider{files: map[string]string{"src/App.tsx": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalStatus != StatusNoFixes {
		t.Errorf("FinalStatus = %q, want no_fixes_generated", res.FinalStatus)
	}
}

func TestApplyFixes_SearchMissIsNoOp(t *testing.T) {
	loop := newTestLoop(&seqExecutor{}, &seqFixer{})
	original := "const x = 1\nconst y = 2\n"
	p := &memProvider{files: map[string]string{"src/index.ts": original}}

	applied := loop.applyFixes(context.Background(), p, []Fix{
		{File: "src/index.ts", SearchReplace: ReplaceFirstOccurrence{Search: "const z = 3", Replace: "const z = 4"}},
	})

	if len(applied) != 0 {
		t.Errorf("got %d applied fixes, want 0", len(applied))
	}
	if p.files["src/index.ts"] != original {
		t.Error("file must stay byte-for-byte unchanged on a search miss")
	}
	if p.writes != 0 {
		t.Errorf("got %d writes, want 0", p.writes)
	}
}

func TestApplyFixes_ReplacesFirstOccurrenceOnly(t *testing.T) {
	loop := newTestLoop(&seqExecutor{}, &seqFixer{})
	p := &memProvider{files: map[string]string{"a.txt": "foo bar foo"}}

	applied := loop.applyFixes(context.Background(), p, []Fix{
		{File: "a.txt", SearchReplace: ReplaceFirstOccurrence{Search: "foo", Replace: "baz"}},
	})

	if len(applied) != 1 {
		t.Fatalf("got %d applied fixes, want 1", len(applied))
	}
	if p.files["a.txt"] != "baz bar foo" {
		t.Errorf("file = %q, want only first occurrence replaced", p.files["a.txt"])
	}
}

func TestExtractFailures_LighthouseThresholds(t *testing.T) {
	tests := []struct {
		name   string
		scores LighthouseScores
		want   int
	}{
		{"both healthy", LighthouseScores{Performance: 90, Accessibility: 95}, 0},
		{"perf below floor", LighthouseScores{Performance: 49, Accessibility: 95}, 1},
		{"a11y below floor", LighthouseScores{Performance: 90, Accessibility: 79}, 1},
		{"both below", LighthouseScores{Performance: 10, Accessibility: 10}, 2},
		{"at the floor passes", LighthouseScores{Performance: 50, Accessibility: 80}, 0},
	}

	for _, tt := range tests {
		scores := tt.scores
		got := ExtractFailures(&TestReport{Lighthouse: &scores})
		if len(got) != tt.want {
			t.Errorf("%s: got %d failures, want %d", tt.name, len(got), tt.want)
		}
	}
}

func TestExtractFailures_AllSources(t *testing.T) {
	report := &TestReport{
		Playwright:    []PlaywrightFailure{{Test: "t1", Error: "boom", File: "a.tsx"}},
		Accessibility: []AccessibilityViolation{{ID: "color-contrast", Impact: "serious", Description: "low contrast"}},
		Lighthouse:    &LighthouseScores{Performance: 20, Accessibility: 90},
		Console:       []ConsoleError{{Message: "undefined is not a function"}},
	}

	failures := ExtractFailures(report)
	if len(failures) != 4 {
		t.Fatalf("got %d failures, want 4", len(failures))
	}

	types := map[FailureType]bool{}
	for _, f := range failures {
		types[f.Type] = true
	}
	for _, want := range []FailureType{FailurePlaywright, FailureAccessibility, FailurePerformance, FailureConsole} {
		if !types[want] {
			t.Errorf("missing failure type %q", want)
		}
	}
}
