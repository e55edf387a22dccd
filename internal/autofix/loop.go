// Package autofix implements the bounded verification loop: run the test
// suite, extract typed failures, ask the AI collaborator for literal
// search/replace fixes, apply them through the sandbox provider, retest.
package autofix

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// Status is the terminal outcome of a verification loop
type Status string

const (
	StatusPassed      Status = "passed"
	StatusNoFailures  Status = "no_failures_detected"
	StatusNoFixes     Status = "no_fixes_generated"
	StatusMaxAttempts Status = "max_attempts_reached"
)

// TestExecutor runs the app's test suite inside the sandbox and returns a
// structured report. An execution error (the harness itself failing to
// run) is not the same as failing tests.
type TestExecutor interface {
	RunTests(ctx context.Context, p sandbox.Provider) (*TestReport, error)
}

// FixGenerator asks the AI collaborator for fixes given a failure summary
// and a bounded slice of relevant sources. It must return a strict list;
// an empty list means no fixes could be generated.
type FixGenerator interface {
	GenerateFixes(ctx context.Context, p sandbox.Provider, req FixRequest) ([]Fix, error)
}

// FixRequest is the input handed to the fix generator
type FixRequest struct {
	Failures []Failure         `json:"failures"`
	Sources  map[string]string `json:"sources"`
}

// ReplaceFirstOccurrence is the one edit strategy currently supported: a
// literal substring replacement of the first occurrence of Search. If
// Search is absent from the file the edit is a no-op; that precision
// limit is deliberate, fuzzy matching is not a substitute.
type ReplaceFirstOccurrence struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// Fix is one AI-suggested edit
type Fix struct {
	File          string                 `json:"file"`
	Description   string                 `json:"description,omitempty"`
	SearchReplace ReplaceFirstOccurrence `json:"searchReplace"`
}

// Attempt records one loop iteration for later inspection
type Attempt struct {
	Passed int   `json:"passed"`
	Failed int   `json:"failed"`
	Fixes  []Fix `json:"fixes,omitempty"`
}

// Result is the outcome of a full verification loop
type Result struct {
	FinalStatus   Status    `json:"finalStatus"`
	TotalAttempts int       `json:"totalAttempts"`
	Attempts      []Attempt `json:"attempts"`
}

const (
	defaultMaxAttempts    = 3
	defaultBackoff        = 2 * time.Second
	defaultMaxSourceFiles = 5
)

// Loop is a reusable verification loop configuration
type Loop struct {
	tests          TestExecutor
	fixes          FixGenerator
	maxAttempts    int
	backoff        time.Duration
	maxSourceFiles int
	logger         *log.Logger
}

// Option customizes a Loop
type Option func(*Loop)

// WithMaxAttempts overrides the attempt budget
func WithMaxAttempts(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBackoff overrides the delay between attempts
func WithBackoff(d time.Duration) Option {
	return func(l *Loop) { l.backoff = d }
}

// WithLogger sets the loop's logger
func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a verification loop
func NewLoop(tests TestExecutor, fixes FixGenerator, opts ...Option) *Loop {
	l := &Loop{
		tests:          tests,
		fixes:          fixes,
		maxAttempts:    defaultMaxAttempts,
		backoff:        defaultBackoff,
		maxSourceFiles: defaultMaxSourceFiles,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the loop against one sandbox until the tests pass, no
// progress can be made, or the attempt budget is exhausted.
func (l *Loop) Run(ctx context.Context, p sandbox.Provider) (*Result, error) {
	res := &Result{}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.TotalAttempts = attempt

		report, err := l.tests.RunTests(ctx, p)
		if err != nil {
			// The harness itself failed to run. There is nothing to
			// extract, so the loop ends rather than crashing.
			l.logger.Warn("test execution failed", "attempt", attempt, "error", err)
			res.Attempts = append(res.Attempts, Attempt{})
			res.FinalStatus = StatusNoFailures
			return res, nil
		}

		rec := Attempt{
			Passed: report.Summary.Passed,
			Failed: report.Summary.Failed,
		}

		if report.Summary.Failed == 0 {
			res.Attempts = append(res.Attempts, rec)
			res.FinalStatus = StatusPassed
			return res, nil
		}

		failures := ExtractFailures(report)
		if len(failures) == 0 {
			res.Attempts = append(res.Attempts, rec)
			res.FinalStatus = StatusNoFailures
			return res, nil
		}

		fixes, err := l.fixes.GenerateFixes(ctx, p, FixRequest{
			Failures: failures,
			Sources:  l.collectSources(ctx, p, failures),
		})
		if err != nil || len(fixes) == 0 {
			if err != nil {
				l.logger.Warn("fix generation failed", "attempt", attempt, "error", err)
			}
			res.Attempts = append(res.Attempts, rec)
			res.FinalStatus = StatusNoFixes
			return res, nil
		}

		rec.Fixes = l.applyFixes(ctx, p, fixes)
		res.Attempts = append(res.Attempts, rec)

		l.logger.Info("applied fixes, retesting",
			"attempt", attempt, "failed", report.Summary.Failed, "fixes", len(rec.Fixes))

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(l.backoff):
		}
	}

	res.FinalStatus = StatusMaxAttempts
	return res, nil
}

// collectSources reads a bounded set of files named by the failures so
// the fix generator sees the code it is patching
func (l *Loop) collectSources(ctx context.Context, p sandbox.Provider, failures []Failure) map[string]string {
	sources := make(map[string]string)
	for _, f := range failures {
		if f.File == "" || len(sources) >= l.maxSourceFiles {
			continue
		}
		if _, ok := sources[f.File]; ok {
			continue
		}
		content, err := p.ReadFile(ctx, f.File)
		if err != nil {
			continue
		}
		sources[f.File] = content
	}
	return sources
}

// applyFixes performs each literal replacement and returns the fixes that
// actually changed a file. A fix whose search string is absent leaves the
// file byte-for-byte unchanged and is not recorded as applied.
func (l *Loop) applyFixes(ctx context.Context, p sandbox.Provider, fixes []Fix) []Fix {
	var applied []Fix
	for _, fix := range fixes {
		if fix.File == "" || fix.SearchReplace.Search == "" {
			continue
		}

		content, err := p.ReadFile(ctx, fix.File)
		if err != nil {
			l.logger.Warn("reading fix target failed", "file", fix.File, "error", err)
			continue
		}
		if !strings.Contains(content, fix.SearchReplace.Search) {
			continue
		}

		updated := strings.Replace(content, fix.SearchReplace.Search, fix.SearchReplace.Replace, 1)
		if err := p.WriteFile(ctx, fix.File, updated); err != nil {
			l.logger.Warn("writing fix failed", "file", fix.File, "error", err)
			continue
		}
		applied = append(applied, fix)
	}
	return applied
}
