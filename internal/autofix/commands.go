package autofix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// ScriptTestExecutor runs a configured shell command inside the sandbox
// and expects a JSON test report on stdout.
type ScriptTestExecutor struct {
	Command string
}

// RunTests executes the test command and decodes its report. A non-zero
// exit is fine as long as the report parses; failing tests exit non-zero.
func (e *ScriptTestExecutor) RunTests(ctx context.Context, p sandbox.Provider) (*TestReport, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("no test command configured")
	}

	result, err := p.RunCommand(ctx, e.Command)
	if err != nil {
		return nil, fmt.Errorf("running tests: %w", err)
	}

	var report TestReport
	if err := json.Unmarshal([]byte(extractJSON(result.Stdout)), &report); err != nil {
		return nil, fmt.Errorf("parsing test report: %w (stderr: %s)", err, truncate(result.Stderr, 200))
	}
	return &report, nil
}

// CommandFixGenerator shells out to the AI CLI inside the sandbox. The
// request is piped in as JSON and the reply carries the fixes under a
// "fixes" key; a bare fix array is accepted too.
type CommandFixGenerator struct {
	Command string
}

// GenerateFixes invokes the fix command with the request piped to stdin
func (g *CommandFixGenerator) GenerateFixes(ctx context.Context, p sandbox.Provider, req FixRequest) ([]Fix, error) {
	if g.Command == "" {
		return nil, fmt.Errorf("no fix command configured")
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// Sandbox commands run through sh -c on the agent side, so the
	// payload is single-quoted rather than passed as an argv element.
	cmd := fmt.Sprintf("echo %s | %s", shellQuote(string(reqJSON)), g.Command)

	result, err := p.RunCommand(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("running fix command: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("fix command exited %d: %s", result.ExitCode, truncate(result.Stderr, 200))
	}

	raw := extractJSON(result.Stdout)
	var reply struct {
		Fixes []Fix `json:"fixes"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err == nil {
		return reply.Fixes, nil
	}
	var fixes []Fix
	if err := json.Unmarshal([]byte(raw), &fixes); err != nil {
		return nil, fmt.Errorf("parsing fixes: %w", err)
	}
	return fixes, nil
}

// extractJSON trims everything before the first { or [ so reports survive
// tools that print banners ahead of their JSON output
func extractJSON(s string) string {
	obj := strings.IndexAny(s, "{[")
	if obj < 0 {
		return s
	}
	return strings.TrimSpace(s[obj:])
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
