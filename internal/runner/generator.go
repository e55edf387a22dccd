package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/domain"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/sandbox"
)

// generatorNamespace is a fixed UUID namespace for deriving deterministic
// session IDs, so re-running a ticket resumes the same agent session.
var generatorNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// AgentCommandGenerator implements ticket generation by invoking the AI
// CLI inside the sandbox over the provider connection.
type AgentCommandGenerator struct {
	// Binary is the agent executable on the sandbox PATH, "claude" by default
	Binary string
}

// GenerateTicket runs the agent non-interactively against one ticket
func (g *AgentCommandGenerator) GenerateTicket(ctx context.Context, run *domain.BuildRun, ticket *domain.Ticket, p sandbox.Provider) error {
	binary := g.Binary
	if binary == "" {
		binary = "claude"
	}

	sessionID := uuid.NewSHA1(generatorNamespace, []byte(run.ID+"/"+ticket.ID)).String()

	args := []string{
		binary,
		"--print",
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
		"--session-id", sessionID,
	}
	if run.Input.Model != "" {
		args = append(args, "--model", quoteArg(run.Input.Model))
	}
	args = append(args, "-p", quoteArg(buildTicketPrompt(run, ticket)))

	result, err := p.RunCommand(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("running agent: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("agent exited %d: %s", result.ExitCode, lastLine(result.Stderr))
	}
	return nil
}

// buildTicketPrompt assembles the per-ticket prompt from the run input.
// The plan JSON is passed verbatim; the agent interprets it.
func buildTicketPrompt(run *domain.BuildRun, ticket *domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the following ticket in the current project.\n\n")
	fmt.Fprintf(&b, "Ticket %s: %s\n", ticket.ID, ticket.Title)
	if ticket.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", ticket.Description)
	}
	if len(run.Input.Plan) > 0 {
		fmt.Fprintf(&b, "\nOverall application plan (JSON):\n%s\n", run.Input.Plan)
	}
	if len(run.Input.UIStyle) > 0 {
		fmt.Fprintf(&b, "\nUI style guide (JSON):\n%s\n", run.Input.UIStyle)
	}
	b.WriteString("\nMake the smallest change that completes the ticket. Do not touch unrelated files.")
	return b.String()
}

// quoteArg single-quotes a value for the sandbox shell
func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
