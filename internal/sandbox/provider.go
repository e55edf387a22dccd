// Package sandbox defines the Provider interface for remote execution
// environments and a websocket-backed implementation that drives a
// sandbox agent process.
package sandbox

import "context"

// CommandResult is the outcome of a shell command inside a sandbox
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Success  bool   `json:"success"`
}

// InstallResult is the outcome of a package install
type InstallResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// Info describes a live sandbox. A nil Info from Provider.Info signals
// that the sandbox is not active.
type Info struct {
	SandboxID      string `json:"sandboxId"`
	Provider       string `json:"provider"`
	TemplateTarget string `json:"templateTarget,omitempty"`
}

// Capabilities lists the optional operations a provider supports,
// resolved once at construction rather than probed per call.
type Capabilities struct {
	RestartVite bool
	RestartNext bool
}

// SupportsRestart returns true if any dev-server restart is available
func (c Capabilities) SupportsRestart() bool {
	return c.RestartVite || c.RestartNext
}

// Provider is one remote execution environment. A single provider is
// exclusively driven by one run's ticket processing at a time.
type Provider interface {
	// RunCommand executes a shell command and waits for completion.
	RunCommand(ctx context.Context, cmd string) (*CommandResult, error)

	// ReadFile returns the content of a file inside the sandbox.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile replaces the content of a file inside the sandbox.
	WriteFile(ctx context.Context, path, content string) error

	// InstallPackages installs the named packages.
	InstallPackages(ctx context.Context, names []string) (*InstallResult, error)

	// RestartDevServer restarts the sandbox's dev server. Only valid
	// when Capabilities reports a restart operation.
	RestartDevServer(ctx context.Context) error

	// Info reports the sandbox identity, or nil if not active.
	Info(ctx context.Context) (*Info, error)

	// Capabilities reports the optional operations this provider supports.
	Capabilities() Capabilities

	// Close releases the provider's connection and resources.
	Close() error
}
