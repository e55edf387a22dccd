package sandbox

import "encoding/json"

// The orchestrator talks to a sandbox agent over a WebSocket. Every frame
// is an Envelope; requests carry an id the agent echoes back in its reply.

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type, request id and payload
func MarshalEnvelope(msgType, id string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, ID: id, Payload: payload})
}

// Orchestrator -> Agent messages

// ExecRequest runs a shell command in the sandbox
type ExecRequest struct {
	Command string `json:"command"`
}

// ReadFileRequest reads a file from the sandbox filesystem
type ReadFileRequest struct {
	Path string `json:"path"`
}

// WriteFileRequest replaces a file on the sandbox filesystem
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// InstallRequest installs packages in the sandbox
type InstallRequest struct {
	Packages []string `json:"packages"`
}

// Agent -> Orchestrator messages

// HelloMessage is sent by the agent right after the connection opens and
// declares the sandbox identity and optional capabilities
type HelloMessage struct {
	SandboxID      string `json:"sandbox_id"`
	Provider       string `json:"provider"`
	TemplateTarget string `json:"template_target,omitempty"`
	SupportsVite   bool   `json:"supports_vite"`
	SupportsNext   bool   `json:"supports_next"`
}

// ExecResult reports a finished command
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// FileContent carries the content of a read file
type FileContent struct {
	Content string `json:"content"`
}

// InfoMessage reports sandbox identity, empty SandboxID means not active
type InfoMessage struct {
	SandboxID      string `json:"sandbox_id"`
	Provider       string `json:"provider"`
	TemplateTarget string `json:"template_target,omitempty"`
}

// ErrorMessage reports a failed request
type ErrorMessage struct {
	Message string `json:"message"`
}

// Message type constants
const (
	TypeHello       = "hello"
	TypeExec        = "exec"
	TypeExecResult  = "exec_result"
	TypeReadFile    = "read_file"
	TypeFileContent = "file_content"
	TypeWriteFile   = "write_file"
	TypeInstall     = "install"
	TypeRestart     = "restart"
	TypeInfo        = "info"
	TypeInfoResult  = "info_result"
	TypeAck         = "ack"
	TypeError       = "error"
)
