package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	helloTimeout = 10 * time.Second
	readTimeout  = 90 * time.Second // allow missing 2 pings before disconnect
)

// AgentProvider drives a remote sandbox agent over a WebSocket connection.
// It implements Provider. All requests are correlated by id, so the single
// connection can serve interleaved calls.
type AgentProvider struct {
	conn *websocket.Conn
	caps Capabilities
	info Info

	writeMu sync.Mutex // protects conn writes

	mu      sync.Mutex
	pending map[string]chan *EnvelopeRaw
	closed  bool
	readErr error
}

// Dial connects to a sandbox agent and waits for its hello frame, which
// carries identity and capabilities.
func Dial(ctx context.Context, url string) (*AgentProvider, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing sandbox agent: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading agent hello: %w", err)
	}

	var env EnvelopeRaw
	if err := json.Unmarshal(message, &env); err != nil || env.Type != TypeHello {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame from agent: %q", env.Type)
	}
	var hello HelloMessage
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid hello payload: %w", err)
	}

	p := &AgentProvider{
		conn: conn,
		caps: Capabilities{
			RestartVite: hello.SupportsVite,
			RestartNext: hello.SupportsNext,
		},
		info: Info{
			SandboxID:      hello.SandboxID,
			Provider:       hello.Provider,
			TemplateTarget: hello.TemplateTarget,
		},
		pending: make(map[string]chan *EnvelopeRaw),
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go p.readLoop()
	return p, nil
}

func (p *AgentProvider) readLoop() {
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			p.failPending(err)
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		if env.ID == "" {
			continue // unsolicited frame, nothing waits on it
		}

		p.mu.Lock()
		ch := p.pending[env.ID]
		delete(p.pending, env.ID)
		p.mu.Unlock()

		if ch != nil {
			ch <- &env
		}
	}
}

// failPending unblocks every waiting request after the connection dies
func (p *AgentProvider) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

// request sends one envelope and waits for the reply with the same id
func (p *AgentProvider) request(ctx context.Context, msgType string, payload interface{}) (*EnvelopeRaw, error) {
	id := uuid.New().String()
	data, err := MarshalEnvelope(msgType, id, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan *EnvelopeRaw, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("provider closed")
	}
	p.pending[id] = ch
	p.mu.Unlock()

	p.writeMu.Lock()
	err = p.conn.WriteMessage(websocket.TextMessage, data)
	p.writeMu.Unlock()
	if err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("writing %s: %w", msgType, err)
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	case env, ok := <-ch:
		if !ok {
			p.mu.Lock()
			readErr := p.readErr
			p.mu.Unlock()
			return nil, fmt.Errorf("agent connection lost: %w", readErr)
		}
		if env.Type == TypeError {
			var e ErrorMessage
			json.Unmarshal(env.Payload, &e)
			return nil, fmt.Errorf("agent error: %s", e.Message)
		}
		return env, nil
	}
}

// RunCommand executes a shell command in the sandbox
func (p *AgentProvider) RunCommand(ctx context.Context, cmd string) (*CommandResult, error) {
	env, err := p.request(ctx, TypeExec, ExecRequest{Command: cmd})
	if err != nil {
		return nil, err
	}
	var res ExecResult
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return nil, fmt.Errorf("invalid exec result: %w", err)
	}
	return &CommandResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Success:  res.ExitCode == 0,
	}, nil
}

// ReadFile returns the content of a file inside the sandbox
func (p *AgentProvider) ReadFile(ctx context.Context, path string) (string, error) {
	env, err := p.request(ctx, TypeReadFile, ReadFileRequest{Path: path})
	if err != nil {
		return "", err
	}
	var fc FileContent
	if err := json.Unmarshal(env.Payload, &fc); err != nil {
		return "", fmt.Errorf("invalid file content: %w", err)
	}
	return fc.Content, nil
}

// WriteFile replaces the content of a file inside the sandbox
func (p *AgentProvider) WriteFile(ctx context.Context, path, content string) error {
	_, err := p.request(ctx, TypeWriteFile, WriteFileRequest{Path: path, Content: content})
	return err
}

// InstallPackages installs the named packages
func (p *AgentProvider) InstallPackages(ctx context.Context, names []string) (*InstallResult, error) {
	env, err := p.request(ctx, TypeInstall, InstallRequest{Packages: names})
	if err != nil {
		return nil, err
	}
	var res ExecResult
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return nil, fmt.Errorf("invalid install result: %w", err)
	}
	return &InstallResult{
		Success: res.ExitCode == 0,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
	}, nil
}

// RestartDevServer restarts the sandbox's dev server
func (p *AgentProvider) RestartDevServer(ctx context.Context) error {
	if !p.caps.SupportsRestart() {
		return fmt.Errorf("sandbox %s does not support dev server restart", p.info.SandboxID)
	}
	_, err := p.request(ctx, TypeRestart, nil)
	return err
}

// Info reports the sandbox identity, or nil if the agent says the
// sandbox is no longer active
func (p *AgentProvider) Info(ctx context.Context) (*Info, error) {
	env, err := p.request(ctx, TypeInfo, nil)
	if err != nil {
		return nil, err
	}
	var msg InfoMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid info result: %w", err)
	}
	if msg.SandboxID == "" {
		return nil, nil
	}
	return &Info{
		SandboxID:      msg.SandboxID,
		Provider:       msg.Provider,
		TemplateTarget: msg.TemplateTarget,
	}, nil
}

// Capabilities reports the optional operations this provider supports
func (p *AgentProvider) Capabilities() Capabilities {
	return p.caps
}

// Close closes the underlying connection
func (p *AgentProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.conn.Close()
}
