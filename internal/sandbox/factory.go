package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// AgentFactory creates providers by dialing the sandbox agent endpoint.
// It satisfies the pool's factory contract.
type AgentFactory struct {
	// BaseURL is the agent websocket endpoint, e.g. ws://agent:4100
	BaseURL string
}

// New dials the agent for the given sandbox id
func (f *AgentFactory) New(ctx context.Context, sandboxID string) (Provider, error) {
	if f.BaseURL == "" {
		return nil, fmt.Errorf("no agent URL configured")
	}
	endpoint := strings.TrimRight(f.BaseURL, "/") + "/agent?sandbox_id=" + url.QueryEscape(sandboxID)
	return Dial(ctx, endpoint)
}
