package toolfabric

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hearthai/hearth/internal/mcpclient"
)

// MCPProvider adapts mcpclient's Registry interface so tools discovered
// from configured MCP servers land in the Tool Fabric's namespace
// alongside native tools. It is loaded once at startup from a fixed list
// of servers; MCP servers are not added or removed at runtime.
type MCPProvider struct {
	mu    sync.RWMutex
	tools map[string]mcpclient.RegisteredTool
}

// NewMCPProvider constructs an empty MCPProvider. Call manager.RegisterFromConfig(ctx, provider, servers)
// to populate it.
func NewMCPProvider() *MCPProvider {
	return &MCPProvider{tools: map[string]mcpclient.RegisteredTool{}}
}

// Register implements mcpclient.Registry.
func (p *MCPProvider) Register(t mcpclient.RegisteredTool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools[t.Name()] = t
}

// Unregister implements mcpclient.Registry.
func (p *MCPProvider) Unregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tools, name)
}

// Tools implements Provider.
func (p *MCPProvider) Tools() []Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Tool, 0, len(p.tools))
	for name, t := range p.tools {
		t := t
		schema, _ := json.Marshal(t.JSONSchema())
		out = append(out, Tool{
			Name:   name,
			Schema: schema,
			Call: func(ctx context.Context, args json.RawMessage) (any, error) {
				return t.Call(ctx, args)
			},
		})
	}
	return out
}
