// Package toolfabric is the Tool Fabric: it exposes a uniform Execute
// surface over native tools and MCP-provided tools, enforces
// per-call profile allow/deny rules, and wraps every failure in a
// structured JSON error envelope so a tool-calling model can recover.
package toolfabric

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrorEnvelope is the structured shape every failed tool call returns
// instead of a bare error string, so a model consuming tool results can
// branch on ErrorCode without parsing prose.
type ErrorEnvelope struct {
	Error     bool   `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	ToolName  string `json:"tool_name"`
	Details   any    `json:"details,omitempty"`
}

// Error codes returned in ErrorEnvelope.ErrorCode.
const (
	ErrCodeNotFound    = "tool_not_found"
	ErrCodeDenied      = "tool_denied_by_profile"
	ErrCodeTimeout     = "tool_timeout"
	ErrCodeInvalidArgs = "tool_invalid_arguments"
	ErrCodeInvocation  = "tool_invocation_failed"
)

func newEnvelope(code, name, msg string, details any) ErrorEnvelope {
	return ErrorEnvelope{Error: true, ErrorCode: code, Message: msg, ToolName: name, Details: details}
}

// Tool is the uniform shape every provider exposes to the fabric,
// matching core.Tool's wire shape: a namespaced name, a JSON schema for
// its arguments, and a Call function.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Call        func(ctx context.Context, args json.RawMessage) (any, error)
}

// Provider supplies a set of Tools to the fabric. NativeProvider and
// MCPProvider both implement it.
type Provider interface {
	Tools() []Tool
}

// Profile performs glob allow/deny matching over a tool name list,
// mirroring core.ToolProfile.
type Profile struct {
	Name  string
	Allow []string
	Deny  []string
}

// Allows reports whether name passes this profile's allow/deny globs. An
// empty Allow list allows everything not explicitly denied; a non-empty
// Allow list permits only names matching one of its patterns.
func (p Profile) Allows(name string) bool {
	for _, d := range p.Deny {
		if ok, _ := path.Match(d, name); ok {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, a := range p.Allow {
		if ok, _ := path.Match(a, name); ok {
			return true
		}
	}
	return false
}

// Fabric aggregates tools from every registered Provider under their
// provider-prefixed names and executes them against a default timeout.
type Fabric struct {
	toolTimeout time.Duration

	mu    sync.RWMutex
	tools map[string]Tool
}

// New constructs an empty Fabric. Providers are registered with
// RegisterProvider after construction so provider setup (e.g. starting
// MCP sessions) can happen independently of the fabric itself.
func New(toolTimeout time.Duration) *Fabric {
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}
	return &Fabric{toolTimeout: toolTimeout, tools: map[string]Tool{}}
}

// RegisterProvider adds every tool a Provider exposes. A later
// registration with the same tool name replaces the earlier one.
func (f *Fabric) RegisterProvider(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range p.Tools() {
		f.tools[t.Name] = t
		log.Debug().Str("tool", t.Name).Msg("toolfabric_registered")
	}
}

// Names returns every registered tool name, for building the model-facing
// tool list (schemas included) under an active Profile.
func (f *Fabric) Names(profile Profile) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for name := range f.tools {
		if profile.Allows(name) {
			out = append(out, name)
		}
	}
	return out
}

// Describe returns the name/description/schema triple for every tool a
// profile allows, the shape a model-facing tool list is built from.
func (f *Fabric) Describe(profile Profile) []Tool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Tool
	for _, t := range f.tools {
		if profile.Allows(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// Execute runs one tool call under the fabric's default timeout and the
// given profile's allow/deny rules. It never returns a Go error: any
// failure is marshaled into args' result position as an ErrorEnvelope, so
// the caller always gets a JSON-serializable value to hand back to the
// model.
func (f *Fabric) Execute(ctx context.Context, profile Profile, name string, args json.RawMessage) any {
	f.mu.RLock()
	tool, ok := f.tools[name]
	f.mu.RUnlock()

	if !ok {
		return newEnvelope(ErrCodeNotFound, name, fmt.Sprintf("no tool registered with name %q", name), nil)
	}
	if !profile.Allows(name) {
		return newEnvelope(ErrCodeDenied, name, fmt.Sprintf("tool %q is not permitted under profile %q", name, profile.Name), nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.toolTimeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := tool.Call(callCtx, args)
		done <- result{val: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		return newEnvelope(ErrCodeTimeout, name, fmt.Sprintf("tool %q did not complete within %s", name, f.toolTimeout), nil)
	case r := <-done:
		if r.err != nil {
			log.Warn().Err(r.err).Str("tool", name).Msg("toolfabric_call_failed")
			return newEnvelope(ErrCodeInvocation, name, r.err.Error(), nil)
		}
		return r.val
	}
}
