package toolfabric

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticProvider struct{ tools []Tool }

func (p staticProvider) Tools() []Tool { return p.tools }

func echoTool(name string) Tool {
	return Tool{
		Name: name,
		Call: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]any{"echo": string(args)}, nil
		},
	}
}

func TestProfileAllowsEverythingByDefault(t *testing.T) {
	p := Profile{}
	require.True(t, p.Allows("anything"))
}

func TestProfileDenyOverridesAllow(t *testing.T) {
	p := Profile{Allow: []string{"web_*"}, Deny: []string{"web_render*"}}
	require.True(t, p.Allows("web_fetch"))
	require.False(t, p.Allows("web_render_page"))
}

func TestProfileAllowlistRestrictsToMatches(t *testing.T) {
	p := Profile{Allow: []string{"native_*"}}
	require.True(t, p.Allows("native_web_fetch"))
	require.False(t, p.Allows("mcp_server_tool"))
}

func TestExecuteUnknownToolReturnsEnvelope(t *testing.T) {
	f := New(time.Second)
	out := f.Execute(context.Background(), Profile{}, "nope", nil)
	env, ok := out.(ErrorEnvelope)
	require.True(t, ok)
	require.True(t, env.Error)
	require.Equal(t, ErrCodeNotFound, env.ErrorCode)
}

func TestExecuteDeniedByProfileReturnsEnvelope(t *testing.T) {
	f := New(time.Second)
	f.RegisterProvider(staticProvider{tools: []Tool{echoTool("restricted")}})
	out := f.Execute(context.Background(), Profile{Deny: []string{"restricted"}}, "restricted", nil)
	env, ok := out.(ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, ErrCodeDenied, env.ErrorCode)
}

func TestExecuteSuccessReturnsToolValue(t *testing.T) {
	f := New(time.Second)
	f.RegisterProvider(staticProvider{tools: []Tool{echoTool("echo")}})
	out := f.Execute(context.Background(), Profile{}, "echo", json.RawMessage(`{"a":1}`))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, m["echo"])
}

func TestExecuteTimeoutReturnsEnvelope(t *testing.T) {
	f := New(10 * time.Millisecond)
	slow := Tool{
		Name: "slow",
		Call: func(ctx context.Context, args json.RawMessage) (any, error) {
			select {
			case <-time.After(time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	f.RegisterProvider(staticProvider{tools: []Tool{slow}})
	out := f.Execute(context.Background(), Profile{}, "slow", nil)
	env, ok := out.(ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, ErrCodeTimeout, env.ErrorCode)
}

func TestExecuteCallErrorReturnsEnvelope(t *testing.T) {
	f := New(time.Second)
	failing := Tool{
		Name: "failing",
		Call: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
	}
	f.RegisterProvider(staticProvider{tools: []Tool{failing}})
	out := f.Execute(context.Background(), Profile{}, "failing", nil)
	env, ok := out.(ErrorEnvelope)
	require.True(t, ok)
	require.Equal(t, ErrCodeInvocation, env.ErrorCode)
	require.Equal(t, "boom", env.Message)
}

func TestErrorEnvelopeRoundTripsThroughJSON(t *testing.T) {
	env := newEnvelope(ErrCodeTimeout, "slow", "took too long", nil)
	b, err := json.Marshal(env)
	require.NoError(t, err)

	var out ErrorEnvelope
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, env, out)
}

func TestWebFetchDenylistMatchesSuffix(t *testing.T) {
	d := WebFetchDenylist{Hosts: []string{"evil.example"}}
	require.True(t, d.blocks("evil.example"))
	require.True(t, d.blocks("sub.evil.example"))
	require.False(t, d.blocks("notevil.example"))
}
