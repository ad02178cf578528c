package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthai/hearth/internal/toolfabric"
)

// FabricAdapter adapts a *toolfabric.Fabric into the graph's ToolExecutor
// interface, fixing the profile a turn's tool calls run under.
type FabricAdapter struct {
	Fabric  *toolfabric.Fabric
	Profile toolfabric.Profile
}

// ExecuteToolCall marshals args to JSON and delegates to the fabric. A
// toolfabric.ErrorEnvelope result is passed straight through as the node's
// tool-result content — the model sees the error code and message, not a
// silently-dropped turn.
func (a FabricAdapter) ExecuteToolCall(ctx context.Context, name string, args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return toolfabric.ErrorEnvelope{Error: true, ErrorCode: "invalid_args", Message: fmt.Sprintf("encoding tool args: %v", err), ToolName: name}
	}
	return a.Fabric.Execute(ctx, a.Profile, name, raw)
}

// ToolNames reports the tool names visible under this adapter's profile, so
// react-reason can advertise the same set it will later be allowed to call.
func (a FabricAdapter) ToolNames() []string {
	return a.Fabric.Names(a.Profile)
}
