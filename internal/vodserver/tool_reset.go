package vodserver

import (
	"context"
	"log/slog"

	"github.com/anatolykoptev/go_vod/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerEngineReset(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "engine_reset",
		Description: "Close the circuit breakers of the given hosts so they are retried immediately, and optionally drop the response cache.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input ResetInput) (*mcp.CallToolResult, ResetOutput, error) {
		return nil, d.reset(input), nil
	})
}

func (d Deps) reset(input ResetInput) ResetOutput {
	keys := make([]string, 0, len(input.Hosts))
	for _, h := range input.Hosts {
		keys = append(keys, hostKey(h))
	}
	out := ResetOutput{ResetHosts: toolutil.CompactStrings(keys)}
	for _, k := range out.ResetHosts {
		d.Engine.ResetCircuit(k)
	}
	if input.ClearCache {
		d.Engine.ClearCache()
		out.CacheCleared = true
		slog.Info("engine_reset: cache cleared")
	}
	return out
}
