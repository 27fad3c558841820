// Package vodserver exposes the catalog engine as MCP tools.
package vodserver

import (
	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/vod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Deps are the services the tools run against.
type Deps struct {
	Manager *vod.Manager
	Engine  *engine.Engine
	Tracker *health.Tracker
	Prober  *health.Prober
}

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 7

// RegisterTools registers the catalog tools on the given MCP server:
// vod_search, vod_detail, vod_providers, host_health, host_report,
// probe_sources and engine_reset.
func RegisterTools(server *mcp.Server, d Deps) {
	registerVodSearch(server, d)
	registerVodDetail(server, d)
	registerVodProviders(server, d)
	registerHostHealth(server, d)
	registerHostReport(server, d)
	registerProbeSources(server, d)
	registerEngineReset(server, d)
}
