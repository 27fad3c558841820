package vodserver

import (
	"context"

	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerVodProviders(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "vod_providers",
		Description: "List configured providers with the adapter that serves each one, the HTML link strategies of special sources, the API host and its circuit state. Also lists registered adapters in selection order.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input ProvidersInput) (*mcp.CallToolResult, ProvidersOutput, error) {
		return nil, d.providers(input), nil
	})
}

func (d Deps) providers(input ProvidersInput) ProvidersOutput {
	out := ProvidersOutput{
		Providers: []ProviderStatus{},
		Adapters:  d.Manager.Adapters(),
	}
	for _, info := range d.Manager.Describe() {
		if info.Disabled && !input.IncludeDisabled {
			continue
		}
		st := ProviderStatus{Provider: info, Host: health.HostFromURL(info.API)}
		if st.Host != "" {
			st.Circuit = string(d.Engine.CircuitState(st.Host).State)
		}
		out.Providers = append(out.Providers, st)
	}
	return out
}
