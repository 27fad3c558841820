package vodserver

import (
	"context"
	"errors"

	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const maxProbeURLs = 50

func registerProbeSources(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "probe_sources",
		Description: "Probe m3u8 playlist URLs (a random sample, default 3) with a short timeout. Returns reachability, ping and the best advertised resolution (1080p, 720p, ...) per URL, and feeds each outcome into host health at half weight.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input ProbeInput) (*mcp.CallToolResult, ProbeOutput, error) {
		out, err := d.probe(ctx, input)
		if err != nil {
			return nil, ProbeOutput{}, err
		}
		return nil, out, nil
	})
}

func (d Deps) probe(ctx context.Context, input ProbeInput) (ProbeOutput, error) {
	urls := toolutil.CompactStrings(input.URLs)
	if len(urls) == 0 {
		return ProbeOutput{}, errors.New("urls is required")
	}
	if len(urls) > maxProbeURLs {
		urls = urls[:maxProbeURLs]
	}
	sample := toolutil.ClampInt(input.Sample, health.DefaultProbeSample, 1, maxProbeURLs)
	return ProbeOutput{Results: d.Prober.SpeedTest(ctx, urls, sample)}, nil
}
