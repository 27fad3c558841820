package vodserver

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerHostHealth(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "host_health",
		Description: "Report playback health per host: EMA score in [0,1] (0.6 for unseen hosts), success and failure counts, whether the host looks down, and its circuit breaker state. Also lists hosts whose circuits are open, the request queue and the response cache size.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input HostHealthInput) (*mcp.CallToolResult, HostHealthOutput, error) {
		return nil, d.hostHealth(ctx, input), nil
	})
}

func registerHostReport(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "host_report",
		Description: "Record a playback outcome for the host of a stream URL. Successes raise the host score and failures lower it; weight scales the update.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input HostReportInput) (*mcp.CallToolResult, HostStatus, error) {
		out, err := d.hostReport(ctx, input)
		if err != nil {
			return nil, HostStatus{}, err
		}
		return nil, out, nil
	})
}

// hostKey accepts a bare hostname or a URL.
func hostKey(s string) string {
	if strings.Contains(s, "://") {
		return health.HostFromURL(s)
	}
	return health.NormalizeHost(s)
}

func (d Deps) hostStatus(ctx context.Context, host string, e health.Entry, seen bool) HostStatus {
	st := HostStatus{
		Host:       host,
		Score:      health.DefaultScore,
		LikelyDown: d.Tracker.LikelyDown(ctx, host),
		Circuit:    string(d.Engine.CircuitState(host).State),
	}
	if seen {
		st.Score = d.Tracker.Score(ctx, host)
		st.OK, st.Fail = e.OK, e.Fail
	}
	return st
}

func (d Deps) hostHealth(ctx context.Context, input HostHealthInput) HostHealthOutput {
	out := HostHealthOutput{
		Hosts:        []HostStatus{},
		OpenCircuits: d.Engine.OpenCircuits(),
		Circuits:     d.Engine.CircuitStates(),
		Queue:        d.Engine.QueueStatus(),
		CacheEntries: d.Engine.CacheLen(),
	}
	if out.OpenCircuits == nil {
		out.OpenCircuits = []string{}
	}

	snapshot := d.Tracker.Snapshot(ctx)
	var hosts []string
	if len(input.Hosts) > 0 {
		for _, h := range input.Hosts {
			hosts = append(hosts, hostKey(h))
		}
		hosts = toolutil.CompactStrings(hosts)
	} else {
		for h := range snapshot {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
	}

	for _, h := range hosts {
		e, seen := snapshot[h]
		out.Hosts = append(out.Hosts, d.hostStatus(ctx, h, e, seen))
	}
	return out
}

func (d Deps) hostReport(ctx context.Context, input HostReportInput) (HostStatus, error) {
	host := health.HostFromURL(strings.TrimSpace(input.URL))
	if host == "" {
		return HostStatus{}, errors.New("url with a host is required")
	}
	weight := input.Weight
	if weight <= 0 {
		weight = 1
	}
	if err := d.Tracker.Record(ctx, host, input.OK, weight); err != nil {
		return HostStatus{}, err
	}
	e, seen := d.Tracker.Lookup(ctx, host)
	return d.hostStatus(ctx, host, e, seen), nil
}
