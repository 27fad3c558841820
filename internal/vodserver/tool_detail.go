package vodserver

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/anatolykoptev/go_vod/internal/vod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const maxIDLen = 200

var idRe = regexp.MustCompile(`^[\w.-]+$`)

// ErrAdultFiltered is returned for detail lookups on adult providers
// without include_adult.
var ErrAdultFiltered = errors.New("adult content filter is on; provider is not accessible")

func registerVodDetail(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "vod_detail",
		Description: "Fetch the full record of one catalog item by provider key (source) and id, including every play source and its episode URLs. Pass title to try a search match first. format=markdown adds a readable rendering.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input DetailInput) (*mcp.CallToolResult, DetailOutput, error) {
		out, err := d.detail(ctx, input)
		if err != nil {
			return nil, DetailOutput{}, err
		}
		return nil, out, nil
	})
}

// validateID accepts provider ids of word characters, dots and dashes.
func validateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if len(id) > maxIDLen || !idRe.MatchString(id) {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

func (d Deps) detail(ctx context.Context, input DetailInput) (DetailOutput, error) {
	source := strings.TrimSpace(input.Source)
	if source == "" {
		return DetailOutput{}, errors.New("source is required")
	}
	if err := validateID(input.ID); err != nil {
		return DetailOutput{}, err
	}

	p, err := d.Manager.Provider(source)
	if err != nil {
		return DetailOutput{}, err
	}
	if p.IsAdult && !input.IncludeAdult {
		return DetailOutput{}, ErrAdultFiltered
	}

	var r vod.Result
	err = engine.TrackOperation(ctx, "vod_detail", func(ctx context.Context) error {
		var derr error
		r, derr = d.Manager.DetailOrMatch(ctx, p, input.ID, input.Title)
		return derr
	})
	if err != nil {
		slog.Warn("vod_detail: failed", slog.String("source", source), slog.String("id", input.ID), slog.Any("error", err))
		return DetailOutput{}, fmt.Errorf("detail %s/%s: %w", source, input.ID, err)
	}

	out := DetailOutput{Result: r}
	if strings.EqualFold(strings.TrimSpace(input.Format), "markdown") {
		md, err := renderMarkdown(r)
		if err != nil {
			slog.Debug("vod_detail: markdown render failed", slog.Any("error", err))
		} else {
			out.Markdown = md
		}
	}
	return out, nil
}

// renderMarkdown lays r out as HTML and converts it to Markdown.
func renderMarkdown(r vod.Result) (string, error) {
	esc := html.EscapeString
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>", esc(r.Title))

	var meta []string
	for _, v := range []string{r.Year, r.TypeName, r.Class, r.SourceName} {
		if v != "" {
			meta = append(meta, esc(v))
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, "<p><em>%s</em></p>", strings.Join(meta, " / "))
	}
	if r.Poster != "" {
		fmt.Fprintf(&b, `<p><img src="%s" alt="%s"></p>`, esc(r.Poster), esc(r.Title))
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>", esc(r.Description))
	}
	for _, src := range r.PlaySources {
		fmt.Fprintf(&b, "<h2>%s</h2><ol>", esc(src.Name))
		for i, ep := range src.Episodes {
			fmt.Fprintf(&b, `<li><a href="%s">%d</a></li>`, esc(ep), i+1)
		}
		b.WriteString("</ol>")
	}

	md, err := htmltomarkdown.ConvertString(b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}
