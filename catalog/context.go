package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LucidWonk/environment-mcp-gateway/contextdocs"
	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

type contextGenerateArgs struct {
	Domain   string   `json:"domain" jsonschema:"description=Domain or subsystem the document describes (for example analysis or messaging)."`
	Title    string   `json:"title" jsonschema:"description=Document title."`
	Sections []string `json:"sections,omitempty" jsonschema:"description=Section bodies in order. Each becomes a second-level heading block."`
}

type contextReadArgs struct {
	URI string `json:"uri" jsonschema:"description=Document URI as returned by context_list_docs (contextdocs:// scheme)."`
}

// ContextTools returns the context-engineering document tool registry backed
// by the shared docs store. Generated docs also surface as MCP resources, so
// writes trigger listChanged notifications for all sessions.
func ContextTools(store *contextdocs.Store) []toolkit.StaticTool {
	return []toolkit.StaticTool{
		toolkit.NewTool("context_generate_doc",
			func(ctx context.Context, a contextGenerateArgs) (*mcp.CallToolResult, error) {
				if a.Domain == "" || a.Title == "" {
					return toolkit.Errorf("domain and title are required"), nil
				}
				uri, err := store.Write(ctx, docPath(a.Domain, a.Title), renderDoc(a))
				if err != nil {
					return toolkit.Errorf("generate doc: %v", err), nil
				}
				return toolkit.TextResult(uri), nil
			},
			toolkit.WithDescription("Generate a context-engineering markdown document for a domain. Returns the document URI."),
		),
		toolkit.NewTool("context_list_docs",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				docs, err := store.List(ctx)
				if err != nil {
					return toolkit.Errorf("list docs: %v", err), nil
				}
				var b strings.Builder
				for _, d := range docs {
					fmt.Fprintf(&b, "%s\t%s\n", d.URI, d.Name)
				}
				return toolkit.TextResult(b.String()), nil
			},
			toolkit.WithDescription("List context-engineering documents, one per line as URI and name."),
		),
		toolkit.NewTool("context_read_doc",
			func(ctx context.Context, a contextReadArgs) (*mcp.CallToolResult, error) {
				if a.URI == "" {
					return toolkit.Errorf("uri is required"), nil
				}
				contents, err := store.Read(ctx, a.URI)
				if err != nil {
					return toolkit.Errorf("read doc: %v", err), nil
				}
				return toolkit.TextResult(contents[0].Text), nil
			},
			toolkit.WithDescription("Read a context-engineering document by URI."),
		),
	}
}

func docPath(domain, title string) string {
	return slugify(domain) + "/" + slugify(title) + ".md"
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func renderDoc(a contextGenerateArgs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.Title)
	fmt.Fprintf(&b, "Domain: %s\n\n", a.Domain)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	for i, sec := range a.Sections {
		fmt.Fprintf(&b, "\n## Section %d\n\n%s\n", i+1, sec)
	}
	return b.String()
}
