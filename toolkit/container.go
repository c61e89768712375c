package toolkit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
)

// Container is the gateway's single tool table: every registered tool, from
// every catalog area, lives here under its unique name. Dispatch is a plain
// name lookup; listing is cursor-paginated and stable for a given snapshot.
type Container struct {
	mu       sync.RWMutex
	order    []string
	tools    map[string]StaticTool
	pageSize int
}

// ContainerOption configures a Container.
type ContainerOption func(*Container)

// WithPageSize sets the tools/list page size. Zero or negative means
// unpaginated listings.
func WithPageSize(n int) ContainerOption {
	return func(c *Container) { c.pageSize = n }
}

// NewContainer builds an empty Container and registers the given tools.
// Registering two tools with the same name panics: tool names are the dispatch
// key and collisions are a wiring bug, not a runtime condition.
func NewContainer(tools []StaticTool, opts ...ContainerOption) *Container {
	c := &Container{tools: make(map[string]StaticTool, len(tools))}
	for _, opt := range opts {
		opt(c)
	}
	for _, t := range tools {
		c.register(t)
	}
	return c
}

func (c *Container) register(t StaticTool) {
	name := t.Descriptor.Name
	if name == "" {
		panic("toolkit: tool with empty name")
	}
	if _, exists := c.tools[name]; exists {
		panic(fmt.Sprintf("toolkit: duplicate tool name %q", name))
	}
	c.tools[name] = t
	c.order = append(c.order, name)
}

// Add registers additional tools after construction. Same collision rules as
// NewContainer.
func (c *Container) Add(tools ...StaticTool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		c.register(t)
	}
}

// Handler returns the handler for name, or (zero, false) when no tool is
// registered under that name.
func (c *Container) Handler(name string) (ToolHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	if !ok {
		return nil, false
	}
	return t.Handler, true
}

// Len reports the number of registered tools.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Snapshot returns all tool descriptors in registration order.
func (c *Container) Snapshot() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name].Descriptor)
	}
	return out
}

// listCursor is the opaque pagination token: base64 of a tiny JSON envelope so
// clients can't depend on its contents.
type listCursor struct {
	Offset int `json:"o"`
}

func encodeCursor(offset int) string {
	b, _ := json.Marshal(listCursor{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	var c listCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Offset < 0 {
		return 0, fmt.Errorf("malformed cursor")
	}
	return c.Offset, nil
}

// List returns one page of tool descriptors starting at cursor (empty for the
// first page) and the cursor for the next page, empty when exhausted.
func (c *Container) List(cursor string) ([]mcp.Tool, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if cursor != "" {
		off, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		start = off
	}
	if start >= len(c.order) {
		return []mcp.Tool{}, "", nil
	}

	end := len(c.order)
	next := ""
	if c.pageSize > 0 && start+c.pageSize < end {
		end = start + c.pageSize
		next = encodeCursor(end)
	}

	out := make([]mcp.Tool, 0, end-start)
	for _, name := range c.order[start:end] {
		out = append(out, c.tools[name].Descriptor)
	}
	return out, next, nil
}
