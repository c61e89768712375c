package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
// The transport maps it to a JSON-RPC invalid-params error; the session is
// unaffected.
var ErrUnknownTool = errors.New("unknown tool")

// Dispatcher resolves tool names against the shared container and invokes the
// handler. Every tool, regardless of catalog area, goes through the same
// lookup; there are no per-category code paths.
type Dispatcher struct {
	container *toolkit.Container
}

// NewDispatcher builds a Dispatcher over the given container.
func NewDispatcher(c *toolkit.Container) *Dispatcher {
	return &Dispatcher{container: c}
}

// Dispatch looks up req.Name and runs its handler under ctx. Unknown names
// return ErrUnknownTool wrapped with the offending name.
func (d *Dispatcher) Dispatch(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	handler, ok := d.container.Handler(req.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
	}
	return handler(ctx, req)
}

// ListTools returns one page of the tool table.
func (d *Dispatcher) ListTools(cursor string) ([]mcp.Tool, string, error) {
	return d.container.List(cursor)
}
