package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LucidWonk/environment-mcp-gateway/internal/logctx"
	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

// ActivityRecorder is the slice of the session registry the executor needs:
// refreshing a session's idle clock. Satisfied by *sessions.Registry.
type ActivityRecorder interface {
	Touch(sessionID string)
}

// Executor runs tool calls on behalf of sessions. Every execution is
// tracked for its full duration, refreshes the owning session's activity
// timestamp, and is released exactly once no matter which path finishes it.
type Executor struct {
	log        *slog.Logger
	dispatcher *Dispatcher
	tracker    *Tracker
	activity   ActivityRecorder
}

// NewExecutor wires an Executor. activity may be nil when no registry is
// attached (tests).
func NewExecutor(log *slog.Logger, d *Dispatcher, t *Tracker, activity ActivityRecorder) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{log: log, dispatcher: d, tracker: t, activity: activity}
}

// Tracker exposes the underlying tracker for teardown and status paths.
func (e *Executor) Tracker() *Tracker { return e.tracker }

// ListTools returns one page of the tool table.
func (e *Executor) ListTools(cursor string) ([]mcp.Tool, string, error) {
	return e.dispatcher.ListTools(cursor)
}

// Execute runs one tool call for sessionID. The call is tracked from before
// the handler starts until after it returns; completion is deferred so every
// exit path, including panics unwinding through the handler, releases the
// entry. Unknown tool names surface as ErrUnknownTool; handler failures are
// converted to tool-level error results so the session stays usable.
func (e *Executor) Execute(ctx context.Context, sessionID, wireID string, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name, RequestID: wireID})

	h := e.tracker.Start(ctx, sessionID, req.Name, wireID)
	defer h.Complete()

	e.touch(sessionID)

	start := time.Now()
	e.log.DebugContext(ctx, "tool.call.start", slog.String("session_id", sessionID))

	res, err := e.dispatcher.Dispatch(h.Context(), req)

	e.touch(sessionID)

	if err != nil {
		if errors.Is(err, ErrUnknownTool) {
			e.log.WarnContext(ctx, "tool.call.unknown", slog.String("tool", req.Name))
			return nil, err
		}
		e.log.ErrorContext(ctx, "tool.call.fail",
			slog.String("session_id", sessionID),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("err", err.Error()))
		return toolkit.Errorf("tool %s failed: %v", req.Name, err), nil
	}

	e.log.DebugContext(ctx, "tool.call.ok",
		slog.String("session_id", sessionID),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("is_error", res != nil && res.IsError))
	return res, nil
}

func (e *Executor) touch(sessionID string) {
	if e.activity == nil {
		return
	}
	// A vanished session is not an execution failure: the sweep may have won a
	// race with a long-running call.
	e.activity.Touch(sessionID)
}
