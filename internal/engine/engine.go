// Package engine routes session-scoped MCP requests to the gateway's
// capabilities. The engine is shared across all sessions; per-session state
// (in-flight requests, message streams) is keyed by session ID so protocol
// state never leaks between concurrent clients.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LucidWonk/environment-mcp-gateway/contextdocs"
	"github.com/LucidWonk/environment-mcp-gateway/dispatch"
	"github.com/LucidWonk/environment-mcp-gateway/internal/jsonrpc"
	"github.com/LucidWonk/environment-mcp-gateway/internal/logctx"
	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/sessions"
)

// Engine wires the session registry, the executor, and the per-session
// message host into one request router.
type Engine struct {
	log      *slog.Logger
	registry *sessions.Registry
	executor *dispatch.Executor
	host     sessions.MessageHost

	docs *contextdocs.Store // nil when resources are not exposed

	serverInfo   mcp.ImplementationInfo
	instructions string
}

// Option configures an Engine.
type Option func(*Engine)

// WithResources exposes the context docs store through resources/list and
// resources/read and broadcasts listChanged notifications on doc changes.
func WithResources(docs *contextdocs.Store) Option {
	return func(e *Engine) { e.docs = docs }
}

// WithServerInfo overrides the advertised server identity.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.serverInfo = info }
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(s string) Option {
	return func(e *Engine) { e.instructions = s }
}

// New constructs the engine.
func New(log *slog.Logger, registry *sessions.Registry, executor *dispatch.Executor, host sessions.MessageHost, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		log:      log,
		registry: registry,
		executor: executor,
		host:     host,
		serverInfo: mcp.ImplementationInfo{
			Name:    "environment-mcp-gateway",
			Version: "dev",
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the session registry for transports and status endpoints.
func (e *Engine) Registry() *sessions.Registry { return e.registry }

// Tracker exposes the in-flight tracker for status endpoints.
func (e *Engine) Tracker() *dispatch.Tracker { return e.executor.Tracker() }

// CreateSession admission-checks and registers a new session in state
// connecting, returning its ID. sessions.ErrCapacityExceeded is surfaced to
// the transport before any session-scoped state exists.
func (e *Engine) CreateSession(ctx context.Context, meta sessions.ConnMeta) (string, error) {
	id := sessions.NewSessionID()
	if err := e.registry.Add(id, meta); err != nil {
		if errors.Is(err, sessions.ErrCapacityExceeded) {
			e.log.WarnContext(ctx, "session.create.reject", slog.String("reason", "capacity"))
		}
		return "", err
	}
	e.log.InfoContext(ctx, "session.create.ok", slog.String("session_id", id))
	return id, nil
}

// Initialize answers the handshake for a freshly created session.
func (e *Engine) Initialize(ctx context.Context, sessionID string, req *mcp.InitializeRequest) *mcp.InitializeResult {
	e.log.DebugContext(ctx, "session.initialize",
		slog.String("session_id", sessionID),
		slog.String("client", req.ClientInfo.Name),
		slog.String("protocol_version", req.ProtocolVersion))

	caps := mcp.ServerCapabilities{
		Tools: &mcp.ToolsCapability{},
	}
	if e.docs != nil {
		caps.Resources = &mcp.ResourcesCapability{ListChanged: true}
	}
	return &mcp.InitializeResult{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      e.serverInfo,
		Instructions:    e.instructions,
	}
}

// Handle routes one session-scoped message. Notifications return a nil
// response. Errors returned here are transport-level failures; protocol
// errors are encoded into the returned response.
func (e *Engine) Handle(ctx context.Context, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	sess, err := e.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessionID, State: string(sess.State)})

	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		e.registry.UpdateState(sessionID, sessions.StateConnected)
		e.log.InfoContext(ctx, "session.connected", slog.String("session_id", sessionID))
		return nil, nil

	case mcp.PingMethod:
		e.registry.Touch(sessionID)
		return jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})

	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, sessionID, req)

	case mcp.ToolsCallMethod:
		return e.handleToolsCall(ctx, sessionID, req)

	case mcp.ResourcesListMethod:
		return e.handleResourcesList(ctx, sessionID, req)

	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(ctx, sessionID, req)

	case mcp.CancelledNotificationMethod:
		e.handleCancelled(ctx, sessionID, req)
		return nil, nil

	default:
		if req.IsNotification() {
			e.log.DebugContext(ctx, "rpc.notification.ignored", slog.String("method", req.Method))
			return nil, nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("method not supported: %s", req.Method), nil), nil
	}
}

func (e *Engine) handleToolsList(ctx context.Context, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/list params", nil), nil
		}
	}
	e.registry.Touch(sessionID)

	tools, next, err := e.executor.ListTools(params.Cursor)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{
		Tools:           tools,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (e *Engine) handleToolsCall(ctx context.Context, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil), nil
	}

	res, err := e.executor.Execute(ctx, sessionID, req.ID.String(), &params)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownTool) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unknown tool", params.Name), nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if e.docs == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}
	e.registry.Touch(sessionID)

	resources, err := e.docs.List(ctx)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListResourcesResult{Resources: resources})
}

func (e *Engine) handleResourcesRead(ctx context.Context, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if e.docs == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid resources/read params", nil), nil
	}
	e.registry.Touch(sessionID)

	contents, err := e.docs.Read(ctx, params.URI)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, &mcp.ReadResourceResult{Contents: contents})
}

func (e *Engine) handleCancelled(ctx context.Context, sessionID string, req *jsonrpc.Request) {
	var params mcp.CancelledNotificationParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
		e.log.DebugContext(ctx, "rpc.cancelled.malformed", slog.String("session_id", sessionID))
		return
	}
	var reqID jsonrpc.RequestID
	if err := json.Unmarshal(params.RequestID, &reqID); err != nil || reqID.IsNil() {
		e.log.DebugContext(ctx, "rpc.cancelled.malformed", slog.String("session_id", sessionID))
		return
	}
	hit := e.executor.Tracker().CancelRequest(sessionID, reqID.String(), params.Reason)
	e.log.DebugContext(ctx, "rpc.cancelled",
		slog.String("session_id", sessionID),
		slog.String("request_id", reqID.String()),
		slog.Bool("in_flight", hit))
}

// Disconnect tears a session down: state to disconnected, removal from the
// registry, advisory cancellation of its in-flight requests, and message
// stream cleanup. Safe to call more than once and safe to race with the
// sweep; every step is idempotent. Returns the number of requests cancelled.
func (e *Engine) Disconnect(ctx context.Context, sessionID string) int {
	e.registry.UpdateState(sessionID, sessions.StateDisconnected)
	e.registry.Remove(sessionID)
	n := e.executor.Tracker().CancelSession(sessionID)
	if err := e.host.Cleanup(context.WithoutCancel(ctx), sessionID); err != nil {
		e.log.DebugContext(ctx, "session.cleanup.fail", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
	e.log.InfoContext(ctx, "session.disconnect", slog.String("session_id", sessionID), slog.Int("cancelled", n))
	return n
}

// ExpireSession is the registry sweep hook: the session is already removed,
// so only the out-of-registry teardown remains.
func (e *Engine) ExpireSession(sessionID string) {
	n := e.executor.Tracker().CancelSession(sessionID)
	if err := e.host.Cleanup(context.Background(), sessionID); err != nil {
		e.log.Debug("session.cleanup.fail", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
	if n > 0 {
		e.log.Info("session.expire.cancelled", slog.String("session_id", sessionID), slog.Int("cancelled", n))
	}
}

// StreamSession delivers the session's ordered server-to-client messages to
// handler until ctx ends. lastEventID resumes after a prior event.
func (e *Engine) StreamSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunction) error {
	if _, err := e.registry.Get(sessionID); err != nil {
		return err
	}
	return e.host.Subscribe(ctx, sessionID, lastEventID, handler)
}

// PublishToSession appends a JSON-RPC message to the session's event stream.
func (e *Engine) PublishToSession(ctx context.Context, sessionID string, msg any) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal stream message: %w", err)
	}
	return e.host.Publish(ctx, sessionID, b)
}

// Run executes the engine's background work until ctx ends: currently the
// resources listChanged fan-out driven by the docs watcher.
func (e *Engine) Run(ctx context.Context) error {
	if e.docs == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	go e.docs.Watch(ctx)

	ch := e.docs.Notifier().Subscriber()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			e.broadcastResourcesChanged(ctx)
		}
	}
}

func (e *Engine) broadcastResourcesChanged(ctx context.Context) {
	note, err := jsonrpc.NewNotification(string(mcp.ResourcesListChangedNotificationMethod), nil)
	if err != nil {
		return
	}
	b, err := json.Marshal(note)
	if err != nil {
		return
	}
	for _, id := range e.registry.ActiveIDs() {
		if _, err := e.host.Publish(ctx, id, b); err != nil {
			e.log.DebugContext(ctx, "notify.resources.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		}
	}
}
