package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LucidWonk/environment-mcp-gateway/catalog"
	"github.com/LucidWonk/environment-mcp-gateway/config"
	"github.com/LucidWonk/environment-mcp-gateway/contextdocs"
	"github.com/LucidWonk/environment-mcp-gateway/dispatch"
	"github.com/LucidWonk/environment-mcp-gateway/health"
	"github.com/LucidWonk/environment-mcp-gateway/internal/bearerauth"
	"github.com/LucidWonk/environment-mcp-gateway/internal/engine"
	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/sessions"
	"github.com/LucidWonk/environment-mcp-gateway/sessions/memoryhost"
	"github.com/LucidWonk/environment-mcp-gateway/sessions/redishost"
	"github.com/LucidWonk/environment-mcp-gateway/streaminghttp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (configuration from environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, err := contextdocs.NewStore(log, cfg.DocsDir)
	if err != nil {
		return fmt.Errorf("open docs store: %w", err)
	}

	tools := catalog.GitTools(cfg.ProjectRoot, nil)
	tools = append(tools, catalog.DockerTools(cfg.ProjectRoot, nil)...)
	tools = append(tools, catalog.VMTools(nil)...)
	tools = append(tools, catalog.ContextTools(docs)...)
	if cfg.AzureDevOpsOrg != "" && cfg.AzureDevOpsProject != "" {
		tools = append(tools, catalog.AzureDevOpsTools(catalog.AzureDevOpsConfig{
			Organization: cfg.AzureDevOpsOrg,
			Project:      cfg.AzureDevOpsProject,
		}, nil)...)
	}

	var host sessions.MessageHost
	if cfg.RedisAddr != "" {
		rh, err := redishost.New(redishost.Config{RedisAddr: cfg.RedisAddr})
		if err != nil {
			return fmt.Errorf("connect redis message host: %w", err)
		}
		defer func() { _ = rh.Close() }()
		host = rh
	} else {
		host = memoryhost.New()
	}

	var eng *engine.Engine
	registry := sessions.NewRegistry(
		sessions.WithLogger(log),
		sessions.WithMaxSessions(cfg.MaxSessions),
		sessions.WithIdleTimeout(cfg.SessionIdleTimeout),
		sessions.WithSweepInterval(cfg.SweepInterval),
		sessions.WithExpireFunc(func(sessionID string) {
			if eng != nil {
				eng.ExpireSession(sessionID)
			}
		}),
	)

	tracker := dispatch.NewTracker()
	dispatcher := dispatch.NewDispatcher(toolkit.NewContainer(tools))
	executor := dispatch.NewExecutor(log, dispatcher, tracker, registry)

	eng = engine.New(log, registry, executor, host,
		engine.WithResources(docs),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: "environment-mcp-gateway", Version: version}),
	)

	authenticator := bearerauth.New(bearerauth.Config{Secret: cfg.AuthSecret, Issuer: cfg.AuthIssuer})

	mcpHandler, err := streaminghttp.New(cfg.PublicEndpoint, eng, authenticator, streaminghttp.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	ops := health.New(version, registry, tracker)
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/healthz", ops)
	mux.Handle("/status", ops)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("registry.run.fail", slog.String("err", err.Error()))
		}
	}()
	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("engine.run.fail", slog.String("err", err.Error()))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway.listen", slog.String("addr", cfg.ListenAddr), slog.String("endpoint", cfg.PublicEndpoint))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("gateway.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
