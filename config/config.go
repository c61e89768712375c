// Package config loads the gateway's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds every tunable the gateway reads at startup. Defaults suit a
// single-node local deployment.
type Config struct {
	// ListenAddr is the address the HTTP server binds.
	ListenAddr string `env:"GATEWAY_LISTEN_ADDR,default=:3001"`
	// PublicEndpoint is the externally visible URL of the MCP endpoint.
	PublicEndpoint string `env:"GATEWAY_PUBLIC_ENDPOINT,default=http://localhost:3001/mcp"`

	// MaxSessions caps concurrently live sessions.
	MaxSessions int `env:"GATEWAY_MAX_SESSIONS,default=10"`
	// SessionIdleTimeout is the inactivity horizon before the sweep expires a
	// session.
	SessionIdleTimeout time.Duration `env:"GATEWAY_SESSION_IDLE_TIMEOUT,default=5m"`
	// SweepInterval is the cadence of the idle sweep.
	SweepInterval time.Duration `env:"GATEWAY_SWEEP_INTERVAL,default=60s"`

	// ProjectRoot is the repository the git and docker tools operate on.
	ProjectRoot string `env:"GATEWAY_PROJECT_ROOT,default=."`
	// DocsDir is where context-engineering documents are stored.
	DocsDir string `env:"GATEWAY_DOCS_DIR,default=.context-docs"`

	// AzureDevOpsOrg and AzureDevOpsProject scope the pipeline tools. The
	// registry is skipped entirely when either is empty.
	AzureDevOpsOrg     string `env:"GATEWAY_AZDEVOPS_ORG,default="`
	AzureDevOpsProject string `env:"GATEWAY_AZDEVOPS_PROJECT,default="`

	// AuthSecret enables HS256 bearer auth when non-empty.
	AuthSecret string `env:"GATEWAY_AUTH_SECRET,default="`
	// AuthIssuer, when set, must match token iss claims.
	AuthIssuer string `env:"GATEWAY_AUTH_ISSUER,default="`

	// RedisAddr switches the session message host from in-memory to Redis
	// Streams when non-empty.
	RedisAddr string `env:"GATEWAY_REDIS_ADDR,default="`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"GATEWAY_LOG_LEVEL,default=info"`
}

// Load decodes Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config from environment: %w", err)
	}
	return &cfg, nil
}
