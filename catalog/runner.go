// Package catalog declares the gateway's tool registries: thin, stateless
// wrappers around external CLIs (git, az, docker, PowerShell) plus the
// context-engineering document tools. Each registry returns a slice of
// toolkit.StaticTool for the shared container; no registry keeps state across
// calls.
package catalog

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external command and returns its combined output.
// Injected so tests exercise handlers without the underlying CLIs installed.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner is the production CommandRunner. It derives the subprocess from
// ctx so advisory cancellation kills the child.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}
