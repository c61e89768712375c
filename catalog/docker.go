package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

type composeArgs struct {
	File string `json:"file,omitempty" jsonschema:"description=Compose file path. Defaults to docker-compose.yml in the project root."`
}

type containerLogsArgs struct {
	Container string `json:"container" jsonschema:"description=Container name or ID."`
	Tail      int    `json:"tail,omitempty" jsonschema:"description=Number of trailing log lines. Defaults to 100."`
}

type containerNameArgs struct {
	Container string `json:"container" jsonschema:"description=Container name or ID."`
}

// DockerTools returns the container infrastructure tool registry. projectRoot
// is the working directory compose commands resolve relative paths from.
func DockerTools(projectRoot string, run CommandRunner) []toolkit.StaticTool {
	if run == nil {
		run = ExecRunner
	}
	docker := func(ctx context.Context, args ...string) (*mcp.CallToolResult, error) {
		out, err := run(ctx, "docker", args...)
		if err != nil {
			return toolkit.Errorf("docker %s failed: %v\n%s", strings.Join(args, " "), err, out), nil
		}
		return toolkit.TextResult(string(out)), nil
	}
	composeFileArgs := func(a composeArgs) []string {
		args := []string{"compose", "--project-directory", projectRoot}
		if a.File != "" {
			args = append(args, "-f", a.File)
		}
		return args
	}

	return []toolkit.StaticTool{
		toolkit.NewTool("docker_compose_up",
			func(ctx context.Context, a composeArgs) (*mcp.CallToolResult, error) {
				return docker(ctx, append(composeFileArgs(a), "up", "-d")...)
			},
			toolkit.WithDescription("Bring the project's compose stack up in detached mode."),
		),
		toolkit.NewTool("docker_compose_down",
			func(ctx context.Context, a composeArgs) (*mcp.CallToolResult, error) {
				return docker(ctx, append(composeFileArgs(a), "down")...)
			},
			toolkit.WithDescription("Stop and remove the project's compose stack."),
		),
		toolkit.NewTool("docker_container_list",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				return docker(ctx, "ps", "--all", "--format", "{{.Names}}\t{{.Status}}\t{{.Image}}")
			},
			toolkit.WithDescription("List all containers with status and image."),
		),
		toolkit.NewTool("docker_container_logs",
			func(ctx context.Context, a containerLogsArgs) (*mcp.CallToolResult, error) {
				if a.Container == "" {
					return toolkit.Errorf("container is required"), nil
				}
				tail := a.Tail
				if tail <= 0 {
					tail = 100
				}
				return docker(ctx, "logs", "--tail", strconv.Itoa(tail), a.Container)
			},
			toolkit.WithDescription("Trailing log lines from a container."),
		),
		toolkit.NewTool("docker_container_restart",
			func(ctx context.Context, a containerNameArgs) (*mcp.CallToolResult, error) {
				if a.Container == "" {
					return toolkit.Errorf("container is required"), nil
				}
				return docker(ctx, "restart", a.Container)
			},
			toolkit.WithDescription("Restart a container."),
		),
		toolkit.NewTool("docker_health_snapshot",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				return docker(ctx, "ps", "--format", "{{.Names}}\t{{.Status}}", "--filter", "health=unhealthy")
			},
			toolkit.WithDescription("Containers currently reporting an unhealthy health check."),
		),
	}
}
