package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

// AzureDevOpsConfig identifies the organization and project the pipeline tools
// operate on. Values come from gateway configuration, not per-call arguments,
// so a client cannot point tools at another project.
type AzureDevOpsConfig struct {
	Organization string
	Project      string
}

type pipelineRunArgs struct {
	PipelineID int    `json:"pipelineId" jsonschema:"description=Numeric pipeline definition ID."`
	Branch     string `json:"branch,omitempty" jsonschema:"description=Branch to run against. Defaults to the pipeline default."`
}

type pipelineStatusArgs struct {
	RunID int `json:"runId" jsonschema:"description=Numeric pipeline run ID."`
}

// AzureDevOpsTools returns the pipeline tool registry backed by the az CLI.
func AzureDevOpsTools(cfg AzureDevOpsConfig, run CommandRunner) []toolkit.StaticTool {
	if run == nil {
		run = ExecRunner
	}
	az := func(ctx context.Context, args ...string) (*mcp.CallToolResult, error) {
		full := append(args, "--organization", cfg.Organization, "--project", cfg.Project, "--output", "json")
		out, err := run(ctx, "az", full...)
		if err != nil {
			return toolkit.Errorf("az %s failed: %v\n%s", strings.Join(args, " "), err, out), nil
		}
		return toolkit.TextResult(string(out)), nil
	}

	return []toolkit.StaticTool{
		toolkit.NewTool("azdevops_pipeline_list",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				return az(ctx, "pipelines", "list")
			},
			toolkit.WithDescription("List pipeline definitions in the configured Azure DevOps project."),
		),
		toolkit.NewTool("azdevops_pipeline_run",
			func(ctx context.Context, a pipelineRunArgs) (*mcp.CallToolResult, error) {
				if a.PipelineID <= 0 {
					return toolkit.Errorf("pipelineId is required"), nil
				}
				args := []string{"pipelines", "run", "--id", strconv.Itoa(a.PipelineID)}
				if a.Branch != "" {
					args = append(args, "--branch", a.Branch)
				}
				return az(ctx, args...)
			},
			toolkit.WithDescription("Queue a run of a pipeline definition, optionally on a specific branch."),
		),
		toolkit.NewTool("azdevops_pipeline_status",
			func(ctx context.Context, a pipelineStatusArgs) (*mcp.CallToolResult, error) {
				if a.RunID <= 0 {
					return toolkit.Errorf("runId is required"), nil
				}
				return az(ctx, "pipelines", "runs", "show", "--id", strconv.Itoa(a.RunID))
			},
			toolkit.WithDescription("Show the state and result of a pipeline run."),
		),
	}
}
