package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

type gitLogArgs struct {
	Branch string `json:"branch,omitempty" jsonschema:"description=Branch or ref to log. Defaults to HEAD."`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum commits to return. Defaults to 20."`
}

type gitDiffArgs struct {
	Base string `json:"base" jsonschema:"description=Base ref for the comparison."`
	Head string `json:"head,omitempty" jsonschema:"description=Head ref. Defaults to the working tree."`
}

type gitFetchArgs struct {
	Remote string `json:"remote,omitempty" jsonschema:"description=Remote to fetch. Defaults to origin."`
	Prune  bool   `json:"prune,omitempty" jsonschema:"description=Prune deleted remote branches."`
}

// GitTools returns the git tool registry rooted at repoRoot.
func GitTools(repoRoot string, run CommandRunner) []toolkit.StaticTool {
	if run == nil {
		run = ExecRunner
	}
	git := func(ctx context.Context, args ...string) (*mcp.CallToolResult, error) {
		full := append([]string{"-C", repoRoot}, args...)
		out, err := run(ctx, "git", full...)
		if err != nil {
			return toolkit.Errorf("git %s failed: %v\n%s", strings.Join(args, " "), err, out), nil
		}
		return toolkit.TextResult(string(out)), nil
	}

	return []toolkit.StaticTool{
		toolkit.NewTool("git_status",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				return git(ctx, "status", "--porcelain=v1", "--branch")
			},
			toolkit.WithDescription("Working-tree status of the project repository (porcelain v1 with branch header)."),
		),
		toolkit.NewTool("git_branches",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				return git(ctx, "branch", "--all", "--verbose")
			},
			toolkit.WithDescription("All local and remote-tracking branches with their tips."),
		),
		toolkit.NewTool("git_log",
			func(ctx context.Context, a gitLogArgs) (*mcp.CallToolResult, error) {
				limit := a.Limit
				if limit <= 0 {
					limit = 20
				}
				ref := a.Branch
				if ref == "" {
					ref = "HEAD"
				}
				return git(ctx, "log", "--oneline", "--decorate", "-n", strconv.Itoa(limit), ref)
			},
			toolkit.WithDescription("Recent commit history for a ref, one line per commit."),
		),
		toolkit.NewTool("git_diff_summary",
			func(ctx context.Context, a gitDiffArgs) (*mcp.CallToolResult, error) {
				if a.Base == "" {
					return toolkit.Errorf("base ref is required"), nil
				}
				args := []string{"diff", "--stat", a.Base}
				if a.Head != "" {
					args = []string{"diff", "--stat", fmt.Sprintf("%s...%s", a.Base, a.Head)}
				}
				return git(ctx, args...)
			},
			toolkit.WithDescription("Diffstat between a base ref and a head ref or the working tree."),
		),
		toolkit.NewTool("git_fetch",
			func(ctx context.Context, a gitFetchArgs) (*mcp.CallToolResult, error) {
				remote := a.Remote
				if remote == "" {
					remote = "origin"
				}
				args := []string{"fetch", remote}
				if a.Prune {
					args = append(args, "--prune")
				}
				return git(ctx, args...)
			},
			toolkit.WithDescription("Fetch a remote, optionally pruning deleted branches."),
		),
	}
}
