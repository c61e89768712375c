package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/LucidWonk/environment-mcp-gateway/mcp"
	"github.com/LucidWonk/environment-mcp-gateway/toolkit"
)

type vmProvisionArgs struct {
	Name     string `json:"name" jsonschema:"description=Name for the new virtual machine."`
	MemoryGB int    `json:"memoryGb,omitempty" jsonschema:"description=Startup memory in GiB. Defaults to 4."`
	Switch   string `json:"switch,omitempty" jsonschema:"description=Virtual switch to attach. Defaults to Default Switch."`
}

type vmNameArgs struct {
	Name string `json:"name" jsonschema:"description=Virtual machine name."`
}

// VMTools returns the Hyper-V virtual machine tool registry. Commands go
// through powershell.exe so the gateway can manage a Windows hypervisor host.
func VMTools(run CommandRunner) []toolkit.StaticTool {
	if run == nil {
		run = ExecRunner
	}
	ps := func(ctx context.Context, script string) (*mcp.CallToolResult, error) {
		out, err := run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
		if err != nil {
			return toolkit.Errorf("powershell failed: %v\n%s", err, out), nil
		}
		return toolkit.TextResult(string(out)), nil
	}
	// VM names reach PowerShell inside single quotes; double any embedded
	// quote so a name cannot break out of the literal.
	quote := func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

	return []toolkit.StaticTool{
		toolkit.NewTool("vm_list",
			func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) {
				return ps(ctx, "Get-VM | Select-Object Name,State,MemoryAssigned,Uptime | Format-Table -AutoSize | Out-String")
			},
			toolkit.WithDescription("List Hyper-V virtual machines with state and resource usage."),
		),
		toolkit.NewTool("vm_provision",
			func(ctx context.Context, a vmProvisionArgs) (*mcp.CallToolResult, error) {
				if a.Name == "" {
					return toolkit.Errorf("name is required"), nil
				}
				mem := a.MemoryGB
				if mem <= 0 {
					mem = 4
				}
				sw := a.Switch
				if sw == "" {
					sw = "Default Switch"
				}
				script := fmt.Sprintf(
					"New-VM -Name %s -MemoryStartupBytes %dGB -SwitchName %s -Generation 2; Start-VM -Name %s",
					quote(a.Name), mem, quote(sw), quote(a.Name))
				return ps(ctx, script)
			},
			toolkit.WithDescription("Create and start a new Hyper-V virtual machine."),
		),
		toolkit.NewTool("vm_deprovision",
			func(ctx context.Context, a vmNameArgs) (*mcp.CallToolResult, error) {
				if a.Name == "" {
					return toolkit.Errorf("name is required"), nil
				}
				script := fmt.Sprintf(
					"Stop-VM -Name %s -TurnOff -Force; Remove-VM -Name %s -Force",
					quote(a.Name), quote(a.Name))
				return ps(ctx, script)
			},
			toolkit.WithDescription("Force-stop and remove a Hyper-V virtual machine."),
		),
	}
}
