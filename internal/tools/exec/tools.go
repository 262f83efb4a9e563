package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/background"
	safeexec "github.com/allyrun/ally/internal/exec"
	"github.com/allyrun/ally/internal/tools/security"
)

// ExecTool runs shell commands: synchronously through the workspace-scoped
// Manager, or detached through the background shell supervisor when
// background is requested.
type ExecTool struct {
	agent.ToolMeta
	name    string
	manager *Manager
	shells  *background.ShellSupervisor
}

// NewExecTool creates an exec tool with the given name.
func NewExecTool(name string, manager *Manager, shells *background.ShellSupervisor) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "exec"
	}
	return &ExecTool{
		ToolMeta: agent.NewToolMeta(true, true, true, false, true, "Prefer narrow, single-purpose commands; long-running commands should use background execution."),
		name:     name,
		manager:  manager,
		shells:   shells,
	}
}

func (t *ExecTool) Name() string { return t.name }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace (supports optional background execution)."
}

func (t *ExecTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (0 = no timeout).",
				"minimum":     0,
			},
			"background": map[string]interface{}{
				"type":        "boolean",
				"description": "Run in background and return a process id.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// ValidateBeforePermission rejects obviously destructive commands before a
// confirmation prompt is ever shown.
func (t *ExecTool) ValidateBeforePermission(ctx context.Context, params json.RawMessage) error {
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil
	}
	if reason := security.ExtractUnsafeReason(input.Command); reason != "" {
		return fmt.Errorf("refusing to run command: %s", reason)
	}
	return nil
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("exec manager unavailable"), nil
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}
	if reason := security.ExtractUnsafeReason(command); reason != "" {
		return toolError("refusing to run command: " + reason), nil
	}
	if input.Cwd != "" {
		cwd, err := safeexec.SanitizeExecutableValue(input.Cwd)
		if err != nil {
			return toolError("unsafe working directory: " + err.Error()), nil
		}
		input.Cwd = cwd
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		if t.shells == nil {
			return toolError("background execution unavailable"), nil
		}
		dir, err := t.manager.ResolveDir(input.Cwd)
		if err != nil {
			return toolError(err.Error()), nil
		}
		snap, err := t.shells.StartProcessWithInput(command, dir, input.Env, input.Input, timeout)
		if err != nil {
			return toolError(err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{
			"status":   "running",
			"shell_id": snap.ID,
		}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	}

	result, err := t.manager.runSync(ctx, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return toolError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ProcessTool inspects and manages background shell processes tracked by
// the supervisor.
type ProcessTool struct {
	agent.ToolMeta
	shells *background.ShellSupervisor
}

// NewProcessTool creates a process tool over the background supervisor.
func NewProcessTool(shells *background.ShellSupervisor) *ProcessTool {
	return &ProcessTool{
		ToolMeta: agent.NewToolMeta(false, true, false, false, false, ""),
		shells:   shells,
	}
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background shell processes (list, status, log, write, kill, remove)."
}

func (t *ProcessTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: list, status, log, write, kill, remove.",
			},
			"shell_id": map[string]interface{}{
				"type":        "string",
				"description": "Shell id for actions that target a process.",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Input for write action.",
			},
			"lines": map[string]interface{}{
				"type":        "integer",
				"description": "For log: return only the last N lines (0 = full buffer).",
				"minimum":     0,
			},
			"filter": map[string]interface{}{
				"type":        "string",
				"description": "For log: keep only lines matching this regex.",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	if t.shells == nil {
		return toolError("background supervisor unavailable"), nil
	}
	var input struct {
		Action  string `json:"action"`
		ShellID string `json:"shell_id"`
		Input   string `json:"input"`
		Lines   int    `json:"lines"`
		Filter  string `json:"filter"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if action == "" {
		return toolError("action is required"), nil
	}

	if action == "list" {
		type row struct {
			ID         string      `json:"id"`
			Command    string      `json:"command"`
			Status     string      `json:"status"`
			StartedAt  time.Time   `json:"started_at"`
			ExitCode   interface{} `json:"exit_code"`
			BufferSize int         `json:"buffer_size"`
		}
		procs := t.shells.ListProcesses()
		rows := make([]row, 0, len(procs))
		for _, p := range procs {
			r := row{ID: p.ID, Command: p.Command, Status: string(p.Status), StartedAt: p.StartedAt, BufferSize: p.BufferSize}
			if p.ExitCode != nil {
				r.ExitCode = *p.ExitCode
			}
			rows = append(rows, r)
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{"processes": rows}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	}

	id := strings.TrimSpace(input.ShellID)
	if id == "" {
		return toolError("shell_id is required"), nil
	}

	switch action {
	case "status":
		snap, ok := t.shells.GetProcess(id)
		if !ok {
			return toolError("process not found: " + id), nil
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{
			"id":          snap.ID,
			"command":     snap.Command,
			"status":      string(snap.Status),
			"started_at":  snap.StartedAt,
			"exit_code":   exitCodeValue(snap.ExitCode),
			"buffer_size": snap.BufferSize,
			"truncated":   snap.Truncated,
		}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	case "log":
		return readShellOutput(t.shells, id, input.Lines, input.Filter)
	case "write":
		if input.Input == "" {
			return toolError("input is required"), nil
		}
		if err := t.shells.WriteStdin(id, input.Input); err != nil {
			return toolError(err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{"status": "written"}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	case "kill":
		if err := t.shells.KillProcess(id, "SIGTERM"); err != nil {
			return toolError(err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{"status": "killed"}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	case "remove":
		if err := t.shells.RemoveProcess(id); err != nil {
			return toolError(err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{"status": "removed"}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil
	}
	return toolError("unsupported action"), nil
}

// BashOutputTool reads buffered output from a background shell started with
// background=true: the last N lines, optionally filtered by a regex.
type BashOutputTool struct {
	agent.ToolMeta
	shells *background.ShellSupervisor
}

// NewBashOutputTool creates the bash_output tool over the supervisor.
func NewBashOutputTool(shells *background.ShellSupervisor) *BashOutputTool {
	return &BashOutputTool{
		ToolMeta: agent.NewToolMeta(false, true, true, false, false, ""),
		shells:   shells,
	}
}

func (t *BashOutputTool) Name() string { return "bash_output" }

func (t *BashOutputTool) Description() string {
	return "Read output from a background shell: the last N lines, optionally only lines matching a regex."
}

func (t *BashOutputTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"shell_id": {"type": "string", "description": "Id returned when the command was started in the background"},
			"lines": {"type": "integer", "minimum": 0, "description": "Return only the last N lines (0 = full buffer)"},
			"filter": {"type": "string", "description": "Keep only lines matching this regular expression"}
		},
		"required": ["shell_id"]
	}`)
}

func (t *BashOutputTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	if t.shells == nil {
		return toolError("background supervisor unavailable"), nil
	}
	var input struct {
		ShellID string `json:"shell_id"`
		Lines   int    `json:"lines"`
		Filter  string `json:"filter"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.ShellID) == "" {
		return toolError("shell_id is required"), nil
	}
	return readShellOutput(t.shells, strings.TrimSpace(input.ShellID), input.Lines, input.Filter)
}

// readShellOutput shapes a filtered tail read shared by bash_output and the
// process tool's log action.
func readShellOutput(shells *background.ShellSupervisor, id string, lines int, filter string) (*agent.ToolResult, error) {
	out, status, err := shells.ReadOutput(id, lines, filter)
	if err != nil {
		return toolError(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(map[string]interface{}{
		"status": string(status),
		"lines":  out,
		"output": strings.Join(out, "\n"),
	}, "", "  ")
	return &agent.ToolResult{Content: string(payload)}, nil
}

func exitCodeValue(code *int) interface{} {
	if code == nil {
		return nil
	}
	return *code
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
