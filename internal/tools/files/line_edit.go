package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/observability"
)

// LineEditTool replaces a line range in a file with new text. Unlike
// EditTool's whole-file find/replace, it addresses lines directly and
// enforces read-before-edit: every line in [Start, End] must have been
// covered by a prior read (or write) of the same file, or the call fails
// with a validation error naming the unread lines.
type LineEditTool struct {
	agent.ToolMeta
	resolver  Resolver
	readState *agent.ReadStateTracker
	patches   *agent.PatchJournal
}

// NewLineEditTool creates a line-addressed edit tool scoped to the workspace.
func NewLineEditTool(cfg Config) *LineEditTool {
	return &LineEditTool{
		ToolMeta:  agent.NewToolMeta(true, true, true, false, true, "Read the target lines first; line_edit rejects edits to lines that have not been read."),
		resolver:  Resolver{Root: cfg.Workspace},
		readState: cfg.ReadState,
		patches:   cfg.Patches,
	}
}

// Name returns the tool name.
func (t *LineEditTool) Name() string { return "line_edit" }

// Description returns the tool description.
func (t *LineEditTool) Description() string {
	return "Replace a 1-indexed line range in a file with new text. Requires the range to have been read first."
}

// Schema returns the JSON schema for the tool parameters.
func (t *LineEditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to workspace).",
			},
			"line": map[string]interface{}{
				"type":        "integer",
				"description": "First 1-indexed line of the range to replace.",
				"minimum":     1,
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "Last 1-indexed line of the range to replace (default: same as line).",
				"minimum":     1,
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text for the range (may span zero or more lines).",
			},
		},
		"required": []string{"path", "line", "new_text"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type lineEditInput struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	EndLine int    `json:"end_line"`
	NewText string `json:"new_text"`
}

func parseLineEditInput(params json.RawMessage) (lineEditInput, error) {
	var input lineEditInput
	if err := json.Unmarshal(params, &input); err != nil {
		return input, err
	}
	if input.EndLine == 0 {
		input.EndLine = input.Line
	}
	return input, nil
}

// ValidateBeforePermission enforces read-before-edit ahead of any
// confirmation prompt, so an unread-range call never reaches the user.
func (t *LineEditTool) ValidateBeforePermission(ctx context.Context, params json.RawMessage) error {
	if t.readState == nil {
		return nil
	}
	input, err := parseLineEditInput(params)
	if err != nil {
		return err
	}
	if input.Line < 1 || input.EndLine < input.Line {
		return fmt.Errorf("validation_error: invalid line range [%d,%d]", input.Line, input.EndLine)
	}
	result := t.readState.ValidateLinesRead(input.Path, input.Line, input.EndLine)
	if !result.OK() {
		return fmt.Errorf("validation_error: lines %s have not been read; re-read them before editing line %d", result.MissingDescription(), input.Line)
	}
	return nil
}

// PreviewChanges renders the line range that would be replaced.
func (t *LineEditTool) PreviewChanges(ctx context.Context, params json.RawMessage) (string, error) {
	input, err := parseLineEditInput(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("will replace %s lines %d-%d", input.Path, input.Line, input.EndLine), nil
}

// Execute replaces the requested line range with NewText.
func (t *LineEditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := parseLineEditInput(params)
	if err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.Line < 1 || input.EndLine < input.Line {
		return toolError(fmt.Sprintf("invalid line range [%d,%d]", input.Line, input.EndLine)), nil
	}

	if t.readState != nil {
		result := t.readState.ValidateLinesRead(input.Path, input.Line, input.EndLine)
		if !result.OK() {
			return toolError(fmt.Sprintf("validation_error: lines %s have not been read; re-read them before editing line %d", result.MissingDescription(), input.Line)), nil
		}
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	if t.patches != nil {
		t.patches.Capture(resolved, observability.GetToolCallID(ctx), string(data), true)
	}

	lines := splitLines(string(data))
	if input.EndLine > len(lines) {
		return toolError(fmt.Sprintf("end_line %d exceeds file length %d", input.EndLine, len(lines))), nil
	}

	replacement := splitLines(input.NewText)
	if input.NewText != "" && !strings.HasSuffix(input.NewText, "\n") {
		// A caller supplying a single unterminated line still wants it
		// treated as one line, not folded into the next.
		replacement = strings.Split(input.NewText, "\n")
	}

	before := lines[:input.Line-1]
	after := lines[input.EndLine:]
	newLines := append(append(append([]string{}, before...), replacement...), after...)
	newContent := strings.Join(newLines, "\n")
	if len(newLines) > 0 {
		newContent += "\n"
	}

	if err := os.WriteFile(resolved, []byte(newContent), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	oldCount := input.EndLine - input.Line + 1
	delta := len(replacement) - oldCount
	if t.readState != nil {
		t.readState.InvalidateAfterEdit(input.Path, input.Line, delta)
		if len(replacement) > 0 {
			t.readState.TrackRead(input.Path, input.Line, input.Line+len(replacement)-1)
		}
	}

	result := map[string]interface{}{
		"path":          input.Path,
		"line":          input.Line,
		"end_line":      input.EndLine,
		"lines_written": len(replacement),
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
