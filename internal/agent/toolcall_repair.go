package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/allyrun/ally/pkg/models"
)

// Local models emit tool calls in several shapes. normalizeToolCalls accepts
// all of them and produces the canonical form the runtime consumes:
//
//   - {id, type:"function", function:{name, arguments: object|string}}
//   - {name, arguments} (flat, lifted into the canonical envelope)
//   - string arguments that are themselves JSON (decoded to an object)
//
// Missing ids are synthesized as repaired-<unixms>-<index>. Missing
// arguments coerce to {}. Normalizing an already-canonical call is a no-op.

// wireToolCall is the superset of tool-call shapes accepted on input.
type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function *wireCallPayload `json:"function"`

	// Flat shape fields, used when no function envelope is present.
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireCallPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallValidationError describes one tool call that could not be
// repaired into the canonical shape.
type ToolCallValidationError struct {
	Index  int
	Reason string
}

func (e ToolCallValidationError) Error() string {
	return fmt.Sprintf("tool call %d: %s", e.Index, e.Reason)
}

// NormalizeToolCalls decodes a raw tool_calls array into canonical calls.
// Calls that cannot be repaired are reported in the second return value and
// omitted from the first; callers decide whether to surface the failures to
// the model for a validation retry.
func NormalizeToolCalls(raw json.RawMessage) ([]models.ToolCall, []ToolCallValidationError) {
	if len(raw) == 0 {
		return nil, nil
	}
	var wire []wireToolCall
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, []ToolCallValidationError{{Index: 0, Reason: "tool_calls is not a JSON array: " + err.Error()}}
	}

	now := time.Now().UnixMilli()
	calls := make([]models.ToolCall, 0, len(wire))
	var failures []ToolCallValidationError
	for i, wc := range wire {
		call, err := normalizeOne(wc, now, i)
		if err != nil {
			failures = append(failures, ToolCallValidationError{Index: i, Reason: err.Error()})
			continue
		}
		calls = append(calls, call)
	}
	return calls, failures
}

// NormalizeFunctionCall converts a legacy top-level function_call payload
// (a single call, no envelope) into a canonical tool call.
func NormalizeFunctionCall(raw json.RawMessage) (models.ToolCall, error) {
	var payload wireCallPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.ToolCall{}, fmt.Errorf("function_call is not an object: %w", err)
	}
	return normalizeOne(wireToolCall{
		Name:      payload.Name,
		Arguments: payload.Arguments,
	}, time.Now().UnixMilli(), 0)
}

func normalizeOne(wc wireToolCall, nowMillis int64, index int) (models.ToolCall, error) {
	name := wc.Name
	args := wc.Arguments
	if wc.Function != nil {
		name = wc.Function.Name
		args = wc.Function.Arguments
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ToolCall{}, fmt.Errorf("missing function name")
	}

	input, err := normalizeArguments(args)
	if err != nil {
		return models.ToolCall{}, err
	}

	id := strings.TrimSpace(wc.ID)
	if id == "" {
		id = fmt.Sprintf("repaired-%d-%d", nowMillis, index)
	}

	return models.ToolCall{ID: id, Name: name, Input: input}, nil
}

// normalizeArguments coerces the arguments field to a JSON object: absent
// becomes {}, a JSON string containing JSON is decoded one level, and
// anything that is not valid JSON after that fails validation.
func normalizeArguments(args json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`), nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, fmt.Errorf("arguments string is not valid JSON: %w", err)
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid([]byte(inner)) {
			return nil, fmt.Errorf("arguments string does not contain valid JSON: %q", truncateForError(inner))
		}
		return json.RawMessage(inner), nil
	}

	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("arguments is not valid JSON: %q", truncateForError(trimmed))
	}
	return json.RawMessage(trimmed), nil
}

func truncateForError(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
