package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/allyrun/ally/internal/errkind"
	"github.com/allyrun/ally/internal/observability"
	"github.com/allyrun/ally/pkg/models"
)

// ToolExecConfig configures tool execution behavior including concurrency,
// timeouts, and retry settings.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoff waits between retries.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults for tool execution with
// 4 concurrent tools and 30 second timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   0,
	}
}

// ToolExecutor handles concurrent tool execution with timeouts and retry logic.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	broker   PermissionBroker
	emitter  *EventEmitter
}

// NewToolExecutor creates a new tool executor with the given registry and configuration.
// Default values are applied if config fields are zero.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{
		registry: registry,
		config:   config,
	}
}

// SetObservability attaches optional metrics and tracing collectors. Either
// may be nil; nil collectors are simply not recorded to.
func (e *ToolExecutor) SetObservability(metrics *observability.Metrics, tracer *observability.Tracer) {
	e.metrics = metrics
	e.tracer = tracer
}

// SetPermissionBroker attaches the broker consulted before a
// confirmation-requiring tool call executes. A nil broker (the default)
// falls back to AutoConfirmBroker, granting every request.
func (e *ToolExecutor) SetPermissionBroker(broker PermissionBroker) {
	e.broker = broker
}

// SetEventEmitter attaches the emitter used to surface the preview and
// permission lifecycle (diff.preview, permission.requested/granted/denied)
// as AgentEvents. A nil emitter (the default) skips those events.
func (e *ToolExecutor) SetEventEmitter(emitter *EventEmitter) {
	e.emitter = emitter
}

// precheck runs a tool's ValidateBeforePermission and, if it declares
// RequiresConfirmation, its preview and permission-broker round trip, before
// Execute is allowed to run. It returns a non-nil result only when the call
// must be short-circuited (validation failure or permission denial).
func (e *ToolExecutor) precheck(ctx context.Context, call models.ToolCall) *models.ToolResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return nil
	}

	if err := tool.ValidateBeforePermission(ctx, call.Input); err != nil {
		return &models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("validation failed: %v", err),
			IsError:    true,
			ErrorType:  string(ClassifyToolError(err)),
		}
	}

	preview, err := tool.PreviewChanges(ctx, call.Input)
	if err == nil && preview != "" && e.emitter != nil {
		e.emitter.DiffPreview(ctx, call.ID, call.Name, preview)
	}

	if !tool.RequiresConfirmation() {
		return nil
	}

	broker := e.broker
	if broker == nil {
		broker = AutoConfirmBroker{}
	}

	if e.emitter != nil {
		e.emitter.PermissionRequested(ctx, call.ID, call.Name)
	}

	allowed, reason, err := broker.Request(ctx, call, preview)
	if err != nil {
		reason = err.Error()
		allowed = false
	}

	if !allowed {
		if e.emitter != nil {
			e.emitter.PermissionDenied(ctx, call.ID, call.Name, reason)
		}
		// One canonical message for every denial; tool internals and the
		// user's stated reason stay out of the model-visible result.
		return &models.ToolResult{
			ToolCallID: call.ID,
			Content:    PermissionDeniedMessage,
			IsError:    true,
			ErrorType:  string(errkind.KindPermission),
		}
	}

	if e.emitter != nil {
		e.emitter.PermissionGranted(ctx, call.ID, call.Name)
	}
	return nil
}

// ToolExecResult contains the result of a tool execution including timing and timeout information.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// EventCallback is a non-blocking callback invoked for tool lifecycle events during execution.
type EventCallback func(*models.RuntimeEvent)

// ExecuteConcurrently executes multiple tool calls with concurrency limits and timeouts.
// Results are returned in the same order as the input tool calls.
// The emit callback is called for lifecycle events (non-blocking, never blocks execution).
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback) []ToolExecResult {
	return e.ExecuteConcurrentlyWithOverrides(ctx, toolCalls, emit, nil)
}

// ExecuteConcurrentlyWithOverrides behaves like ExecuteConcurrently but lets
// the caller supply a per-call ToolExecConfig (e.g. a longer timeout for a
// detached background job) via configFor. A nil configFor uses the
// executor's default config for every call.
func (e *ToolExecutor) ExecuteConcurrentlyWithOverrides(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback, configFor func(models.ToolCall) ToolExecConfig) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	// Semaphore for concurrency limiting
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolExecResult{
					Index:    idx,
					ToolCall: call,
					Result: models.ToolResult{
						ToolCallID: call.ID,
						Content:    "context canceled",
						IsError:    true,
						ErrorType:  string(errkind.KindInterrupted),
					},
				}
				return
			}

			cfg := e.config
			if configFor != nil {
				cfg = configFor(call)
			}

			startTime := time.Now()

			// Preview/validate/permission lifecycle runs once per call, ahead
			// of the retry loop: a denied or invalid call should never be
			// retried against the underlying tool.
			if preResult := e.precheck(ctx, call); preResult != nil {
				endTime := time.Now()
				results[idx] = ToolExecResult{
					Index:     idx,
					ToolCall:  call,
					Result:    *preResult,
					StartTime: startTime,
					EndTime:   endTime,
				}
				if emit != nil {
					emit(models.NewToolEvent(models.EventToolFailed, call.Name, call.ID).
						WithMeta("duration_ms", endTime.Sub(startTime).Milliseconds()))
				}
				return
			}

			var result models.ToolResult
			var timedOut bool
			maxAttempts := cfg.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = 1
			}

			for attempt := 1; attempt <= maxAttempts; attempt++ {
				// Emit tool_started event
				if emit != nil {
					emit(models.NewToolEvent(models.EventToolStarted, call.Name, call.ID).
						WithMeta("attempt", attempt))
				}

				// Execute with timeout and add correlation ID
				toolCtx, cancel := context.WithTimeout(ctx, cfg.PerToolTimeout)
				toolCtx = observability.AddToolCallID(toolCtx, call.ID)
				var span trace.Span
				if e.tracer != nil {
					toolCtx, span = e.tracer.TraceToolExecution(toolCtx, call.Name)
				}
				attemptStart := time.Now()
				result, timedOut = e.executeWithTimeout(toolCtx, call, cfg.PerToolTimeout)
				if e.metrics != nil {
					status := "success"
					if result.IsError {
						status = "error"
					}
					e.metrics.RecordToolExecution(call.Name, status, time.Since(attemptStart).Seconds())
				}
				if span != nil {
					if result.IsError {
						e.tracer.RecordError(span, errors.New(result.Content))
					}
					span.End()
				}
				cancel()

				if !result.IsError {
					break
				}

				if attempt < maxAttempts {
					if emit != nil {
						eventType := models.EventToolFailed
						if timedOut {
							eventType = models.EventToolTimeout
						}
						emit(models.NewToolEvent(eventType, call.Name, call.ID).
							WithMeta("attempt", attempt).
							WithMeta("retrying", true))
					}
					if cfg.RetryBackoff > 0 {
						canceled := false
						select {
						case <-time.After(cfg.RetryBackoff):
						case <-ctx.Done():
							result = models.ToolResult{
								ToolCallID: call.ID,
								Content:    "tool execution canceled",
								IsError:    true,
								ErrorType:  string(errkind.KindInterrupted),
							}
							canceled = true
						}
						if canceled {
							break
						}
					}
				}
			}

			endTime := time.Now()

			results[idx] = ToolExecResult{
				Index:     idx,
				ToolCall:  call,
				Result:    result,
				StartTime: startTime,
				EndTime:   endTime,
				TimedOut:  timedOut,
			}

			// Emit completion event
			if emit != nil {
				var eventType models.RuntimeEventType
				if timedOut {
					eventType = models.EventToolTimeout
				} else if result.IsError {
					eventType = models.EventToolFailed
				} else {
					eventType = models.EventToolCompleted
				}
				event := models.NewToolEvent(eventType, call.Name, call.ID)
				event.WithMeta("duration_ms", endTime.Sub(startTime).Milliseconds())
				emit(event)
			}
		}(i, tc)
	}

	wg.Wait()
	return results
}

// executeWithTimeout executes a single tool call with timeout handling.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (models.ToolResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)

	go func() {
		result, err := e.registry.Execute(ctx, call.Name, call.Input)
		// Use non-blocking send to prevent goroutine leak if context is already done
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			// Context cancelled/timed out before execution completed - log for observability
			runID := observability.GetRunID(ctx)
			sessionID := observability.GetSessionID(ctx)
			slog.Warn(
				"tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", runID,
				"session_id", sessionID,
			)
		}
	}()

	select {
	case <-ctx.Done():
		// Distinguish between timeout and cancellation
		var content string
		kind := errkind.KindInterrupted
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			content = fmt.Sprintf("tool execution timed out after %v", timeout)
			kind = errkind.KindSystem
		} else {
			content = "tool execution canceled"
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    content,
			IsError:    true,
			ErrorType:  string(kind),
		}, errors.Is(ctx.Err(), context.DeadlineExceeded)
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    res.err.Error(),
				IsError:    true,
				ErrorType:  string(ClassifyToolError(res.err)),
			}, false
		}
		result := models.ToolResult{
			ToolCallID: call.ID,
			Content:    res.result.Content,
			IsError:    res.result.IsError,
		}
		if res.result.IsError {
			result.ErrorType = string(ClassifyToolError(errors.New(res.result.Content)))
		}
		return result, false
	}
}

// ExecuteSequentially executes tool calls one at a time in order.
// Results are returned in the same order as the input calls.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	for i, tc := range toolCalls {
		startTime := time.Now()
		maxAttempts := e.config.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		var result models.ToolResult
		var timedOut bool
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
			toolCtx = observability.AddToolCallID(toolCtx, tc.ID)
			result, timedOut = e.executeWithTimeout(toolCtx, tc, e.config.PerToolTimeout)
			cancel()
			if !result.IsError {
				break
			}
			if attempt < maxAttempts && e.config.RetryBackoff > 0 {
				select {
				case <-time.After(e.config.RetryBackoff):
				case <-ctx.Done():
					result = models.ToolResult{
						ToolCallID: tc.ID,
						Content:    "tool execution canceled",
						IsError:    true,
						ErrorType:  string(errkind.KindInterrupted),
					}
					break
				}
			}
		}
		endTime := time.Now()

		results[i] = ToolExecResult{
			Index:     i,
			ToolCall:  tc,
			Result:    result,
			StartTime: startTime,
			EndTime:   endTime,
			TimedOut:  timedOut,
		}
	}

	return results
}

// ExecuteSingle executes a single tool call by name with timeout and retry logic.
func (e *ToolExecutor) ExecuteSingle(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		// Note: ExecuteSingle doesn't have a tool call ID, but the context
		// may already have one from the caller
		result, err := e.registry.Execute(toolCtx, name, input)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts && e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}
