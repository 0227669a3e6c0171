// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/llm"
	"github.com/praxishq/praxis/pkg/telemetry"
)

// LoggingMiddleware logs model and tool invocations with durations.
type LoggingMiddleware struct {
	Logger *slog.Logger
}

// NewLoggingMiddleware creates a logging middleware. A nil logger uses
// slog.Default.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{Logger: logger}
}

func (m *LoggingMiddleware) WrapModel(ctx context.Context, ec *ExecutionContext, req llm.ChatRequest, next ModelInvoker) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	attrs := []any{
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		m.Logger.Error("model call failed", append(attrs, slog.Any("error", err))...)
		return resp, err
	}
	m.Logger.Debug("model call completed", append(attrs, slog.Int("tool_calls", len(resp.ToolCalls)))...)
	return resp, nil
}

func (m *LoggingMiddleware) WrapTool(ctx context.Context, ec *ExecutionContext, call llm.ToolCall, next ToolInvoker) (any, error) {
	start := time.Now()
	result, err := next(ctx, call)
	attrs := []any{
		slog.String("tool", call.Function.Name),
		slog.String("call_id", call.ID),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		m.Logger.Warn("tool call failed", append(attrs, slog.Any("error", err))...)
		return result, err
	}
	m.Logger.Debug("tool call completed", attrs...)
	return result, nil
}

// MetricsMiddleware records model and tool call counters.
type MetricsMiddleware struct {
	Metrics *telemetry.RuntimeMetrics
}

func NewMetricsMiddleware(m *telemetry.RuntimeMetrics) *MetricsMiddleware {
	return &MetricsMiddleware{Metrics: m}
}

func (m *MetricsMiddleware) WrapModel(ctx context.Context, ec *ExecutionContext, req llm.ChatRequest, next ModelInvoker) (*llm.ChatResponse, error) {
	agent := ""
	if ec.Invocation != nil {
		agent = ec.Invocation.StringFlag("agent")
	}
	m.Metrics.RecordModelCall(ctx, agent, req.Model)
	return next(ctx, req)
}

func (m *MetricsMiddleware) WrapTool(ctx context.Context, ec *ExecutionContext, call llm.ToolCall, next ToolInvoker) (any, error) {
	result, err := next(ctx, call)
	m.Metrics.RecordToolCall(ctx, call.Function.Name, err == nil)
	return result, err
}

// EventMiddleware streams progress events for model and tool calls. The sink
// is optional; with no emitter configured it falls back to the emitter on the
// context, which may be a no-op.
type EventMiddleware struct {
	Emitter core.EventEmitter
}

func NewEventMiddleware(emitter core.EventEmitter) *EventMiddleware {
	return &EventMiddleware{Emitter: emitter}
}

func (m *EventMiddleware) emitter(ctx context.Context) core.EventEmitter {
	if m.Emitter != nil {
		return m.Emitter
	}
	return core.EmitterFromContext(ctx)
}

func (m *EventMiddleware) WrapModel(ctx context.Context, ec *ExecutionContext, req llm.ChatRequest, next ModelInvoker) (*llm.ChatResponse, error) {
	resp, err := next(ctx, req)
	data := map[string]any{"model": req.Model}
	if err != nil {
		data["error"] = err.Error()
	} else {
		data["tool_calls"] = len(resp.ToolCalls)
	}
	runID, _ := core.RunID(ctx)
	m.emitter(ctx).Emit(ctx, core.NewEvent(core.EventModelCall, "", runID, data))
	return resp, err
}

func (m *EventMiddleware) WrapTool(ctx context.Context, ec *ExecutionContext, call llm.ToolCall, next ToolInvoker) (any, error) {
	result, err := next(ctx, call)
	data := map[string]any{
		"tool":    call.Function.Name,
		"call_id": call.ID,
		"success": err == nil,
	}
	runID, _ := core.RunID(ctx)
	m.emitter(ctx).Emit(ctx, core.NewEvent(core.EventToolExecuted, "", runID, data))
	return result, err
}

// ToolTimeoutMiddleware bounds each tool execution. Zero duration disables
// the bound.
type ToolTimeoutMiddleware struct {
	Duration time.Duration
}

func NewToolTimeoutMiddleware(d time.Duration) *ToolTimeoutMiddleware {
	return &ToolTimeoutMiddleware{Duration: d}
}

func (m *ToolTimeoutMiddleware) WrapTool(ctx context.Context, ec *ExecutionContext, call llm.ToolCall, next ToolInvoker) (any, error) {
	if m.Duration == 0 {
		return next(ctx, call)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Duration)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := next(ctx, call)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, praxiserrors.New(praxiserrors.CodeTimeout, "tool call exceeded timeout", ctx.Err()).
			WithContext("tool", call.Function.Name).
			WithContext("timeout", m.Duration.String()).
			WithRecoverable(true)
	case out := <-done:
		return out.result, out.err
	}
}
