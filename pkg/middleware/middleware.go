// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides ordered, composable hooks around model and
// tool invocations.
//
// A middleware object implements any subset of a small closed set of hook
// interfaces: BeforeModel, AfterModel, WrapModelCall, WrapToolCall. The
// Chain checks which interfaces each object satisfies; there is no runtime
// method-name probing.
//
// Hooks are isolated: a panicking hook is caught, logged, and skipped, and a
// failing wrapper layer never blocks the underlying model or tool call.
package middleware

import (
	"context"

	"github.com/praxishq/praxis/pkg/core"
	"github.com/praxishq/praxis/pkg/llm"
)

// ExecutionContext is the read-mostly bundle handed to every hook. It is
// built fresh per call; hooks return derived values instead of mutating
// shared state. Data is the one exception: it holds runtime-scoped scratch
// values and absorbs the patches returned by Before/After hooks.
type ExecutionContext struct {
	Model      llm.Provider
	Messages   []llm.Message
	Invocation *core.Invocation
	Store      core.Store

	// ToolCall is set only on tool invocation paths.
	ToolCall *llm.ToolCall

	Data map[string]any
}

// NewExecutionContext builds a context with an initialized Data map.
func NewExecutionContext(model llm.Provider, messages []llm.Message, inv *core.Invocation, store core.Store) *ExecutionContext {
	return &ExecutionContext{
		Model:      model,
		Messages:   messages,
		Invocation: inv,
		Store:      store,
		Data:       make(map[string]any),
	}
}

// StatePatch is a partial-state update returned by a Before/After hook. The
// chain merges patches into ExecutionContext.Data in hook order; a nil patch
// means no change.
type StatePatch map[string]any

// BeforeModel hooks run before every model call, in registration order.
type BeforeModel interface {
	BeforeModel(ctx context.Context, ec *ExecutionContext) (StatePatch, error)
}

// AfterModel hooks run after every model call, in registration order.
type AfterModel interface {
	AfterModel(ctx context.Context, ec *ExecutionContext, resp *llm.ChatResponse) (StatePatch, error)
}

// ModelInvoker is the normalized model call signature wrappers compose over.
type ModelInvoker func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)

// WrapModelCall middleware wraps the model invocation itself. The wrapper
// may transform the request, short-circuit by returning a synthesized
// response without calling next, or inspect the response on the way out.
type WrapModelCall interface {
	WrapModel(ctx context.Context, ec *ExecutionContext, req llm.ChatRequest, next ModelInvoker) (*llm.ChatResponse, error)
}

// ToolInvoker is the normalized tool call signature wrappers compose over.
type ToolInvoker func(ctx context.Context, call llm.ToolCall) (any, error)

// WrapToolCall middleware wraps individual tool executions.
type WrapToolCall interface {
	WrapTool(ctx context.Context, ec *ExecutionContext, call llm.ToolCall, next ToolInvoker) (any, error)
}
