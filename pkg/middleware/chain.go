// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/praxishq/praxis/pkg/llm"
	"github.com/praxishq/praxis/pkg/telemetry"
)

var errHookPanicked = errors.New("middleware hook panicked")

// Chain composes an ordered list of middleware objects around model and tool
// invocations. middleware[0] is outermost: it runs first on the way in and
// last on the way out.
type Chain struct {
	middlewares []any
	logger      *slog.Logger
	metrics     *telemetry.RuntimeMetrics
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainLogger sets the chain logger.
func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChainMetrics attaches runtime metrics to the chain.
func WithChainMetrics(m *telemetry.RuntimeMetrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// NewChain creates a chain over the given middleware objects, preserving
// registration order.
func NewChain(middlewares []any, opts ...ChainOption) *Chain {
	c := &Chain{
		middlewares: middlewares,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append returns a new chain with extra middleware after the existing ones.
// The receiver is not modified.
func (c *Chain) Append(middlewares ...any) *Chain {
	combined := make([]any, 0, len(c.middlewares)+len(middlewares))
	combined = append(combined, c.middlewares...)
	combined = append(combined, middlewares...)
	return &Chain{middlewares: combined, logger: c.logger, metrics: c.metrics}
}

// ExecuteBeforeModel runs every BeforeModel hook in registration order,
// merging returned patches into ec.Data. A hook error or panic is logged and
// skipped; it never aborts the turn.
func (c *Chain) ExecuteBeforeModel(ctx context.Context, ec *ExecutionContext) {
	for _, mw := range c.middlewares {
		hook, ok := mw.(BeforeModel)
		if !ok {
			continue
		}
		patch, err := c.runIsolated(ctx, "before_model", func() (StatePatch, error) {
			return hook.BeforeModel(ctx, ec)
		})
		if err != nil {
			continue
		}
		mergePatch(ec, patch)
	}
}

// ExecuteAfterModel runs every AfterModel hook in registration order with the
// same isolation guarantees as ExecuteBeforeModel.
func (c *Chain) ExecuteAfterModel(ctx context.Context, ec *ExecutionContext, resp *llm.ChatResponse) {
	for _, mw := range c.middlewares {
		hook, ok := mw.(AfterModel)
		if !ok {
			continue
		}
		patch, err := c.runIsolated(ctx, "after_model", func() (StatePatch, error) {
			return hook.AfterModel(ctx, ec, resp)
		})
		if err != nil {
			continue
		}
		mergePatch(ec, patch)
	}
}

// WrapModelInvocation composes all WrapModelCall middleware around invoke and
// runs the result. A wrapper layer that panics is skipped in favor of the
// next inner layer, so even if every wrapper fails the caller still gets the
// result of the unwrapped invoke.
func (c *Chain) WrapModelInvocation(ctx context.Context, ec *ExecutionContext, req llm.ChatRequest, invoke ModelInvoker) (*llm.ChatResponse, error) {
	handler := invoke
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapper, ok := c.middlewares[i].(WrapModelCall)
		if !ok {
			continue
		}
		next := handler
		handler = func(ctx context.Context, req llm.ChatRequest) (resp *llm.ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					c.recordFallback(ctx, "model", r)
					resp, err = next(ctx, req)
				}
			}()
			return wrapper.WrapModel(ctx, ec, req, next)
		}
	}
	return handler(ctx, req)
}

// WrapToolInvocation composes all WrapToolCall middleware around invoke, with
// the same per-layer isolation as WrapModelInvocation.
func (c *Chain) WrapToolInvocation(ctx context.Context, ec *ExecutionContext, call llm.ToolCall, invoke ToolInvoker) (any, error) {
	handler := invoke
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapper, ok := c.middlewares[i].(WrapToolCall)
		if !ok {
			continue
		}
		next := handler
		handler = func(ctx context.Context, call llm.ToolCall) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					c.recordFallback(ctx, "tool", r)
					result, err = next(ctx, call)
				}
			}()
			return wrapper.WrapTool(ctx, ec, call, next)
		}
	}
	return handler(ctx, call)
}

func (c *Chain) runIsolated(ctx context.Context, phase string, fn func() (StatePatch, error)) (patch StatePatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("middleware hook panicked, skipping",
				slog.String("phase", phase),
				slog.Any("panic", r),
			)
			patch, err = nil, errHookPanicked
		}
	}()
	patch, err = fn()
	if err != nil {
		c.logger.Warn("middleware hook failed, skipping",
			slog.String("phase", phase),
			slog.Any("error", err),
		)
	}
	return patch, err
}

func (c *Chain) recordFallback(ctx context.Context, kind string, cause any) {
	c.logger.Warn("middleware wrapper panicked, falling through",
		slog.String("kind", kind),
		slog.Any("panic", cause),
	)
	c.metrics.RecordMiddlewareFallback(ctx, kind)
}

func mergePatch(ec *ExecutionContext, patch StatePatch) {
	if len(patch) == 0 {
		return
	}
	if ec.Data == nil {
		ec.Data = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		ec.Data[k] = v
	}
}
