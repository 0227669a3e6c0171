// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics tracks agent runtime activity for production monitoring.
type RuntimeMetrics struct {
	// turnCounter tracks completed conversational turns per agent
	turnCounter metric.Int64Counter

	// modelCallCounter tracks chat model invocations
	modelCallCounter metric.Int64Counter

	// toolCallCounter tracks tool executions by tool name and outcome
	toolCallCounter metric.Int64Counter

	// retrievalDuration tracks semantic retrieval latency
	retrievalDuration metric.Float64Histogram

	// syncOpsCounter tracks index upserts and deletes per namespace
	syncOpsCounter metric.Int64Counter

	// middlewareFallbacks tracks whole-chain fallbacks to direct invocation
	middlewareFallbacks metric.Int64Counter
}

// NewRuntimeMetrics creates the runtime instrument set on the global meter.
func NewRuntimeMetrics() (*RuntimeMetrics, error) {
	meter := otel.Meter("praxis/runtime")

	turnCounter, err := meter.Int64Counter(
		"praxis.agent.turns",
		metric.WithDescription("Completed conversational turns by agent"),
	)
	if err != nil {
		return nil, err
	}

	modelCallCounter, err := meter.Int64Counter(
		"praxis.agent.model_calls",
		metric.WithDescription("Chat model invocations by agent and model"),
	)
	if err != nil {
		return nil, err
	}

	toolCallCounter, err := meter.Int64Counter(
		"praxis.agent.tool_calls",
		metric.WithDescription("Tool executions by tool name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"praxis.retrieval.duration_ms",
		metric.WithDescription("Semantic tool retrieval latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	syncOpsCounter, err := meter.Int64Counter(
		"praxis.index.sync_ops",
		metric.WithDescription("Index upserts and deletes applied per namespace"),
	)
	if err != nil {
		return nil, err
	}

	middlewareFallbacks, err := meter.Int64Counter(
		"praxis.middleware.fallbacks",
		metric.WithDescription("Middleware chain fallbacks to direct invocation"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		turnCounter:         turnCounter,
		modelCallCounter:    modelCallCounter,
		toolCallCounter:     toolCallCounter,
		retrievalDuration:   retrievalDuration,
		syncOpsCounter:      syncOpsCounter,
		middlewareFallbacks: middlewareFallbacks,
	}, nil
}

// RecordTurn increments the turn counter for an agent.
func (rm *RuntimeMetrics) RecordTurn(ctx context.Context, agent string) {
	if rm == nil {
		return
	}
	rm.turnCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
	))
}

// RecordModelCall increments the model call counter.
func (rm *RuntimeMetrics) RecordModelCall(ctx context.Context, agent, model string) {
	if rm == nil {
		return
	}
	rm.modelCallCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrLLMModel, model),
	))
}

// RecordToolCall increments the tool call counter with its outcome.
func (rm *RuntimeMetrics) RecordToolCall(ctx context.Context, tool string, success bool) {
	if rm == nil {
		return
	}
	rm.toolCallCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.Bool(AttrToolSuccess, success),
	))
}

// RecordRetrieval records one retrieval pass latency.
func (rm *RuntimeMetrics) RecordRetrieval(ctx context.Context, space string, durationMs float64) {
	if rm == nil {
		return
	}
	rm.retrievalDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrToolSpace, space),
	))
}

// RecordSyncOps records applied upserts and deletes for a namespace.
func (rm *RuntimeMetrics) RecordSyncOps(ctx context.Context, namespace string, upserts, deletes int) {
	if rm == nil {
		return
	}
	if upserts > 0 {
		rm.syncOpsCounter.Add(ctx, int64(upserts), metric.WithAttributes(
			attribute.String(AttrIndexNamespace, namespace),
			attribute.String("op", "upsert"),
		))
	}
	if deletes > 0 {
		rm.syncOpsCounter.Add(ctx, int64(deletes), metric.WithAttributes(
			attribute.String(AttrIndexNamespace, namespace),
			attribute.String("op", "delete"),
		))
	}
}

// RecordMiddlewareFallback increments the fallback counter for a chain kind.
func (rm *RuntimeMetrics) RecordMiddlewareFallback(ctx context.Context, kind string) {
	if rm == nil {
		return
	}
	rm.middlewareFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain", kind),
	))
}
