// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration for the agent runtime.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Praxis runtime telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Agent attributes
	AttrAgentName  = "praxis.agent.name"
	AttrAgentState = "praxis.agent.state"
	AttrAgentRunID = "praxis.agent.run_id"
	AttrAgentTurn  = "praxis.agent.turn"

	// Session attributes
	AttrSessionID = "praxis.session.id"

	// Tool attributes
	AttrToolName       = "praxis.tool.name"
	AttrToolCallID     = "praxis.tool.call_id"
	AttrToolSpace      = "praxis.tool.space"
	AttrToolCategory   = "praxis.tool.category"
	AttrToolDurationMs = "praxis.tool.duration_ms"
	AttrToolSuccess    = "praxis.tool.success"

	// Bound tool set attributes
	AttrToolsBound    = "praxis.tools.bound_count"
	AttrToolsSelected = "praxis.tools.selected_count"

	// Index attributes
	AttrIndexNamespace = "praxis.index.namespace"
	AttrIndexUpserts   = "praxis.index.upserts"
	AttrIndexDeletes   = "praxis.index.deletes"

	// Plan attributes
	AttrPlanID     = "praxis.plan.id"
	AttrPlanStepID = "praxis.plan.step_id"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// AgentAttrs builds the common span attributes for one machine state step.
func AgentAttrs(agentName, state, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAgentName, agentName),
		attribute.String(AttrAgentState, state),
		attribute.String(AttrAgentRunID, runID),
	}
}

// ToolAttrs builds the common span attributes for one tool execution.
func ToolAttrs(name, callID string, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolCallID, callID),
		attribute.Bool(AttrToolSuccess, success),
	}
}
