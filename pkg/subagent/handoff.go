// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package subagent implements delegation: hand-off tools that transfer a
// conversation to an isolated per-domain agent, a registry that lazily
// builds those agents, and a lightweight bounded loop for disposable
// spawned sub-tasks.
package subagent

import (
	"context"
	"fmt"

	"github.com/praxishq/praxis/pkg/core"
)

// HandoffTool builds the tool that transfers control to the named agent.
// Its only behavior is announcing the transfer and returning the structured
// control-transfer signal; the actual routing happens in the caller that
// observes the signal.
func HandoffTool(target, description string) core.Tool {
	if description == "" {
		description = fmt.Sprintf("Transfer the conversation to the %s agent for %s-related tasks.", target, target)
	}
	return core.ToolFunc{
		ToolName: core.HandoffToolName(target),
		Desc:     description,
		Fn: func(_ context.Context, input any) (any, error) {
			reason := ""
			if args, ok := input.(map[string]any); ok {
				reason, _ = args["reason"].(string)
			}
			return core.ControlTransfer{TargetAgent: target, Reason: reason}, nil
		},
	}
}

