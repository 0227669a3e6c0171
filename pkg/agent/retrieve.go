// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/llm"
)

// RetrieveToolName is the special tool whose invocation triggers semantic
// search against the index instead of executing a capability.
const RetrieveToolName = "retrieve_tools"

// retrieveToolSchema is the function schema offered to the model.
var retrieveToolSchema = llm.Tool{
	Type: llm.ToolTypeFunction,
	Function: llm.FunctionDef{
		Name:        RetrieveToolName,
		Description: "Search the tool catalog for tools matching a task description or exact tool names. Returned tools become available on the next turn.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Natural-language description of the task the tool should perform.",
				},
				"names": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Exact tool names to resolve, if already known.",
				},
			},
		},
	},
}

type retrieveArgs struct {
	Query string   `json:"query"`
	Names []string `json:"names"`
}

func parseRetrieveArgs(raw string) (retrieveArgs, error) {
	var args retrieveArgs
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, fmt.Errorf("parsing retrieval arguments: %w", err)
	}
	return args, nil
}

// formatRetrieved renders resolved entries as the tool-result text the model
// sees.
func formatRetrieved(entries []catalog.Entry) string {
	if len(entries) == 0 {
		return "No matching tools found."
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Name(), e.Tool.Description())
	}
	return b.String()
}
