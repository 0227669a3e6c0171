// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolLister abstracts MCP tool discovery.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// ToolAdapter wraps an MCP tool to satisfy core.Tool.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
}

// NewToolAdapter builds a core.Tool backed by an MCP tool definition and
// caller.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	return &ToolAdapter{tool: tool, caller: caller}, nil
}

// Name returns the MCP tool name.
func (t *ToolAdapter) Name() string {
	return t.tool.Name
}

// Description returns the MCP tool description used for embedding.
func (t *ToolAdapter) Description() string {
	return t.tool.Description
}

// Call invokes the MCP tool with normalized arguments.
func (t *ToolAdapter) Call(ctx context.Context, input any) (any, error) {
	args, err := normalizeToolArgs(input)
	if err != nil {
		return nil, err
	}
	if err := validateRequiredArgs(t.tool, args); err != nil {
		return nil, err
	}
	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return toolResultToOutput(result)
}

var _ core.Tool = (*ToolAdapter)(nil)

// CategoryLoader builds a catalog loader for one MCP server. The resulting
// category carries the requires-connection flag so bindings can surface the
// connection requirement to callers.
type CategoryLoader interface {
	ToolCaller
	ToolLister
}

// NewCategoryLoader returns a catalog.Loader that discovers the server's
// tools on load. name doubles as the category name; space scopes retrieval.
func NewCategoryLoader(name, space string, client CategoryLoader) catalog.Loader {
	return catalog.Loader{
		Name:               name,
		Space:              space,
		RequiresConnection: true,
		Load: func(ctx context.Context) ([]core.Tool, error) {
			discovered, err := client.ListTools(ctx)
			if err != nil {
				return nil, err
			}
			tools := make([]core.Tool, 0, len(discovered))
			for _, t := range discovered {
				adapter, err := NewToolAdapter(t, client)
				if err != nil {
					return nil, err
				}
				tools = append(tools, adapter)
			}
			return tools, nil
		},
	}
}

func normalizeToolArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case json.RawMessage:
		return decodeArgs([]byte(value))
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			if decoded, err := decodeArgs([]byte(trimmed)); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("mcp tool args: unsupported type %T", input)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(data []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("mcp tool args: invalid JSON: %w", err)
	}
	return decoded, nil
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("mcp tool args: missing required field %q", key)
		}
	}
	return nil
}

func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
