// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/index"
	"github.com/praxishq/praxis/pkg/llm"
)

// DefaultMaxSpawnTurns is the hard turn ceiling for a spawned loop.
const DefaultMaxSpawnTurns = 5

// retrieveSpawnTool is the retrieval tool offered inside the spawned loop.
const retrieveSpawnTool = "retrieve_tools"

// SpawnedLoop is a simplified, checkpoint-less tool-calling loop for
// short-lived parallel sub-tasks that don't need the full state machine. It
// makes at most maxTurns tool-bound model calls; when the budget runs out it
// makes one final call with no tools bound and returns that text verbatim.
type SpawnedLoop struct {
	provider  llm.Provider
	catalog   *catalog.Catalog
	retriever *index.Retriever

	model       string
	alwaysTools []string
	maxTurns    int
	logger      *slog.Logger
}

// SpawnOption configures a SpawnedLoop.
type SpawnOption func(*SpawnedLoop)

// WithSpawnModel sets the model identifier used for every call.
func WithSpawnModel(model string) SpawnOption {
	return func(l *SpawnedLoop) { l.model = model }
}

// WithAlwaysTools names tools bound from the first turn onward.
func WithAlwaysTools(names ...string) SpawnOption {
	return func(l *SpawnedLoop) { l.alwaysTools = append(l.alwaysTools, names...) }
}

// WithMaxTurns overrides the turn ceiling.
func WithMaxTurns(n int) SpawnOption {
	return func(l *SpawnedLoop) {
		if n > 0 {
			l.maxTurns = n
		}
	}
}

// WithSpawnLogger sets the loop logger.
func WithSpawnLogger(logger *slog.Logger) SpawnOption {
	return func(l *SpawnedLoop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewSpawnedLoop creates a loop over the shared catalog and provider. The
// retriever may be nil, in which case retrieval calls report unavailability.
func NewSpawnedLoop(cat *catalog.Catalog, provider llm.Provider, retriever *index.Retriever, opts ...SpawnOption) *SpawnedLoop {
	l := &SpawnedLoop{
		provider:  provider,
		catalog:   cat,
		retriever: retriever,
		maxTurns:  DefaultMaxSpawnTurns,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the sub-task. inherited carries tool names from the parent's
// currently-selected set; they are bound alongside the configured
// always-available tools.
func (l *SpawnedLoop) Run(ctx context.Context, task string, inherited []string, inv *core.Invocation) (string, error) {
	if l.provider == nil {
		return "", praxiserrors.New(praxiserrors.CodeInvalidInput, "provider is required", nil)
	}
	if inv == nil {
		inv = &core.Invocation{}
	}
	ctx, runID := core.EnsureRunID(ctx)
	core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventSpawned, "", runID, map[string]any{
		"task": task,
	}))

	bound := make(map[string]core.Tool)
	for _, name := range append(append([]string(nil), l.alwaysTools...), inherited...) {
		if e, ok := l.catalog.Tool(name); ok {
			bound[e.Name()] = e.Tool
		}
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: task}}
	model := l.model
	if inv.Model != "" {
		model = inv.Model
	}

	for turn := 0; turn < l.maxTurns; turn++ {
		resp, err := l.provider.Chat(ctx, llm.ChatRequest{
			Model:    model,
			Messages: messages,
			Tools:    l.schemas(bound),
		})
		if err != nil {
			return "", praxiserrors.New(praxiserrors.CodeLLMError, "spawned model call failed", err).
				WithContext("turn", turn)
		}
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		for _, call := range resp.ToolCalls {
			messages = append(messages, l.handleCall(ctx, bound, call))
		}
	}

	// budget exhausted: one final call with nothing bound, text returned
	// verbatim
	resp, err := l.provider.Chat(ctx, llm.ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", praxiserrors.New(praxiserrors.CodeLLMError, "spawned final call failed", err)
	}
	return resp.Content, nil
}

// handleCall resolves one tool call. Retrieval calls rebind the loop's tool
// set; everything else executes directly. Errors become error-flagged tool
// results so one failing step doesn't abort the sub-task.
func (l *SpawnedLoop) handleCall(ctx context.Context, bound map[string]core.Tool, call llm.ToolCall) llm.Message {
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID}
	name := call.Function.Name

	if name == retrieveSpawnTool {
		msg.Content = l.retrieveAndBind(ctx, bound, call.Function.Arguments)
		return msg
	}

	tool, ok := bound[name]
	if !ok {
		msg.Content = fmt.Sprintf("unknown tool %q", name)
		return msg
	}
	result, err := tool.Call(ctx, parseSpawnArgs(call.Function.Arguments))
	if err != nil {
		l.logger.Warn("spawned tool failed",
			slog.String("tool", name),
			slog.Any("error", err),
		)
		msg.Content = fmt.Sprintf("error: %v", err)
		return msg
	}
	msg.Content = fmt.Sprint(result)
	return msg
}

func (l *SpawnedLoop) retrieveAndBind(ctx context.Context, bound map[string]core.Tool, rawArgs string) string {
	if l.retriever == nil {
		return "Tool retrieval is not available."
	}
	var args struct {
		Query string   `json:"query"`
		Names []string `json:"names"`
	}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
	}
	entries := l.retriever.Retrieve(ctx, index.Query{Text: args.Query, Names: args.Names})
	if len(entries) == 0 {
		return "No matching tools found."
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, e := range entries {
		bound[e.Name()] = e.Tool
		fmt.Fprintf(&b, "- %s: %s\n", e.Name(), e.Tool.Description())
	}
	return b.String()
}

func (l *SpawnedLoop) schemas(bound map[string]core.Tool) []llm.Tool {
	schemas := make([]llm.Tool, 0, len(bound)+1)
	if l.retriever != nil {
		schemas = append(schemas, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        retrieveSpawnTool,
				Description: "Search the tool catalog for tools matching a task description.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
						"names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
		})
	}
	for name, t := range bound {
		schemas = append(schemas, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        name,
				Description: t.Description(),
				Parameters:  map[string]any{"type": "object"},
			},
		})
	}
	return schemas
}

func parseSpawnArgs(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return raw
	}
	return args
}
