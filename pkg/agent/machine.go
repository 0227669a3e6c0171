// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/index"
	"github.com/praxishq/praxis/pkg/llm"
	"github.com/praxishq/praxis/pkg/middleware"
	"github.com/praxishq/praxis/pkg/telemetry"
)

const defaultMaxIterations = 25

// EndHook runs once, exactly before the terminal state is reached, whichever
// branch got there.
type EndHook func(ctx context.Context, st *ConversationState)

// Machine is one agent's execution state machine. Construct it once and
// invoke Run per conversational turn; per-turn state lives in
// ConversationState, never on the machine.
type Machine struct {
	name         string
	systemPrompt string

	provider  llm.Provider
	providers map[string]llm.Provider
	model     string

	catalog   *catalog.Catalog
	retriever *index.Retriever
	chain     *middleware.Chain
	store     core.Store

	initialTools     []string
	spaces           []string
	disableRetrieval bool
	includeCore      bool
	maxIterations    int

	endHooks []EndHook

	logger  *slog.Logger
	metrics *telemetry.RuntimeMetrics
	tracer  trace.Tracer
}

// Result is the outcome of one turn.
type Result struct {
	// Content is the model's final text, empty when the turn ended in a
	// hand-off.
	Content string

	// Messages is the full message history including everything this turn
	// appended.
	Messages []llm.Message

	// Selected are the tool names bound via retrieval during the turn.
	Selected []string

	// Transfer is non-nil when a hand-off tool routed the conversation to
	// another agent.
	Transfer *core.ControlTransfer

	// ModelCalls is the number of model invocations the turn made.
	ModelCalls int
}

// Option configures a Machine.
type Option func(*Machine)

// WithSystemPrompt sets the prompt prepended when the history has no system
// message.
func WithSystemPrompt(prompt string) Option {
	return func(m *Machine) { m.systemPrompt = prompt }
}

// WithModel sets the default model identifier.
func WithModel(model string) Option {
	return func(m *Machine) { m.model = model }
}

// WithProviderFor registers a named provider selectable per-invocation.
func WithProviderFor(name string, p llm.Provider) Option {
	return func(m *Machine) {
		if m.providers == nil {
			m.providers = make(map[string]llm.Provider)
		}
		m.providers[name] = p
	}
}

// WithRetriever enables dynamic tool discovery.
func WithRetriever(r *index.Retriever) Option {
	return func(m *Machine) { m.retriever = r }
}

// WithChain sets the middleware chain wrapped around model and tool calls.
func WithChain(c *middleware.Chain) Option {
	return func(m *Machine) { m.chain = c }
}

// WithStore passes a durable store handle through to middleware and tools.
func WithStore(s core.Store) Option {
	return func(m *Machine) { m.store = s }
}

// WithInitialTools binds the named tools unconditionally, before any
// retrieval.
func WithInitialTools(names ...string) Option {
	return func(m *Machine) { m.initialTools = append(m.initialTools, names...) }
}

// WithSpaces restricts retrieval to the named spaces.
func WithSpaces(spaces ...string) Option {
	return func(m *Machine) { m.spaces = append(m.spaces, spaces...) }
}

// WithoutRetrieval removes the retrieval tool entirely; only initial and
// previously selected tools are callable.
func WithoutRetrieval() Option {
	return func(m *Machine) { m.disableRetrieval = true }
}

// WithoutCoreTools excludes the catalog's core entries from the binding.
// Sub-agent machines use this to stay scoped to their own space.
func WithoutCoreTools() Option {
	return func(m *Machine) { m.includeCore = false }
}

// WithMaxIterations bounds the number of state transitions per turn.
func WithMaxIterations(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxIterations = n
		}
	}
}

// WithEndHook appends a hook run once before the terminal state.
func WithEndHook(h EndHook) Option {
	return func(m *Machine) { m.endHooks = append(m.endHooks, h) }
}

// WithLogger sets the machine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics attaches runtime metrics.
func WithMetrics(mt *telemetry.RuntimeMetrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// New creates a Machine for the named agent over the given catalog and
// default provider.
func New(name string, cat *catalog.Catalog, provider llm.Provider, opts ...Option) (*Machine, error) {
	if name == "" {
		return nil, praxiserrors.New(praxiserrors.CodeInvalidInput, "agent name is required", nil)
	}
	if cat == nil {
		return nil, praxiserrors.New(praxiserrors.CodeInvalidInput, "catalog is required", nil)
	}
	if provider == nil {
		return nil, praxiserrors.New(praxiserrors.CodeInvalidInput, "provider is required", nil)
	}
	m := &Machine{
		name:          name,
		catalog:       cat,
		provider:      provider,
		includeCore:   true,
		maxIterations: defaultMaxIterations,
		logger:        slog.Default(),
		tracer:        otel.Tracer("praxis/agent"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.chain == nil {
		m.chain = middleware.NewChain(nil)
	}
	if m.retriever == nil {
		m.disableRetrieval = true
	}
	return m, nil
}

// Name returns the agent name.
func (m *Machine) Name() string { return m.name }

// runContext carries the per-turn wiring every transition function needs.
type runContext struct {
	ctx     context.Context
	machine *Machine
	inv     *core.Invocation
	runID   string
}

// Run executes one conversational turn starting from the given messages.
// It always terminates with either a final model message, a hand-off, or a
// structured error.
func (m *Machine) Run(ctx context.Context, messages []llm.Message, inv *core.Invocation) (*Result, error) {
	if inv == nil {
		inv = &core.Invocation{}
	}
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := m.tracer.Start(ctx, "Agent.Turn",
		trace.WithAttributes(telemetry.AgentAttrs(m.name, string(StateAgent), runID)...),
	)
	defer span.End()

	st := NewConversationState(m.withSystemPrompt(messages))
	rc := &runContext{ctx: ctx, machine: m, inv: inv, runID: runID}

	m.metrics.RecordTurn(ctx, m.name)
	core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventTurnStarted, m.name, runID, nil))

	for iterations := 0; st.Next != StateEnd; iterations++ {
		if iterations >= m.maxIterations {
			return nil, praxiserrors.New(praxiserrors.CodeInternal, "turn exceeded iteration ceiling", nil).
				WithContext("agent", m.name).
				WithContext("max_iterations", m.maxIterations)
		}
		step, ok := transitions[st.Next]
		if !ok {
			return nil, praxiserrors.New(praxiserrors.CodeInternal, "no transition for state", nil).
				WithContext("state", string(st.Next))
		}
		next, err := step(rc, st)
		if err != nil {
			core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventAgentError, m.name, runID, map[string]any{
				"state": string(st.Next),
				"error": err.Error(),
			}))
			return nil, err
		}
		st.Next = next
	}

	for _, hook := range m.endHooks {
		hook(ctx, st)
	}

	result := &Result{
		Messages:   st.Messages,
		Selected:   st.Selected(),
		Transfer:   st.Transfer,
		ModelCalls: st.ModelCalls,
	}
	if st.Final != nil {
		result.Content = st.Final.Content
	}
	core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventTurnCompleted, m.name, runID, map[string]any{
		"model_calls": st.ModelCalls,
		"handoff":     st.Transfer != nil,
	}))
	return result, nil
}

func (m *Machine) withSystemPrompt(messages []llm.Message) []llm.Message {
	if m.systemPrompt == "" {
		return messages
	}
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			return messages
		}
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.systemPrompt})
	return append(out, messages...)
}

// ownsSpace reports whether the machine is scoped to the given space.
// Delegated tools are callable only by the machine owning their space.
func (m *Machine) ownsSpace(space string) bool {
	for _, s := range m.spaces {
		if s == space {
			return true
		}
	}
	return false
}

// boundTools materializes the callable set for the current iteration:
// unconditional initial tools, core entries, and everything selected so far.
// Delegated entries are admitted only for the sub-agent that owns their
// space; everyone else reaches them through a hand-off.
func (m *Machine) boundTools(st *ConversationState) map[string]core.Tool {
	bound := make(map[string]core.Tool)
	add := func(name string) {
		if _, ok := bound[name]; ok {
			return
		}
		if e, ok := m.catalog.Tool(name); ok && (!e.Delegated || m.ownsSpace(e.Space)) {
			bound[name] = e.Tool
		}
	}
	for _, name := range m.initialTools {
		add(name)
	}
	if m.includeCore {
		for _, e := range m.catalog.CoreEntries() {
			add(e.Name())
		}
	}
	for _, name := range st.Selected() {
		add(name)
	}
	return bound
}

func (m *Machine) toolSchemas(bound map[string]core.Tool) []llm.Tool {
	schemas := make([]llm.Tool, 0, len(bound)+1)
	if !m.disableRetrieval {
		schemas = append(schemas, retrieveToolSchema)
	}
	for _, name := range sortedNames(boundNameSet(bound)) {
		t := bound[name]
		schemas = append(schemas, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  map[string]any{"type": "object"},
			},
		})
	}
	return schemas
}

func boundNameSet(bound map[string]core.Tool) map[string]bool {
	set := make(map[string]bool, len(bound))
	for name := range bound {
		set[name] = true
	}
	return set
}

// resolveModel applies the per-call model and provider selection from the
// invocation just before the call, so model choice can change between turns.
func (m *Machine) resolveModel(inv *core.Invocation) (llm.Provider, string) {
	provider := m.provider
	if inv.Provider != "" {
		if p, ok := m.providers[inv.Provider]; ok {
			provider = p
		}
	}
	model := m.model
	if inv.Model != "" {
		model = inv.Model
	}
	return provider, model
}

// stepAgent calls the model with the current binding and routes on its
// response.
func stepAgent(rc *runContext, st *ConversationState) (State, error) {
	m := rc.machine
	ctx, span := m.tracer.Start(rc.ctx, "Agent.Model",
		trace.WithAttributes(telemetry.AgentAttrs(m.name, string(StateAgent), rc.runID)...),
	)
	defer span.End()

	bound := m.boundTools(st)
	provider, model := m.resolveModel(rc.inv)
	req := llm.ChatRequest{
		Model:    model,
		Messages: st.Messages,
		Tools:    m.toolSchemas(bound),
	}
	span.SetAttributes(
		attribute.Int(telemetry.AttrToolsBound, len(req.Tools)),
		attribute.String(telemetry.AttrLLMModel, model),
	)

	ec := middleware.NewExecutionContext(provider, st.Messages, rc.inv, m.store)
	m.chain.ExecuteBeforeModel(ctx, ec)

	resp, err := m.chain.WrapModelInvocation(ctx, ec, req, func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return provider.Chat(ctx, req)
	})
	st.ModelCalls++
	if err != nil {
		return StateEnd, praxiserrors.New(praxiserrors.CodeLLMError, "model call failed", err).
			WithContext("agent", m.name).
			WithContext("model", model)
	}
	m.chain.ExecuteAfterModel(ctx, ec, resp)
	m.metrics.RecordModelCall(ctx, m.name, model)

	st.Append(llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	if len(resp.ToolCalls) == 0 {
		st.Final = resp
		return StateEnd, nil
	}

	st.PendingCalls = resp.ToolCalls
	if hasRetrievalCall(resp.ToolCalls) {
		return StateSelectTools, nil
	}
	return StateTools, nil
}

// stepSelectTools resolves the pending retrieval calls, appends a tool
// result per call, and merges resolved names into the selected set. Any
// remaining non-retrieval calls run next; otherwise control returns to the
// model.
func stepSelectTools(rc *runContext, st *ConversationState) (State, error) {
	m := rc.machine
	ctx, span := m.tracer.Start(rc.ctx, "Agent.SelectTools",
		trace.WithAttributes(telemetry.AgentAttrs(m.name, string(StateSelectTools), rc.runID)...),
	)
	defer span.End()

	var rest []llm.ToolCall
	for _, call := range st.PendingCalls {
		if call.Function.Name != RetrieveToolName {
			rest = append(rest, call)
			continue
		}
		st.Append(llm.Message{
			Role:       llm.RoleTool,
			Content:    m.selectTools(ctx, st, call),
			ToolCallID: call.ID,
		})
	}
	st.PendingCalls = rest
	span.SetAttributes(attribute.Int(telemetry.AttrToolsSelected, len(st.Selected())))

	if len(rest) > 0 {
		return StateTools, nil
	}
	return StateAgent, nil
}

func (m *Machine) selectTools(ctx context.Context, st *ConversationState, call llm.ToolCall) string {
	if m.disableRetrieval || m.retriever == nil {
		return "Tool retrieval is not available."
	}
	args, err := parseRetrieveArgs(call.Function.Arguments)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	entries := m.retriever.Retrieve(ctx, index.Query{
		Text:   args.Query,
		Names:  args.Names,
		Spaces: m.spaces,
	})
	names := make([]string, 0, len(entries))
	kept := entries[:0]
	for _, e := range entries {
		// Delegated tools are not offered to machines outside their
		// owning space; those go through a hand-off instead.
		if e.Delegated && !m.ownsSpace(e.Space) {
			continue
		}
		st.Select(e.Name())
		names = append(names, e.Name())
		kept = append(kept, e)
	}
	core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventToolsSelected, m.name, "", map[string]any{
		"query": args.Query,
		"tools": names,
	}))
	return formatRetrieved(kept)
}

// stepTools executes the pending non-retrieval calls. A hand-off result
// short-circuits straight to end; everything else returns to the model.
func stepTools(rc *runContext, st *ConversationState) (State, error) {
	m := rc.machine
	ctx, span := m.tracer.Start(rc.ctx, "Agent.Tools",
		trace.WithAttributes(telemetry.AgentAttrs(m.name, string(StateTools), rc.runID)...),
	)
	defer span.End()

	bound := m.boundTools(st)
	// Tools that spawn nested work read the surrounding selection from the
	// context so sub-loops start with the same toolset.
	ctx = core.WithSelectedTools(ctx, st.Selected())
	for _, call := range st.PendingCalls {
		result, transfer := m.executeTool(ctx, rc.inv, st, bound, call)
		st.Append(result)
		if transfer != nil {
			st.Transfer = transfer
			st.PendingCalls = nil
			core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventHandoff, m.name, rc.runID, map[string]any{
				"target": transfer.TargetAgent,
			}))
			return StateEnd, nil
		}
	}
	st.PendingCalls = nil
	return StateAgent, nil
}

// executeTool runs one tool call through the tool middleware chain and
// renders its outcome as a tool-result message. Failures are reported to the
// model, never raised.
func (m *Machine) executeTool(ctx context.Context, inv *core.Invocation, st *ConversationState, bound map[string]core.Tool, call llm.ToolCall) (llm.Message, *core.ControlTransfer) {
	name := call.Function.Name
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID}

	tool, ok := bound[name]
	if !ok {
		m.logger.Warn("tool not bound",
			slog.String("tool", name),
			slog.Any("error", praxiserrors.New(praxiserrors.CodeUnknownTool, "tool not bound", nil).
				WithContext("tool", name).
				WithRecoverable(true)),
		)
		msg.Content = fmt.Sprintf("unknown tool %q; use %s to discover available tools", name, RetrieveToolName)
		return msg, nil
	}

	provider, _ := m.resolveModel(inv)
	ec := middleware.NewExecutionContext(provider, st.Messages, inv, m.store)
	ec.ToolCall = &call

	result, err := m.chain.WrapToolInvocation(ctx, ec, call, func(ctx context.Context, call llm.ToolCall) (any, error) {
		out, callErr := tool.Call(ctx, parseToolArgs(call.Function.Arguments))
		if callErr != nil {
			return out, praxiserrors.New(praxiserrors.CodeToolFailure, "tool execution failed", callErr).
				WithContext("tool", name).
				WithRecoverable(true)
		}
		return out, nil
	})
	m.metrics.RecordToolCall(ctx, name, err == nil)
	if err != nil {
		m.logger.Warn("tool execution failed",
			slog.String("tool", name),
			slog.Any("error", err),
		)
		msg.Content = fmt.Sprintf("error: %v", err)
		return msg, nil
	}

	if transfer, ok := core.IsTransferResult(name, result); ok {
		msg.Content = core.TransferredPrefix + transfer.TargetAgent
		return msg, &transfer
	}
	msg.Content = renderToolResult(result)
	return msg, nil
}

func parseToolArgs(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return raw
	}
	return args
}

func renderToolResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func hasRetrievalCall(calls []llm.ToolCall) bool {
	for _, call := range calls {
		if call.Function.Name == RetrieveToolName {
			return true
		}
	}
	return false
}
