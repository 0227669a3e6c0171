// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/praxishq/praxis/pkg/agent"
	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/index"
	"github.com/praxishq/praxis/pkg/llm"
	"github.com/praxishq/praxis/pkg/middleware"
)

// maxHandoffDepth bounds chained hand-offs so two agents cannot bounce a
// conversation between each other forever.
const maxHandoffDepth = 3

// Domain describes one external-service domain a sub-agent owns.
type Domain struct {
	// Name is the agent name; its tool space must carry the same label.
	Name string

	// SystemPrompt is the fresh system prompt given to the sub-agent on
	// every hand-off.
	SystemPrompt string

	// HandoffDescription overrides the generated hand-off tool description.
	HandoffDescription string
}

// Registry lazily constructs one isolated state machine per domain. Each
// machine retrieves only from its own space and never sees core or general
// tools; its state is not checkpointed.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*agent.Machine

	domains   map[string]Domain
	catalog   *catalog.Catalog
	provider  llm.Provider
	retriever *index.Retriever
	chain     *middleware.Chain
	store     core.Store
	logger    *slog.Logger

	machineOpts []agent.Option
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryChain sets the middleware chain shared by all sub-agent
// machines.
func WithRegistryChain(c *middleware.Chain) RegistryOption {
	return func(r *Registry) { r.chain = c }
}

// WithRegistryStore sets the durable store handle passed to sub-agents.
func WithRegistryStore(s core.Store) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMachineOptions appends extra options applied to every constructed
// machine.
func WithMachineOptions(opts ...agent.Option) RegistryOption {
	return func(r *Registry) { r.machineOpts = append(r.machineOpts, opts...) }
}

// NewRegistry creates a registry over the shared catalog, provider, and
// retriever.
func NewRegistry(cat *catalog.Catalog, provider llm.Provider, retriever *index.Retriever, domains []Domain, opts ...RegistryOption) *Registry {
	r := &Registry{
		machines:  make(map[string]*agent.Machine),
		domains:   make(map[string]Domain, len(domains)),
		catalog:   cat,
		provider:  provider,
		retriever: retriever,
		logger:    slog.Default(),
	}
	for _, d := range domains {
		r.domains[d.Name] = d
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandoffTools returns one hand-off tool per registered domain, for binding
// into the parent agent's catalog.
func (r *Registry) HandoffTools() []core.Tool {
	tools := make([]core.Tool, 0, len(r.domains))
	for _, d := range r.domains {
		tools = append(tools, HandoffTool(d.Name, d.HandoffDescription))
	}
	return tools
}

// Domains returns the registered domain names in sorted order.
func (r *Registry) Domains() []string {
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Machine returns the domain's state machine, constructing it on first use.
func (r *Registry) Machine(name string) (*agent.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.machines[name]; ok {
		return m, nil
	}
	d, ok := r.domains[name]
	if !ok {
		return nil, praxiserrors.New(praxiserrors.CodeNotFound, "no such sub-agent domain", nil).
			WithContext("domain", name)
	}

	opts := []agent.Option{
		agent.WithSystemPrompt(d.SystemPrompt),
		agent.WithSpaces(d.Name),
		agent.WithoutCoreTools(),
		agent.WithRetriever(r.retriever),
	}
	if r.chain != nil {
		opts = append(opts, agent.WithChain(r.chain))
	}
	if r.store != nil {
		opts = append(opts, agent.WithStore(r.store))
	}
	opts = append(opts, r.machineOpts...)

	m, err := agent.New(d.Name, r.catalog, r.provider, opts...)
	if err != nil {
		return nil, err
	}
	r.machines[name] = m
	r.logger.Debug("sub-agent machine constructed", slog.String("domain", name))
	return m, nil
}

// Dispatch runs one hand-off: it filters the history down to what the target
// agent may see and executes the target's machine. The target's own system
// prompt replaces the parent's.
func (r *Registry) Dispatch(ctx context.Context, transfer core.ControlTransfer, messages []llm.Message, inv *core.Invocation) (*agent.Result, error) {
	m, err := r.Machine(transfer.TargetAgent)
	if err != nil {
		return nil, err
	}
	carried := CarryHistory(messages, transfer.TargetAgent)
	if transfer.Reason != "" {
		carried = append(carried, llm.Message{
			Role:      llm.RoleUser,
			Content:   fmt.Sprintf("Task for the %s agent: %s", transfer.TargetAgent, transfer.Reason),
			VisibleTo: []string{transfer.TargetAgent},
		})
	}
	return m.Run(ctx, carried, inv)
}

// Run executes the parent machine and follows hand-offs until a final
// answer, bouncing through at most maxHandoffDepth transfers.
func (r *Registry) Run(ctx context.Context, parent *agent.Machine, messages []llm.Message, inv *core.Invocation) (*agent.Result, error) {
	result, err := parent.Run(ctx, messages, inv)
	if err != nil {
		return nil, err
	}
	for depth := 0; result.Transfer != nil; depth++ {
		if depth >= maxHandoffDepth {
			return nil, praxiserrors.New(praxiserrors.CodeInternal, "hand-off chain exceeded depth limit", nil).
				WithContext("depth", depth)
		}
		result, err = r.Dispatch(ctx, *result.Transfer, result.Messages, inv)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CarryHistory filters a message history for a hand-off target: system
// messages are dropped (the target supplies its own), and messages tagged
// for other agents are withheld.
func CarryHistory(messages []llm.Message, target string) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		if !msg.VisibleFor(target) {
			continue
		}
		out = append(out, msg)
	}
	return out
}
