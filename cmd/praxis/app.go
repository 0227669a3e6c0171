// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/praxishq/praxis/pkg/agent"
	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/config"
	"github.com/praxishq/praxis/pkg/core"
	"github.com/praxishq/praxis/pkg/index"
	indexollama "github.com/praxishq/praxis/pkg/index/ollama"
	"github.com/praxishq/praxis/pkg/index/qdrant"
	"github.com/praxishq/praxis/pkg/llm"
	"github.com/praxishq/praxis/pkg/mcp"
	"github.com/praxishq/praxis/pkg/middleware"
	"github.com/praxishq/praxis/pkg/plan"
	"github.com/praxishq/praxis/pkg/subagent"
	"github.com/praxishq/praxis/pkg/telemetry"
)

const version = "0.1.0"

// app wires configuration, telemetry, the tool catalog, retrieval and the
// agent runtime into a runnable unit.
type app struct {
	cfg         *config.Config
	runtime     *config.ReloadableConfig
	watcher     *config.Watcher
	logger      *slog.Logger
	metrics     *telemetry.RuntimeMetrics
	shutdown    telemetry.ShutdownFunc
	emitter     *core.ChannelEmitter
	catalog     *catalog.Catalog
	retriever   *index.Retriever
	registry    *subagent.Registry
	coordinator *agent.Machine
	mcpClients  []*mcp.Client
	auditDB     *sql.DB
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	telemetryOpts := []telemetry.Option{
		telemetry.WithExporter(cfg.Telemetry.Exporter),
		telemetry.WithOTLPEndpoint(cfg.Telemetry.OTLPEndpoint),
	}
	if cfg.Telemetry.OTLPInsecure {
		telemetryOpts = append(telemetryOpts, telemetry.WithInsecureOTLP())
	}
	shutdown, err := telemetry.Init("praxis", version, telemetryOpts...)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	metrics, err := telemetry.NewRuntimeMetrics()
	if err != nil {
		logger.Warn("metrics unavailable", slog.Any("error", err))
	}

	a := &app{
		cfg:      cfg,
		runtime:  config.NewReloadableConfig(cfg),
		logger:   logger,
		metrics:  metrics,
		shutdown: shutdown,
		emitter:  core.NewChannelEmitter(64),
	}
	go a.drainEvents()

	ctx := context.Background()
	if cfgPath != "" {
		a.watchConfig(ctx, cfgPath)
	}
	if err := a.buildCatalog(ctx); err != nil {
		return nil, err
	}
	a.buildRetrieval(ctx)
	a.buildRuntime()

	return a, nil
}

// watchConfig hot-reloads the runtime section when the config file changes.
// Knobs read per call (spawn turn ceiling, plan audit path) pick up the new
// values on the next use; wiring-time settings need a restart.
func (a *app) watchConfig(ctx context.Context, path string) {
	w, err := config.NewWatcher(path, config.WithWatchLogger(a.logger))
	if err != nil {
		a.logger.Warn("config watch unavailable", slog.Any("error", err))
		return
	}
	w.OnChange(func(next *config.Config) {
		a.runtime.Update(next)
		a.logger.Info("configuration reloaded", slog.String("path", path))
	})
	w.Start(ctx)
	a.watcher = w
}

// drainEvents logs runtime events at debug level. A stalled consumer never
// blocks the runtime; the emitter drops on a full buffer.
func (a *app) drainEvents() {
	for ev := range a.emitter.C {
		a.logger.Debug("event",
			slog.String("type", string(ev.Type)),
			slog.String("agent", ev.Agent),
			slog.String("run_id", ev.RunID),
		)
	}
}

func (a *app) buildCatalog(ctx context.Context) error {
	cat := catalog.New()

	utilities := []core.Tool{
		core.ToolFunc{
			ToolName: "clock_now",
			Desc:     "Returns the current date and time in RFC 3339 format.",
			Fn: func(ctx context.Context, input any) (any, error) {
				return time.Now().Format(time.RFC3339), nil
			},
		},
	}
	if err := cat.AddCategory("utility", utilities, "general",
		catalog.CoreTools("clock_now")); err != nil {
		return fmt.Errorf("register utilities: %w", err)
	}

	loaders := make([]catalog.Loader, 0, len(a.cfg.MCP.Servers))
	for _, srv := range a.cfg.MCP.Servers {
		client, err := mcp.NewStdioClient(srv.Command, srv.Args)
		if err != nil {
			a.logger.Warn("mcp server unavailable",
				slog.String("server", srv.Name),
				slog.Any("error", err),
			)
			continue
		}
		a.mcpClients = append(a.mcpClients, client)
		loaders = append(loaders, mcp.NewCategoryLoader(srv.Name, srv.Space, client))
	}
	if len(loaders) > 0 {
		if err := cat.LoadAll(ctx, loaders); err != nil {
			a.logger.Warn("some categories failed to load", slog.Any("error", err))
		}
	}

	a.catalog = cat
	return nil
}

// buildRetrieval connects the vector store and reconciles the index. A store
// that cannot be reached degrades the runtime to initial tools only instead
// of failing startup.
func (a *app) buildRetrieval(ctx context.Context) {
	embedder := indexollama.NewEmbedder(a.cfg.Index.EmbedderBaseURL, a.cfg.Index.EmbedderModel)
	store, err := qdrant.New(a.cfg.Index.QdrantAddr, a.cfg.Index.Collection, embedder)
	if err != nil {
		a.logger.Warn("vector store unavailable, retrieval disabled",
			slog.Any("error", err))
		return
	}

	syncer := index.NewSyncer(store,
		index.WithBatchSize(a.cfg.Index.BatchSize),
		index.WithMarkerTTL(time.Duration(a.cfg.Index.SyncMarkerTTLSec)*time.Second),
		index.WithMetrics(a.metrics),
		index.WithLogger(a.logger),
	)
	for _, space := range a.catalog.Spaces() {
		if _, err := syncer.SyncNamespace(ctx, a.catalog.EntriesForSpace(space), space); err != nil {
			a.logger.Warn("index sync failed",
				slog.String("space", space),
				slog.Any("error", err),
			)
		}
	}

	a.retriever = index.NewRetriever(store, a.catalog,
		index.WithRetrievalLimit(a.cfg.Runtime.RetrievalLimit),
		index.WithRetrieverMetrics(a.metrics),
		index.WithRetrieverLogger(a.logger),
	)
}

func (a *app) buildRuntime() {
	provider := a.buildProvider()
	store := core.NewInMemoryStore()

	chain := middleware.NewChain([]any{
		middleware.NewLoggingMiddleware(a.logger),
		middleware.NewMetricsMiddleware(a.metrics),
		middleware.NewEventMiddleware(a.emitter),
		middleware.NewToolTimeoutMiddleware(30 * time.Second),
	},
		middleware.WithChainLogger(a.logger),
		middleware.WithChainMetrics(a.metrics),
	)

	spawnTool := core.ToolFunc{
		ToolName: "run_subtask",
		Desc:     "Delegates a self-contained subtask to a short-lived agent and returns its final answer. Input: {\"task\": string}.",
		Fn: func(ctx context.Context, input any) (any, error) {
			task := subtaskInput(input)
			if task == "" {
				return nil, fmt.Errorf("run_subtask needs a task description")
			}
			// Built per call so the turn ceiling follows config reloads and
			// the spawned loop starts from the caller's current selection.
			spawner := subagent.NewSpawnedLoop(a.catalog, provider, a.retriever,
				subagent.WithSpawnModel(a.cfg.LLM.Model),
				subagent.WithMaxTurns(a.runtime.Runtime().MaxSpawnTurns),
				subagent.WithSpawnLogger(a.logger),
			)
			return spawner.Run(ctx, task, core.SelectedTools(ctx), &core.Invocation{})
		},
	}
	if err := a.catalog.AddCategory("spawn", []core.Tool{spawnTool}, "general",
		catalog.CoreTools("run_subtask")); err != nil {
		a.logger.Warn("register spawn tool", slog.Any("error", err))
	}

	// Every MCP-backed space becomes a delegable domain with its own
	// sub-agent scoped to that space.
	domains := make([]subagent.Domain, 0, len(a.cfg.MCP.Servers))
	for _, srv := range a.cfg.MCP.Servers {
		if !a.catalog.HasCategory(srv.Name) {
			continue
		}
		domains = append(domains, subagent.Domain{
			Name:         srv.Space,
			SystemPrompt: fmt.Sprintf("You are a specialist for %s tasks. Use your tools to complete the request.", srv.Space),
		})
	}

	a.registry = subagent.NewRegistry(a.catalog, provider, a.retriever, domains,
		subagent.WithRegistryChain(chain),
		subagent.WithRegistryStore(store),
		subagent.WithRegistryLogger(a.logger),
		subagent.WithMachineOptions(
			agent.WithModel(a.cfg.LLM.Model),
			agent.WithMetrics(a.metrics),
		),
	)

	if tools := a.registry.HandoffTools(); len(tools) > 0 {
		names := make([]string, 0, len(domains))
		for _, d := range domains {
			names = append(names, core.HandoffToolName(d.Name))
		}
		if err := a.catalog.AddCategory("delegation", tools, "general",
			catalog.CoreTools(names...)); err != nil {
			a.logger.Warn("register handoff tools", slog.Any("error", err))
		}
	}

	opts := []agent.Option{
		agent.WithSystemPrompt("You are a helpful assistant. Use retrieve_tools to discover tools, and hand off domain work to specialist agents."),
		agent.WithModel(a.cfg.LLM.Model),
		agent.WithChain(chain),
		agent.WithStore(store),
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics),
	}
	if a.retriever != nil && !a.cfg.Runtime.DisableRetrieveTools {
		opts = append(opts, agent.WithRetriever(a.retriever))
	}

	coordinator, err := agent.New("coordinator", a.catalog, provider, opts...)
	if err != nil {
		// Construction only fails on missing required inputs, which the
		// wiring above always provides.
		panic(err)
	}
	a.coordinator = coordinator
}

func subtaskInput(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case map[string]any:
		if task, ok := v["task"].(string); ok {
			return task
		}
	}
	return ""
}

func (a *app) buildProvider() llm.Provider {
	switch a.cfg.LLM.Provider {
	case "mock":
		return &llm.MockProvider{Response: "mock response"}
	default:
		return llm.NewOllama(a.cfg.LLM.BaseURL)
	}
}

// RunTurn executes one conversational turn, following hand-offs across
// sub-agents, and prints the final answer.
func (a *app) RunTurn(ctx context.Context, prompt string) error {
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	result, err := a.registry.Run(ctx, a.coordinator, messages, &core.Invocation{})
	if err != nil {
		return err
	}

	fmt.Println(result.Content)
	return nil
}

// RunPlan loads a plan file and executes its steps in dependency order. Each
// step's node names the agent that handles it; step outputs are printed as
// they complete.
func (a *app) RunPlan(ctx context.Context, path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	handlers := map[string]plan.Handler{
		a.coordinator.Name(): a.planHandler(a.coordinator.Name()),
	}
	for _, name := range a.registry.Domains() {
		handlers[name] = a.planHandler(name)
	}

	audit, err := a.buildAuditStore()
	if err != nil {
		return err
	}

	executor := plan.NewExecutor(handlers,
		plan.WithAuditStore(audit),
		plan.WithExecutorLogger(a.logger),
	)

	state, err := executor.Execute(ctx, p, plan.NewState())
	if err != nil {
		return err
	}

	for _, step := range p.Steps {
		if out, ok := state.Outputs[step.ID]; ok {
			fmt.Printf("[%s] %v\n", step.ID, out)
		}
	}
	return nil
}

// planHandler routes a plan step to the named agent, passing the step's
// instructions as the user message.
func (a *app) planHandler(node string) plan.Handler {
	return func(ctx context.Context, step plan.Step, state *plan.State) (any, error) {
		machine := a.coordinator
		if node != a.coordinator.Name() {
			m, err := a.registry.Machine(node)
			if err != nil {
				return nil, err
			}
			machine = m
		}

		messages := []llm.Message{{Role: llm.RoleUser, Content: step.Instructions}}
		result, err := a.registry.Run(ctx, machine, messages, &core.Invocation{})
		if err != nil {
			return nil, err
		}
		return result.Content, nil
	}
}

func (a *app) buildAuditStore() (plan.AuditStore, error) {
	auditPath := a.runtime.Runtime().PlanAuditPath
	if auditPath == "" {
		return plan.NewMemoryAuditStore(), nil
	}
	db, err := sql.Open("sqlite", auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	a.auditDB = db
	return plan.NewSQLiteAuditStore(db)
}

// Close stops the config watcher and releases MCP connections, the audit
// store and telemetry exporters.
func (a *app) Close(ctx context.Context) {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	for _, client := range a.mcpClients {
		if err := client.Close(); err != nil {
			a.logger.Warn("close mcp client", slog.Any("error", err))
		}
	}
	if a.auditDB != nil {
		_ = a.auditDB.Close()
	}
	if a.shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			a.logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}
}
