package subagent

import (
	"context"
	"strings"
	"testing"

	"github.com/praxishq/praxis/pkg/agent"
	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
	"github.com/praxishq/praxis/pkg/index"
	"github.com/praxishq/praxis/pkg/llm"
	praxistesting "github.com/praxishq/praxis/pkg/testing"
)

func buildCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	if err := cat.AddCategory("gmail", []core.Tool{
		core.ToolFunc{
			ToolName: "gmail_send",
			Desc:     "send an email through gmail",
			Fn: func(_ context.Context, _ any) (any, error) {
				return "email sent", nil
			},
		},
	}, "gmail"); err != nil {
		t.Fatalf("add gmail: %v", err)
	}
	if err := cat.AddCategory("web", []core.Tool{
		core.ToolFunc{
			ToolName: "web_search",
			Desc:     "search the public web",
			Fn: func(_ context.Context, _ any) (any, error) {
				return "results", nil
			},
		},
	}, "general"); err != nil {
		t.Fatalf("add web: %v", err)
	}
	return cat
}

func buildRetriever(t *testing.T, cat *catalog.Catalog) *index.Retriever {
	t.Helper()
	store := praxistesting.NewFakeVectorStore()
	for _, space := range cat.Spaces() {
		if _, err := index.NewSyncer(store).SyncNamespace(context.Background(), cat.EntriesForSpace(space), space); err != nil {
			t.Fatalf("sync %s: %v", space, err)
		}
	}
	return index.NewRetriever(store, cat)
}

func scriptedCall(name, args string) llm.ChatResponse {
	return llm.ChatResponse{ToolCalls: []llm.ToolCall{{
		ID:       "c1",
		Type:     llm.ToolTypeFunction,
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}}}
}

func TestHandoffToolReturnsTransfer(t *testing.T) {
	tool := HandoffTool("gmail", "")
	if tool.Name() != "call_gmail_agent" {
		t.Fatalf("tool name = %q", tool.Name())
	}
	result, err := tool.Call(context.Background(), map[string]any{"reason": "check inbox"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	transfer, ok := result.(core.ControlTransfer)
	if !ok {
		t.Fatalf("result type %T", result)
	}
	if transfer.TargetAgent != "gmail" || transfer.Reason != "check inbox" {
		t.Fatalf("transfer = %+v", transfer)
	}
}

func TestRegistryBuildsMachinesLazily(t *testing.T) {
	cat := buildCatalog(t)
	r := NewRegistry(cat, llm.NewScriptedMockProvider("unused"), buildRetriever(t, cat), []Domain{
		{Name: "gmail", SystemPrompt: "you handle email"},
	})

	m1, err := r.Machine("gmail")
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	m2, err := r.Machine("gmail")
	if err != nil {
		t.Fatalf("machine again: %v", err)
	}
	if m1 != m2 {
		t.Fatal("machine must be constructed once and reused")
	}
	if _, err := r.Machine("stripe"); err == nil {
		t.Fatal("unregistered domain must error")
	}
}

func TestDispatchScopesHistoryAndSpace(t *testing.T) {
	cat := buildCatalog(t)
	provider := llm.NewScriptedMockProvider("inbox is empty")
	r := NewRegistry(cat, provider, buildRetriever(t, cat), []Domain{
		{Name: "gmail", SystemPrompt: "you handle email"},
	})

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "parent prompt"},
		{Role: llm.RoleUser, Content: "check my inbox"},
		{Role: llm.RoleAssistant, Content: "internal note", VisibleTo: []string{"slack"}},
	}
	result, err := r.Dispatch(context.Background(), core.ControlTransfer{TargetAgent: "gmail"}, history, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Content != "inbox is empty" {
		t.Fatalf("content = %q", result.Content)
	}

	req, ok := provider.RequestAt(0)
	if !ok {
		t.Fatal("no request recorded")
	}
	for _, msg := range req.Messages {
		if msg.Content == "parent prompt" {
			t.Fatal("parent system prompt must not carry over")
		}
		if msg.Content == "internal note" {
			t.Fatal("messages tagged for other agents must be withheld")
		}
	}
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[0].Content != "you handle email" {
		t.Fatalf("expected fresh system prompt, got %+v", req.Messages[0])
	}
}

func TestRegistryRunFollowsHandoff(t *testing.T) {
	cat := buildCatalog(t)
	if err := cat.AddCategory("delegation", []core.Tool{HandoffTool("gmail", "")},
		"general", catalog.CoreTools(core.HandoffToolName("gmail"))); err != nil {
		t.Fatalf("add delegation: %v", err)
	}

	parentProvider := llm.NewScriptedResponses(
		scriptedCall(core.HandoffToolName("gmail"), `{"reason":"check inbox"}`),
	)
	childProvider := llm.NewScriptedMockProvider("two unread emails")

	parent, err := agent.New("assistant", cat, parentProvider)
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	r := NewRegistry(cat, childProvider, buildRetriever(t, cat), []Domain{
		{Name: "gmail", SystemPrompt: "you handle email"},
	})

	result, err := r.Run(context.Background(), parent, []llm.Message{
		{Role: llm.RoleUser, Content: "check my inbox"},
	}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Content != "two unread emails" {
		t.Fatalf("content = %q", result.Content)
	}
	if result.Transfer != nil {
		t.Fatal("final result must not carry a transfer")
	}
}

func TestSubagentMachineScopedToOwnSpace(t *testing.T) {
	cat := buildCatalog(t)
	provider := llm.NewScriptedResponses(
		scriptedCall("retrieve_tools", `{"query":"search the public web"}`),
		llm.ChatResponse{Content: "nothing relevant"},
	)
	r := NewRegistry(cat, provider, buildRetriever(t, cat), []Domain{
		{Name: "gmail", SystemPrompt: "you handle email"},
	})

	result, err := r.Dispatch(context.Background(), core.ControlTransfer{TargetAgent: "gmail"}, []llm.Message{
		{Role: llm.RoleUser, Content: "search the web"},
	}, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, name := range result.Selected {
		if name == "web_search" {
			t.Fatal("retrieval leaked outside the gmail space")
		}
	}
}

func TestSpawnedLoopBounded(t *testing.T) {
	cat := buildCatalog(t)

	// the model never stops calling tools
	calls := 0
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if len(req.Tools) == 0 {
			return &llm.ChatResponse{Content: "final summary"}, nil
		}
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{{
			ID:       "c",
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "web_search", Arguments: `{}`},
		}}}, nil
	}}

	loop := NewSpawnedLoop(cat, provider, nil, WithAlwaysTools("web_search"), WithMaxTurns(3))
	out, err := loop.Run(context.Background(), "research something", nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "final summary" {
		t.Fatalf("out = %q", out)
	}
	// 3 tool-bound calls plus the final no-tools call
	if calls != 4 {
		t.Fatalf("model calls = %d", calls)
	}
}

func TestSpawnedLoopRetrievalRebinds(t *testing.T) {
	cat := buildCatalog(t)
	retriever := buildRetriever(t, cat)

	provider := llm.NewScriptedResponses(
		scriptedCall("retrieve_tools", `{"query":"send an email"}`),
		scriptedCall("gmail_send", `{"to":"a@b.c"}`),
		llm.ChatResponse{Content: "sent"},
	)
	loop := NewSpawnedLoop(cat, provider, retriever)
	out, err := loop.Run(context.Background(), "email alice", nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "sent" {
		t.Fatalf("out = %q", out)
	}

	// gmail_send must be bound on the second call
	req, ok := provider.RequestAt(1)
	if !ok {
		t.Fatal("missing second request")
	}
	bound := false
	for _, tool := range req.Tools {
		if tool.Function.Name == "gmail_send" {
			bound = true
		}
	}
	if !bound {
		t.Fatal("retrieved tool not rebound")
	}
}

func TestSpawnedLoopInheritsParentSelection(t *testing.T) {
	cat := buildCatalog(t)
	provider := llm.NewScriptedResponses(
		scriptedCall("gmail_send", `{}`),
		llm.ChatResponse{Content: "done"},
	)
	loop := NewSpawnedLoop(cat, provider, nil)
	out, err := loop.Run(context.Background(), "send it", []string{"gmail_send"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "done" {
		t.Fatalf("out = %q", out)
	}
}

func TestSpawnedLoopToolErrorCaptured(t *testing.T) {
	cat := catalog.New()
	if err := cat.AddCategory("flaky", []core.Tool{
		core.ToolFunc{
			ToolName: "flaky_op",
			Desc:     "fails",
			Fn: func(_ context.Context, _ any) (any, error) {
				return nil, context.DeadlineExceeded
			},
		},
	}, "general"); err != nil {
		t.Fatalf("add flaky: %v", err)
	}

	provider := llm.NewScriptedResponses(
		scriptedCall("flaky_op", `{}`),
		llm.ChatResponse{Content: "it failed"},
	)
	loop := NewSpawnedLoop(cat, provider, nil, WithAlwaysTools("flaky_op"))
	out, err := loop.Run(context.Background(), "try it", nil, nil)
	if err != nil {
		t.Fatalf("tool failure must not abort the loop: %v", err)
	}
	if out != "it failed" {
		t.Fatalf("out = %q", out)
	}
	req, _ := provider.RequestAt(1)
	found := false
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleTool && strings.HasPrefix(msg.Content, "error:") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected error-flagged tool result in history")
	}
}

func TestDispatchReachesDelegatedTools(t *testing.T) {
	sent := false
	cat := catalog.New()
	if err := cat.AddCategory("gmail", []core.Tool{
		core.ToolFunc{
			ToolName: "gmail_send",
			Desc:     "send an email through gmail",
			Fn: func(_ context.Context, _ any) (any, error) {
				sent = true
				return "email sent", nil
			},
		},
	}, "gmail", catalog.Delegated()); err != nil {
		t.Fatalf("add gmail: %v", err)
	}

	provider := llm.NewScriptedResponses(
		scriptedCall("retrieve_tools", `{"names":["gmail_send"]}`),
		scriptedCall("gmail_send", `{"to":"a@b.c"}`),
		llm.ChatResponse{Content: "done"},
	)
	r := NewRegistry(cat, provider, buildRetriever(t, cat), []Domain{
		{Name: "gmail", SystemPrompt: "you handle email"},
	})

	result, err := r.Dispatch(context.Background(),
		core.ControlTransfer{TargetAgent: "gmail", Reason: "send it"}, nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !sent {
		t.Fatal("the owning sub-agent must be able to execute its delegated tool")
	}
	if result.Content != "done" {
		t.Fatalf("content = %q", result.Content)
	}
	for _, msg := range result.Messages {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "unknown tool") {
			t.Fatalf("delegated tool reported unknown: %q", msg.Content)
		}
	}
}
