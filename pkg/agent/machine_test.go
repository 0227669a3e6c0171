package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/index"
	"github.com/praxishq/praxis/pkg/llm"
	"github.com/praxishq/praxis/pkg/middleware"
)

type memStore struct {
	entries map[string]map[string]index.Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]map[string]index.Entry)}
}

func (s *memStore) Get(_ context.Context, namespace string) ([]index.Entry, error) {
	var out []index.Entry
	for _, e := range s.entries[namespace] {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, namespace string, entries []index.Entry) error {
	if s.entries[namespace] == nil {
		s.entries[namespace] = make(map[string]index.Entry)
	}
	for _, e := range entries {
		s.entries[namespace][e.Key] = e
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, namespace string, keys []string) error {
	for _, k := range keys {
		delete(s.entries[namespace], k)
	}
	return nil
}

func (s *memStore) Search(_ context.Context, query, namespace string, limit int) ([]string, error) {
	var out []string
	for key, e := range s.entries[namespace] {
		if strings.Contains(strings.ToLower(e.Description), strings.ToLower(query)) {
			out = append(out, key)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func fixedTool(name, desc, result string) core.Tool {
	return core.ToolFunc{
		ToolName: name,
		Desc:     desc,
		Fn: func(_ context.Context, _ any) (any, error) {
			return result, nil
		},
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func testFixture(t *testing.T) (*catalog.Catalog, *index.Retriever) {
	t.Helper()
	cat := catalog.New()
	if err := cat.AddCategory("gmail", []core.Tool{
		fixedTool("gmail_send", "send an email through gmail", "email sent"),
	}, "gmail"); err != nil {
		t.Fatalf("add gmail: %v", err)
	}
	store := newMemStore()
	for _, space := range cat.Spaces() {
		if _, err := index.NewSyncer(store).SyncNamespace(context.Background(), cat.EntriesForSpace(space), space); err != nil {
			t.Fatalf("sync %s: %v", space, err)
		}
	}
	return cat, index.NewRetriever(store, cat)
}

func userTurn(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func TestRunPlainAnswer(t *testing.T) {
	cat, _ := testFixture(t)
	provider := llm.NewScriptedMockProvider("hello there")

	m, err := New("assistant", cat, provider, WithModel("test-model"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("hi"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Content != "hello there" {
		t.Fatalf("content = %q", result.Content)
	}
	if result.ModelCalls != 1 {
		t.Fatalf("model calls = %d", result.ModelCalls)
	}
}

func TestRetrieveThenBind(t *testing.T) {
	cat, retriever := testFixture(t)
	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", RetrieveToolName, `{"query":"send an email"}`),
		}},
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c2", "gmail_send", `{"to":"a@b.c"}`),
		}},
		llm.ChatResponse{Content: "sent it"},
	)

	m, err := New("assistant", cat, provider, WithRetriever(retriever))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("email alice"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	found := false
	for _, name := range result.Selected {
		if name == "gmail_send" {
			found = true
		}
	}
	if !found {
		t.Fatalf("gmail_send not selected: %v", result.Selected)
	}

	// second model call must offer gmail_send in its binding
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
		t.Fatal("gmail_send not bound on the second call")
	}
	if result.Content != "sent it" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestDelegatedToolsHiddenFromNonOwner(t *testing.T) {
	cat := catalog.New()
	if err := cat.AddCategory("gmail", []core.Tool{
		fixedTool("gmail_send", "send an email through gmail", "email sent"),
	}, "gmail", catalog.Delegated()); err != nil {
		t.Fatalf("add gmail: %v", err)
	}
	store := newMemStore()
	if _, err := index.NewSyncer(store).SyncNamespace(context.Background(), cat.EntriesForSpace("gmail"), "gmail"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	retriever := index.NewRetriever(store, cat)

	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", RetrieveToolName, `{"query":"send an email","names":["gmail_send"]}`),
		}},
		llm.ChatResponse{Content: "cannot do that here"},
	)

	// No WithSpaces: this machine owns no space and must not be offered
	// another domain's delegated tools.
	m, err := New("coordinator", cat, provider, WithRetriever(retriever))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("email alice"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range result.Selected {
		if name == "gmail_send" {
			t.Fatal("delegated tool must not be selected outside its owning space")
		}
	}
	req, ok := provider.RequestAt(1)
	if !ok {
		t.Fatal("missing second request")
	}
	for _, tool := range req.Tools {
		if tool.Function.Name == "gmail_send" {
			t.Fatal("delegated tool must not be bound outside its owning space")
		}
	}
}

func TestHandoffShortCircuits(t *testing.T) {
	cat, _ := testFixture(t)
	if err := cat.AddCategory("delegation", []core.Tool{
		core.ToolFunc{
			ToolName: core.HandoffToolName("gmail"),
			Desc:     "transfer to the gmail agent",
			Fn: func(_ context.Context, _ any) (any, error) {
				return core.ControlTransfer{TargetAgent: "gmail"}, nil
			},
		},
	}, "general", catalog.CoreTools(core.HandoffToolName("gmail"))); err != nil {
		t.Fatalf("add delegation: %v", err)
	}

	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", core.HandoffToolName("gmail"), `{}`),
		}},
	)
	m, err := New("assistant", cat, provider)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("check my inbox"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Transfer == nil || result.Transfer.TargetAgent != "gmail" {
		t.Fatalf("expected transfer to gmail, got %+v", result.Transfer)
	}
	// no model call after the hand-off tool result
	if provider.CallCount != 1 {
		t.Fatalf("expected 1 model call, got %d", provider.CallCount)
	}
	last := result.Messages[len(result.Messages)-1]
	if !strings.HasPrefix(last.Content, core.TransferredPrefix) {
		t.Fatalf("last message = %q", last.Content)
	}
}

func TestLegacyTransferTextShortCircuits(t *testing.T) {
	cat, _ := testFixture(t)
	if err := cat.AddCategory("delegation", []core.Tool{
		fixedTool(core.HandoffToolName("slack"), "transfer to slack", core.TransferredPrefix+"slack"),
	}, "general", catalog.CoreTools(core.HandoffToolName("slack"))); err != nil {
		t.Fatalf("add delegation: %v", err)
	}

	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", core.HandoffToolName("slack"), `{}`),
		}},
	)
	m, err := New("assistant", cat, provider)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("ping the team"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Transfer == nil || result.Transfer.TargetAgent != "slack" {
		t.Fatalf("expected transfer to slack, got %+v", result.Transfer)
	}
}

func TestUnknownToolReportedToModel(t *testing.T) {
	cat, _ := testFixture(t)
	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", "no_such_tool", `{}`),
		}},
		llm.ChatResponse{Content: "my mistake"},
	)
	m, err := New("assistant", cat, provider)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("do the thing"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Content != "my mistake" {
		t.Fatalf("content = %q", result.Content)
	}
	foundReport := false
	for _, msg := range result.Messages {
		if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "unknown tool") {
			foundReport = true
		}
	}
	if !foundReport {
		t.Fatal("expected an unknown-tool result message")
	}
}

func TestToolFailureCapturedNotRaised(t *testing.T) {
	cat, _ := testFixture(t)
	if err := cat.AddCategory("flaky", []core.Tool{
		core.ToolFunc{
			ToolName: "flaky_op",
			Desc:     "sometimes fails",
			Fn: func(_ context.Context, _ any) (any, error) {
				return nil, context.DeadlineExceeded
			},
		},
	}, "general", catalog.CoreTools("flaky_op")); err != nil {
		t.Fatalf("add flaky: %v", err)
	}

	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", "flaky_op", `{}`),
		}},
		llm.ChatResponse{Content: "it failed, sorry"},
	)
	m, err := New("assistant", cat, provider)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("try it"), nil)
	if err != nil {
		t.Fatalf("tool failure must not surface: %v", err)
	}
	foundError := false
	for _, msg := range result.Messages {
		if msg.Role == llm.RoleTool && strings.HasPrefix(msg.Content, "error:") {
			foundError = true
		}
	}
	if !foundError {
		t.Fatal("expected an error-flagged tool result")
	}
}

func TestDisabledRetrievalNeverOffersTool(t *testing.T) {
	cat, retriever := testFixture(t)
	provider := llm.NewScriptedMockProvider("done")

	m, err := New("assistant", cat, provider, WithRetriever(retriever), WithoutRetrieval())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.Run(context.Background(), userTurn("hi"), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	req, _ := provider.RequestAt(0)
	for _, tool := range req.Tools {
		if tool.Function.Name == RetrieveToolName {
			t.Fatal("retrieval tool offered despite being disabled")
		}
	}
}

func TestMixedCallsFanOutSameTurn(t *testing.T) {
	cat, retriever := testFixture(t)
	if err := cat.AddCategory("clock", []core.Tool{
		fixedTool("clock_now", "current time", "12:00"),
	}, "general", catalog.CoreTools("clock_now")); err != nil {
		t.Fatalf("add clock: %v", err)
	}

	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", RetrieveToolName, `{"query":"send an email"}`),
			toolCall("c2", "clock_now", `{}`),
		}},
		llm.ChatResponse{Content: "all resolved"},
	)
	m, err := New("assistant", cat, provider, WithRetriever(retriever))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("email alice at noon"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// both calls resolved before the next model call
	if provider.CallCount != 2 {
		t.Fatalf("model calls = %d", provider.CallCount)
	}
	var toolResults int
	for _, msg := range result.Messages {
		if msg.Role == llm.RoleTool {
			toolResults++
		}
	}
	if toolResults != 2 {
		t.Fatalf("tool results = %d", toolResults)
	}
	if len(result.Selected) == 0 {
		t.Fatal("retrieval call must still select tools")
	}
}

func TestSystemPromptPrepended(t *testing.T) {
	cat, _ := testFixture(t)
	provider := llm.NewScriptedMockProvider("ok")

	m, err := New("assistant", cat, provider, WithSystemPrompt("you are terse"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.Run(context.Background(), userTurn("hi"), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	req, _ := provider.RequestAt(0)
	if len(req.Messages) == 0 || req.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("expected system message first, got %+v", req.Messages)
	}
}

func TestEndHooksRunOnce(t *testing.T) {
	cat, _ := testFixture(t)
	provider := llm.NewScriptedMockProvider("bye")

	runs := 0
	m, err := New("assistant", cat, provider, WithEndHook(func(_ context.Context, _ *ConversationState) {
		runs++
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.Run(context.Background(), userTurn("hi"), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs != 1 {
		t.Fatalf("end hook ran %d times", runs)
	}
}

func TestIterationCeiling(t *testing.T) {
	cat, _ := testFixture(t)
	if err := cat.AddCategory("loop", []core.Tool{
		fixedTool("loop_op", "never stops", "again"),
	}, "general", catalog.CoreTools("loop_op")); err != nil {
		t.Fatalf("add loop: %v", err)
	}

	// the model keeps requesting the same tool forever
	provider := &llm.MockProvider{ChatFunc: func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c", "loop_op", `{}`),
		}}, nil
	}}
	m, err := New("assistant", cat, provider, WithMaxIterations(4))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.Run(context.Background(), userTurn("loop"), nil); err == nil {
		t.Fatal("expected a structured error at the ceiling")
	}
}

func TestPerCallModelSelection(t *testing.T) {
	cat, _ := testFixture(t)
	fallback := llm.NewScriptedMockProvider("from default")
	alt := llm.NewScriptedMockProvider("from alt")

	m, err := New("assistant", cat, fallback,
		WithModel("base-model"),
		WithProviderFor("alt", alt),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := m.Run(context.Background(), userTurn("hi"), &core.Invocation{Provider: "alt", Model: "alt-model"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Content != "from alt" {
		t.Fatalf("content = %q", result.Content)
	}
	req, _ := alt.RequestAt(0)
	if req.Model != "alt-model" {
		t.Fatalf("model = %q", req.Model)
	}
	if fallback.CallCount != 0 {
		t.Fatal("default provider must not be called")
	}
}

type toolErrorRecorder struct {
	last error
}

func (r *toolErrorRecorder) WrapTool(ctx context.Context, _ *middleware.ExecutionContext, call llm.ToolCall, next middleware.ToolInvoker) (any, error) {
	result, err := next(ctx, call)
	r.last = err
	return result, err
}

func TestToolFailureCarriesTypedCode(t *testing.T) {
	cat, _ := testFixture(t)
	if err := cat.AddCategory("flaky", []core.Tool{
		core.ToolFunc{
			ToolName: "flaky_op",
			Desc:     "sometimes fails",
			Fn: func(_ context.Context, _ any) (any, error) {
				return nil, errors.New("boom")
			},
		},
	}, "general", catalog.CoreTools("flaky_op")); err != nil {
		t.Fatalf("add flaky: %v", err)
	}

	recorder := &toolErrorRecorder{}
	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", "flaky_op", `{}`),
		}},
		llm.ChatResponse{Content: "noted"},
	)
	m, err := New("assistant", cat, provider, WithChain(middleware.NewChain([]any{recorder})))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.Run(context.Background(), userTurn("try it"), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	pe := praxiserrors.AsPraxisError(recorder.last)
	if pe == nil || pe.Code != praxiserrors.CodeToolFailure {
		t.Fatalf("expected %s, got %v", praxiserrors.CodeToolFailure, recorder.last)
	}
	if !strings.Contains(pe.Error(), "boom") {
		t.Fatalf("cause lost: %v", pe)
	}
}

func TestSelectionVisibleToTools(t *testing.T) {
	cat, retriever := testFixture(t)
	var seen []string
	if err := cat.AddCategory("spawn", []core.Tool{
		core.ToolFunc{
			ToolName: "run_subtask",
			Desc:     "delegate a bounded subtask",
			Fn: func(ctx context.Context, _ any) (any, error) {
				seen = core.SelectedTools(ctx)
				return "ok", nil
			},
		},
	}, "general", catalog.CoreTools("run_subtask")); err != nil {
		t.Fatalf("add spawn: %v", err)
	}

	provider := llm.NewScriptedResponses(
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c1", RetrieveToolName, `{"names":["gmail_send"]}`),
		}},
		llm.ChatResponse{ToolCalls: []llm.ToolCall{
			toolCall("c2", "run_subtask", `{"task":"draft it"}`),
		}},
		llm.ChatResponse{Content: "done"},
	)
	m, err := New("assistant", cat, provider, WithRetriever(retriever))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := m.Run(context.Background(), userTurn("email alice"), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	found := false
	for _, name := range seen {
		if name == "gmail_send" {
			found = true
		}
	}
	if !found {
		t.Fatalf("selection not visible to the tool: %v", seen)
	}
}
