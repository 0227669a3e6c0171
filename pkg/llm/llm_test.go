package llm

import (
	"context"
	"testing"
)

func TestScriptedMockProviderOrder(t *testing.T) {
	p := NewScriptedMockProvider("first", "second")

	resp, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "first" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}

	resp, err = p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "second" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error when responses are exhausted")
	}
	if p.CallCount != 3 {
		t.Fatalf("expected 3 calls, got %d", p.CallCount)
	}
}

func TestScriptedResponsesWithToolCalls(t *testing.T) {
	p := NewScriptedResponses(ChatResponse{
		ToolCalls: []ToolCall{{
			ID:       "call-1",
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`},
		}},
	})

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
}

func TestScriptedMockRecordsRequests(t *testing.T) {
	p := NewScriptedMockProvider("ok")
	req := ChatRequest{Model: "m", Tools: []Tool{{Type: ToolTypeFunction, Function: FunctionDef{Name: "a"}}}}
	if _, err := p.Chat(context.Background(), req); err != nil {
		t.Fatalf("chat: %v", err)
	}

	got, ok := p.RequestAt(0)
	if !ok {
		t.Fatal("expected recorded request")
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "a" {
		t.Fatalf("unexpected recorded tools: %+v", got.Tools)
	}
}

func TestMessageVisibility(t *testing.T) {
	open := Message{Role: RoleUser, Content: "hi"}
	if !open.VisibleFor("anyone") {
		t.Fatal("unrestricted message should be visible")
	}

	scoped := Message{Role: RoleAssistant, Content: "internal", VisibleTo: []string{"gmail"}}
	if scoped.VisibleFor("calendar") {
		t.Fatal("scoped message leaked to another agent")
	}
	if !scoped.VisibleFor("gmail") {
		t.Fatal("scoped message should be visible to its agent")
	}
}
