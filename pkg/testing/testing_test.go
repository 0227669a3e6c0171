package testing

import (
	"context"
	"testing"

	"github.com/praxishq/praxis/pkg/core"
	"github.com/praxishq/praxis/pkg/index"
)

func TestBuildCatalog(t *testing.T) {
	cat := BuildCatalog(t, Category{
		Name:  "gmail",
		Space: "gmail",
		Tools: []core.Tool{core.ToolFunc{
			ToolName: "gmail_send",
			Desc:     "Send an email.",
			Fn: func(ctx context.Context, input any) (any, error) {
				return "sent", nil
			},
		}},
	})

	if _, ok := cat.Tool("gmail_send"); !ok {
		t.Fatal("expected gmail_send registered")
	}
	if len(cat.EntriesForSpace("gmail")) != 1 {
		t.Fatalf("entries = %v", cat.EntriesForSpace("gmail"))
	}
}

func TestFakeVectorStoreRoundTrip(t *testing.T) {
	store := NewFakeVectorStore()
	ctx := context.Background()

	err := store.Upsert(ctx, "general", []index.Entry{
		{Key: "general::web_search", Namespace: "general", Name: "web_search", Hash: "h1", Description: "search the web"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	entries, err := store.Get(ctx, "general")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "general::web_search" {
		t.Fatalf("entries = %+v", entries)
	}

	keys, err := store.Search(ctx, "search", "general", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}

	if err := store.Delete(ctx, "general", []string{"general::web_search"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.Keys("general")) != 0 {
		t.Fatal("expected empty namespace")
	}
	if store.Calls["upsert"] != 1 || store.Calls["search"] != 1 {
		t.Fatalf("calls = %v", store.Calls)
	}
}

func TestFakeVectorStoreFaultInjection(t *testing.T) {
	store := NewFakeVectorStore()
	store.FailSearch = true
	if _, err := store.Search(context.Background(), "q", "general", 5); err == nil {
		t.Fatal("expected injected search failure")
	}
}

func TestEventRecorder(t *testing.T) {
	rec := NewEventRecorder()
	ctx := context.Background()
	rec.Emit(ctx, core.NewEvent(core.EventTurnStarted, "assistant", "r1", nil))
	rec.Emit(ctx, core.NewEvent(core.EventToolExecuted, "assistant", "r1", nil))
	rec.Emit(ctx, core.NewEvent(core.EventTurnCompleted, "assistant", "r1", nil))

	if len(rec.Events()) != 3 {
		t.Fatalf("events = %d", len(rec.Events()))
	}
	if len(rec.OfType(core.EventToolExecuted)) != 1 {
		t.Fatal("expected one tool event")
	}
}
