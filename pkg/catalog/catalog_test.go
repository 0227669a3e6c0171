package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/praxishq/praxis/pkg/core"
)

func tool(name, desc string) core.Tool {
	return core.ToolFunc{
		ToolName: name,
		Desc:     desc,
		Fn: func(_ context.Context, _ any) (any, error) {
			return "ok", nil
		},
	}
}

func TestAddCategoryIdempotent(t *testing.T) {
	c := New()
	if err := c.AddCategory("search", []core.Tool{tool("web_search", "search the web")}, "general"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddCategory("search", []core.Tool{tool("web_search", "v2"), tool("news_search", "news")}, "general"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	entries := c.EntriesForSpace("general")
	if len(entries) != 2 {
		t.Fatalf("expected replacement to yield 2 entries, got %d", len(entries))
	}
	if entries[0].Tool.Description() != "v2" {
		t.Fatalf("expected replaced tool, got %q", entries[0].Tool.Description())
	}
}

func TestAddCategoryValidation(t *testing.T) {
	c := New()
	if err := c.AddCategory("", nil, "general"); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := c.AddCategory("search", nil, ""); err == nil {
		t.Fatal("expected error for missing space")
	}
}

func TestToolsForBindingExcludesDelegated(t *testing.T) {
	c := New()
	c.AddCategory("search", []core.Tool{tool("web_search", "search")}, "general")
	c.AddCategory("gmail", []core.Tool{tool("gmail_send", "send an email")}, "google",
		RequiresConnection(), Delegated())

	bound := c.ToolsForBinding(true)
	if _, ok := bound["web_search"]; !ok {
		t.Fatal("expected web_search to be bindable")
	}
	if _, ok := bound["gmail_send"]; ok {
		t.Fatal("delegated tool must not be directly bindable")
	}

	all := c.ToolsForBinding(false)
	if _, ok := all["gmail_send"]; !ok {
		t.Fatal("expected delegated tool when not excluding")
	}
}

func TestCategoryOfCached(t *testing.T) {
	c := New()
	c.AddCategory("search", []core.Tool{tool("web_search", "search")}, "general")

	if got := c.CategoryOf("web_search"); got != "search" {
		t.Fatalf("unexpected category: %q", got)
	}
	if got := c.CategoryOf("nope"); got != UnknownCategory {
		t.Fatalf("expected unknown, got %q", got)
	}

	// re-registration invalidates the cache
	c.AddCategory("news", []core.Tool{tool("nope", "now exists")}, "general")
	if got := c.CategoryOf("nope"); got != "news" {
		t.Fatalf("expected cache purge on add, got %q", got)
	}
}

func TestCoreEntries(t *testing.T) {
	c := New()
	c.AddCategory("base", []core.Tool{tool("todo_list", "list todos"), tool("todo_add", "add todo")}, "general",
		CoreTools("todo_list"))

	cores := c.CoreEntries()
	if len(cores) != 1 || cores[0].Name() != "todo_list" {
		t.Fatalf("unexpected core entries: %+v", cores)
	}
}

func TestSpaces(t *testing.T) {
	c := New()
	c.AddCategory("search", []core.Tool{tool("web_search", "search")}, "general")
	c.AddCategory("gmail", []core.Tool{tool("gmail_send", "send")}, "google")

	spaces := c.Spaces()
	if len(spaces) != 2 || spaces[0] != "general" || spaces[1] != "google" {
		t.Fatalf("unexpected spaces: %v", spaces)
	}
}

func TestLoadAllFanOut(t *testing.T) {
	c := New()
	loaders := []Loader{
		{
			Name:  "search",
			Space: "general",
			Load: func(_ context.Context) ([]core.Tool, error) {
				return []core.Tool{tool("web_search", "search")}, nil
			},
		},
		{
			Name:               "gmail",
			Space:              "google",
			RequiresConnection: true,
			Delegated:          true,
			Load: func(_ context.Context) ([]core.Tool, error) {
				return []core.Tool{tool("gmail_send", "send")}, nil
			},
		},
	}

	if err := c.LoadAll(context.Background(), loaders); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if !c.HasCategory("search") || !c.HasCategory("gmail") {
		t.Fatal("expected both categories registered")
	}
	gmail := c.EntriesForSpace("google")
	if len(gmail) != 1 || !gmail[0].Delegated || !gmail[0].RequiresConnection {
		t.Fatalf("unexpected gmail entries: %+v", gmail)
	}
}

func TestLoadAllPartialFailure(t *testing.T) {
	c := New()
	boom := errors.New("provider down")
	loaders := []Loader{
		{
			Name:  "search",
			Space: "general",
			Load: func(_ context.Context) ([]core.Tool, error) {
				return []core.Tool{tool("web_search", "search")}, nil
			},
		},
		{
			Name:  "broken",
			Space: "general",
			Load: func(_ context.Context) ([]core.Tool, error) {
				return nil, boom
			},
		},
	}

	err := c.LoadAll(context.Background(), loaders)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined loader error, got %v", err)
	}
	if !c.HasCategory("search") {
		t.Fatal("healthy category should still register")
	}
	if c.HasCategory("broken") {
		t.Fatal("failed category must not register")
	}
}
