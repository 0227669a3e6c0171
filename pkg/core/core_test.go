package core

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", id, err)
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id {
		t.Fatalf("expected stable run id, got %q then %q", id, id2)
	}
	if ctx2 != ctx {
		t.Fatal("expected context to be reused when run id exists")
	}
}

func TestStoreContextRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ctx := WithStore(context.Background(), store)

	got, ok := StoreFromContext(ctx)
	if !ok {
		t.Fatal("expected store in context")
	}
	if got != Store(store) {
		t.Fatal("store instance mismatch")
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Put(ctx, "k", 42); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if v != 42 {
		t.Fatalf("unexpected value: %v", v)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestChannelEmitterDropsWhenFull(t *testing.T) {
	emitter := NewChannelEmitter(1)
	emitter.Emit(context.Background(), NewEvent(EventTurnStarted, "main", "run-1", nil))
	emitter.Emit(context.Background(), NewEvent(EventTurnCompleted, "main", "run-1", nil))

	ev := <-emitter.C
	if ev.Type != EventTurnStarted {
		t.Fatalf("unexpected event: %v", ev.Type)
	}
	select {
	case ev := <-emitter.C:
		t.Fatalf("expected second event dropped, got %v", ev.Type)
	default:
	}
}

func TestInvocationFlags(t *testing.T) {
	inv := Invocation{Flags: map[string]any{"disable_retrieve_tools": true, "tier": "pro"}}
	if !inv.Flag("disable_retrieve_tools") {
		t.Fatal("expected flag to be true")
	}
	if inv.Flag("missing") {
		t.Fatal("expected missing flag to be false")
	}
	if inv.StringFlag("tier") != "pro" {
		t.Fatalf("unexpected string flag: %q", inv.StringFlag("tier"))
	}
}
