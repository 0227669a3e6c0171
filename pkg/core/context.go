package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type storeKey struct{}
type emitterKey struct{}
type selectedKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := newRunID()
	return WithRunID(ctx, id), id
}

// WithStore attaches a durable store handle to the context.
func WithStore(ctx context.Context, store Store) context.Context {
	return context.WithValue(ctx, storeKey{}, store)
}

// StoreFromContext returns the durable store handle if present.
func StoreFromContext(ctx context.Context) (Store, bool) {
	store, ok := ctx.Value(storeKey{}).(Store)
	return store, ok
}

// WithEmitter attaches an event emitter to the context.
func WithEmitter(ctx context.Context, emitter EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emitter)
}

// EmitterFromContext returns the event emitter, or a no-op one.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if emitter, ok := ctx.Value(emitterKey{}).(EventEmitter); ok {
		return emitter
	}
	return NoopEventEmitter{}
}

// WithSelectedTools records the caller's current tool selection, so tools
// that spawn nested work can pass it on.
func WithSelectedTools(ctx context.Context, names []string) context.Context {
	return context.WithValue(ctx, selectedKey{}, names)
}

// SelectedTools returns the selection recorded by the surrounding turn, or
// nil.
func SelectedTools(ctx context.Context) []string {
	names, _ := ctx.Value(selectedKey{}).([]string)
	return names
}

func newRunID() string {
	return uuid.NewString()
}
