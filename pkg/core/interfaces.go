package core

import "context"

// Tool is a named, invocable capability. The description is used for
// semantic matching when the tool is indexed for retrieval.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input any) (any, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, input any) (any, error)
}

// Name returns the tool name.
func (t ToolFunc) Name() string { return t.ToolName }

// Description returns the tool description.
func (t ToolFunc) Description() string { return t.Desc }

// Call invokes the wrapped function.
func (t ToolFunc) Call(ctx context.Context, input any) (any, error) {
	return t.Fn(ctx, input)
}

// Store is an opaque durable key-value handle passed through to tools and
// middleware that need cross-call persistence. The runtime never interprets
// the values it holds.
type Store interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}
