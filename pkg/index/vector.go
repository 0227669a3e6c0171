// Package index keeps a vector-searchable index of catalog tools in sync and
// answers semantic retrieval queries against it. Tools are keyed by
// {space}::{name} so identically named tools in different spaces never
// collide.
package index

import (
	"context"
	"strings"
)

// KeySeparator joins space and tool name into a composite key.
const KeySeparator = "::"

// Key builds the composite index key for a tool.
func Key(space, name string) string {
	return space + KeySeparator + name
}

// SplitKey splits a composite key back into space and tool name.
func SplitKey(key string) (space, name string, ok bool) {
	space, name, ok = strings.Cut(key, KeySeparator)
	return space, name, ok
}

// Entry is the persisted record for one indexed tool.
type Entry struct {
	// Key is the composite {space}::{name} identifier.
	Key string
	// Namespace partitions entries; it equals the tool's space.
	Namespace string
	// Name is the bare tool name.
	Name string
	// Hash is the content hash the syncer diffs against.
	Hash string
	// Description is the embedded text.
	Description string
}

// Store is the vector index service boundary. Implementations embed the
// description text themselves.
type Store interface {
	// Get returns all entries in a namespace.
	Get(ctx context.Context, namespace string) ([]Entry, error)
	// Upsert writes entries into a namespace, replacing same-key records.
	Upsert(ctx context.Context, namespace string, entries []Entry) error
	// Delete removes entries by composite key.
	Delete(ctx context.Context, namespace string, keys []string) error
	// Search returns composite keys ranked by semantic similarity to query.
	Search(ctx context.Context, query, namespace string, limit int) ([]string, error)
}

// Embedder converts text to vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
