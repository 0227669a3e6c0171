package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/praxishq/praxis/pkg/catalog"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/telemetry"
)

const defaultRetrievalLimit = 5

// Query is one retrieval request: free text, exact names, or both, scoped to
// one or more spaces.
type Query struct {
	Text   string
	Names  []string
	Spaces []string
	Limit  int
}

// Retriever answers tool retrieval queries against the vector index, mapping
// ranked composite keys back to catalog entries.
type Retriever struct {
	store   Store
	catalog *catalog.Catalog
	limit   int
	metrics *telemetry.RuntimeMetrics
	logger  *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithRetrievalLimit sets the default per-space result limit.
func WithRetrievalLimit(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithRetrieverMetrics attaches runtime metrics.
func WithRetrieverMetrics(m *telemetry.RuntimeMetrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// WithRetrieverLogger sets the logger for degradation reports.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a Retriever over the store and catalog.
func NewRetriever(store Store, cat *catalog.Catalog, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:   store,
		catalog: cat,
		limit:   defaultRetrievalLimit,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve resolves a query to catalog entries, ranked. Exact names resolve
// directly against the catalog; free text goes through the vector index.
// Index unavailability degrades to an empty semantic result, never an error:
// the turn continues with whatever tools are already bound.
func (r *Retriever) Retrieve(ctx context.Context, q Query) []catalog.Entry {
	limit := q.Limit
	if limit <= 0 {
		limit = r.limit
	}
	spaces := q.Spaces
	if len(spaces) == 0 {
		spaces = r.catalog.Spaces()
	}

	seen := make(map[string]bool)
	var out []catalog.Entry
	add := func(e catalog.Entry) {
		key := Key(e.Space, e.Name())
		if !seen[key] {
			seen[key] = true
			out = append(out, e)
		}
	}

	for _, name := range q.Names {
		if e, ok := r.entryInSpaces(name, spaces); ok {
			add(e)
		}
	}

	if q.Text == "" {
		return out
	}

	start := time.Now()
	for _, space := range spaces {
		keys, err := r.store.Search(ctx, q.Text, space, limit)
		if err != nil {
			r.logger.Warn("tool retrieval degraded",
				slog.String("space", space),
				slog.Any("error", praxiserrors.New(praxiserrors.CodeRetrievalFailure, "semantic search failed", err).
					WithContext("space", space).
					WithRecoverable(true)),
			)
			continue
		}
		for _, key := range keys {
			space, name, ok := SplitKey(key)
			if !ok {
				continue
			}
			if e, found := r.entryInSpace(name, space); found {
				add(e)
			}
		}
		r.metrics.RecordRetrieval(ctx, space, float64(time.Since(start).Milliseconds()))
	}
	return out
}

func (r *Retriever) entryInSpaces(name string, spaces []string) (catalog.Entry, bool) {
	for _, space := range spaces {
		if e, ok := r.entryInSpace(name, space); ok {
			return e, true
		}
	}
	return catalog.Entry{}, false
}

func (r *Retriever) entryInSpace(name, space string) (catalog.Entry, bool) {
	for _, e := range r.catalog.EntriesForSpace(space) {
		if e.Name() == name {
			return e, true
		}
	}
	return catalog.Entry{}, false
}
