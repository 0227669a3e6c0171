package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxishq/praxis/pkg/catalog"
	"github.com/praxishq/praxis/pkg/core"
	praxiserrors "github.com/praxishq/praxis/pkg/errors"
	"github.com/praxishq/praxis/pkg/telemetry"
)

const (
	defaultBatchSize = 50
	defaultMarkerTTL = 5 * time.Minute
	markerCacheSize  = 128
	maxBatchAttempts = 3
)

// Result summarizes one sync pass.
type Result struct {
	Upserts int
	Deletes int
	// Skipped is true when the pass short-circuited: either the batch
	// signature matched the synced marker, or the store was unavailable.
	Skipped bool
}

// Syncer diffs the catalog's tools against the persisted index and applies
// only the upserts and deletes needed. Sync is idempotent and driven by
// content hashes, so partial failures self-heal on the next pass.
type Syncer struct {
	store     Store
	batchSize int
	markers   *expirable.LRU[string, string]
	metrics   *telemetry.RuntimeMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*syncerSettings)

type syncerSettings struct {
	batchSize int
	markerTTL time.Duration
	metrics   *telemetry.RuntimeMetrics
	logger    *slog.Logger
}

// WithBatchSize bounds how many upserts/deletes go into one store round-trip.
func WithBatchSize(n int) SyncerOption {
	return func(s *syncerSettings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMarkerTTL bounds how long an unchanged namespace short-circuits.
func WithMarkerTTL(d time.Duration) SyncerOption {
	return func(s *syncerSettings) {
		if d > 0 {
			s.markerTTL = d
		}
	}
}

// WithMetrics attaches runtime metrics.
func WithMetrics(m *telemetry.RuntimeMetrics) SyncerOption {
	return func(s *syncerSettings) { s.metrics = m }
}

// WithLogger sets the syncer logger.
func WithLogger(logger *slog.Logger) SyncerOption {
	return func(s *syncerSettings) { s.logger = logger }
}

// NewSyncer creates a Syncer over the given store.
func NewSyncer(store Store, opts ...SyncerOption) *Syncer {
	settings := syncerSettings{
		batchSize: defaultBatchSize,
		markerTTL: defaultMarkerTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Syncer{
		store:     store,
		batchSize: settings.batchSize,
		markers:   expirable.NewLRU[string, string](markerCacheSize, nil, settings.markerTTL),
		metrics:   settings.metrics,
		tracer:    otel.Tracer("praxis/index"),
		logger:    settings.logger,
	}
}

// SyncNamespace reconciles the persisted entries for space against the given
// tools. After a successful pass the persisted set for the namespace exactly
// equals the current tool set: no orphans, no missing entries.
func (s *Syncer) SyncNamespace(ctx context.Context, tools []catalog.Entry, space string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Index.Sync",
		trace.WithAttributes(attribute.String(telemetry.AttrIndexNamespace, space)),
	)
	defer span.End()

	desired := make(map[string]Entry, len(tools))
	for _, t := range tools {
		key := Key(space, t.Name())
		desired[key] = Entry{
			Key:         key,
			Namespace:   space,
			Name:        t.Name(),
			Hash:        contentHash(t.Tool),
			Description: t.Tool.Description(),
		}
	}

	// Cheap short-circuit before any index I/O.
	sig := batchSignature(desired)
	if marker, ok := s.markers.Get(space); ok && marker == sig {
		return Result{Skipped: true}, nil
	}

	existing, err := s.store.Get(ctx, space)
	if err != nil {
		// The in-memory catalog still functions; only semantic retrieval
		// degrades until the store comes back.
		s.logger.Warn("index store unavailable, skipping sync",
			slog.String("namespace", space),
			slog.Any("error", err),
		)
		return Result{Skipped: true}, nil
	}

	existingHashes := make(map[string]string, len(existing))
	for _, e := range existing {
		existingHashes[e.Key] = e.Hash
	}

	var upserts []Entry
	for key, entry := range desired {
		if existingHashes[key] != entry.Hash {
			upserts = append(upserts, entry)
		}
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].Key < upserts[j].Key })

	var deletes []string
	for key := range existingHashes {
		if _, ok := desired[key]; !ok {
			deletes = append(deletes, key)
		}
	}
	sort.Strings(deletes)

	result := Result{}
	for start := 0; start < len(upserts); start += s.batchSize {
		batch := upserts[start:min(start+s.batchSize, len(upserts))]
		if err := s.applyUpserts(ctx, space, batch); err != nil {
			span.SetAttributes(attribute.Int(telemetry.AttrIndexUpserts, result.Upserts))
			return result, praxiserrors.New(praxiserrors.CodeIndexSync, "batch upsert failed", err).
				WithContext("namespace", space).
				WithRecoverable(true)
		}
		result.Upserts += len(batch)
	}
	for start := 0; start < len(deletes); start += s.batchSize {
		batch := deletes[start:min(start+s.batchSize, len(deletes))]
		if err := s.applyDeletes(ctx, space, batch); err != nil {
			return result, praxiserrors.New(praxiserrors.CodeIndexSync, "batch delete failed", err).
				WithContext("namespace", space).
				WithRecoverable(true)
		}
		result.Deletes += len(batch)
	}

	s.markers.Add(space, sig)
	span.SetAttributes(
		attribute.Int(telemetry.AttrIndexUpserts, result.Upserts),
		attribute.Int(telemetry.AttrIndexDeletes, result.Deletes),
	)
	s.metrics.RecordSyncOps(ctx, space, result.Upserts, result.Deletes)
	core.EmitterFromContext(ctx).Emit(ctx, core.NewEvent(core.EventIndexSynced, "", "", map[string]any{
		"namespace": space,
		"upserts":   result.Upserts,
		"deletes":   result.Deletes,
	}))
	return result, nil
}

func (s *Syncer) applyUpserts(ctx context.Context, space string, batch []Entry) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.store.Upsert(ctx, space, batch)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxBatchAttempts))
	return err
}

func (s *Syncer) applyDeletes(ctx context.Context, space string, batch []string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.store.Delete(ctx, space, batch)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxBatchAttempts))
	return err
}

// contentHash hashes the tool description together with a best-effort source
// fingerprint; when no fingerprint is available it falls back to hashing
// name and description.
func contentHash(t core.Tool) string {
	if fp := sourceFingerprint(t); fp != "" {
		return hashOf(t.Description() + "::" + fp)
	}
	return hashOf(t.Name() + "::" + t.Description())
}

func sourceFingerprint(t core.Tool) string {
	m := reflect.ValueOf(t).MethodByName("Call")
	if !m.IsValid() {
		return ""
	}
	fn := runtime.FuncForPC(m.Pointer())
	if fn == nil {
		return ""
	}
	file, line := fn.FileLine(m.Pointer())
	return fmt.Sprintf("%s@%s:%d", fn.Name(), file, line)
}

func batchSignature(entries map[string]Entry) string {
	parts := make([]string, 0, len(entries))
	for key, e := range entries {
		parts = append(parts, key+"="+e.Hash)
	}
	sort.Strings(parts)
	return hashOf(strings.Join(parts, ";"))
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
