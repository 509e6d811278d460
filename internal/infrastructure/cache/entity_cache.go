// Package cache mirrors the last successful server response for each entity
// kind in the persistent store. The mirror is never authoritative: it is
// shown while a fresh copy is being fetched and overwritten afterwards.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tyust/tyust-client/internal/domain/session"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
	"github.com/tyust/tyust-client/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kind enumerates the cached entities.
type Kind int

const (
	Courses Kind = iota + 1
	Scores
	RawScores
	SemesterConfig
)

// kinds is the single table of cached entities. Invalidation on logout and
// expiry walks it, so a kind added here is cleared with the session.
var kinds = []struct {
	kind Kind
	key  session.Key
	name string
}{
	{Courses, session.KeyCoursesCache, "courses"},
	{Scores, session.KeyScoresCache, "scores"},
	{RawScores, session.KeyRawScoresCache, "raw_scores"},
	{SemesterConfig, session.KeySemesterConfigCache, "semester_config"},
}

// Kinds lists every cached kind.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	for i, k := range kinds {
		out[i] = k.kind
	}
	return out
}

// Key returns the storage key of the kind.
func (k Kind) Key() (session.Key, bool) {
	for _, entry := range kinds {
		if entry.kind == k {
			return entry.key, true
		}
	}
	return "", false
}

func (k Kind) String() string {
	for _, entry := range kinds {
		if entry.kind == k {
			return entry.name
		}
	}
	return "unknown"
}

// Score list variants as numbered by the backend.
const (
	ScoreTypeEffective = 1
	ScoreTypeRaw       = 2
)

// ScoreKind maps a score type to its cache kind. Only type 2 selects the raw
// list; any other value reads the effective scores.
func ScoreKind(scoreType int) Kind {
	if scoreType == ScoreTypeRaw {
		return RawScores
	}
	return Scores
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS & METRICS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrUnknownKind is returned for a Kind outside the enumeration.
	ErrUnknownKind = errors.New("cache: unknown kind")

	// ErrCacheSerialization is returned when a payload cannot be encoded or decoded.
	ErrCacheSerialization = errors.New("cache: serialization failed")
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tyust",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Entity cache reads by kind and result",
}, []string{"kind", "result"})

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY CACHE
// ══════════════════════════════════════════════════════════════════════════════

// EntityCache stores one opaque JSON payload per kind.
type EntityCache struct {
	store storage.Store
	log   *logger.Logger
}

// New creates an EntityCache over store.
func New(store storage.Store, log *logger.Logger) *EntityCache {
	if log == nil {
		log = logger.Nop()
	}
	return &EntityCache{store: store, log: log.With(logger.Component("entity_cache"))}
}

// Read returns the cached payload. ok is false when nothing is cached.
func (c *EntityCache) Read(ctx context.Context, kind Kind) (json.RawMessage, bool, error) {
	key, ok := kind.Key()
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	raw, found, err := c.store.Get(ctx, key.String())
	if err != nil {
		lookups.WithLabelValues(kind.String(), "error").Inc()
		return nil, false, fmt.Errorf("read %s cache: %w", kind, err)
	}
	if !found || raw == "" {
		lookups.WithLabelValues(kind.String(), "miss").Inc()
		return nil, false, nil
	}
	lookups.WithLabelValues(kind.String(), "hit").Inc()
	return json.RawMessage(raw), true, nil
}

// Write overwrites the cached payload of kind.
func (c *EntityCache) Write(ctx context.Context, kind Kind, payload json.RawMessage) error {
	key, ok := kind.Key()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: %s payload is not JSON", ErrCacheSerialization, kind)
	}
	if err := c.store.Set(ctx, key.String(), string(payload)); err != nil {
		return fmt.Errorf("write %s cache: %w", kind, err)
	}
	c.log.Debug("cache written", logger.CacheKind(kind.String()), logger.Int("bytes", len(payload)))
	return nil
}

// Invalidate removes one kind.
func (c *EntityCache) Invalidate(ctx context.Context, kind Kind) error {
	key, ok := kind.Key()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err := c.store.Remove(ctx, key.String()); err != nil {
		return fmt.Errorf("invalidate %s cache: %w", kind, err)
	}
	return nil
}

// InvalidateAll removes every kind, attempting all of them. It runs whenever
// a session ends.
func (c *EntityCache) InvalidateAll(ctx context.Context) error {
	var errs []error
	for _, entry := range kinds {
		if err := c.Invalidate(ctx, entry.kind); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Debug("cache invalidated", logger.Int("kinds", len(kinds)), logger.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// ReadAs decodes the cached payload of kind into T.
func ReadAs[T any](ctx context.Context, c *EntityCache, kind Kind) (T, bool, error) {
	var zero T
	raw, ok, err := c.Read(ctx, kind)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("%w: decode %s: %v", ErrCacheSerialization, kind, err)
	}
	return v, true, nil
}

// WriteAs encodes v and writes it under kind.
func WriteAs[T any](ctx context.Context, c *EntityCache, kind Kind, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrCacheSerialization, kind, err)
	}
	return c.Write(ctx, kind, raw)
}
