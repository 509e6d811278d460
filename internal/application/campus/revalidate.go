package campus

import (
	"context"

	"github.com/tyust/tyust-client/internal/infrastructure/cache"
)

// Snapshot is what a page shows at one point of a cache-then-revalidate
// flow.
type Snapshot[T any] struct {
	Value T
	// Fresh is true when Value came from the server in this flow.
	Fresh bool
	// Cached is true when a cached copy existed at the start.
	Cached bool
	// Err is the refresh failure, shown as a non-blocking indicator.
	Err error
	// CacheErr is a failure to read or write the local mirror.
	CacheErr error
}

// HasValue reports whether there is anything to show.
func (s Snapshot[T]) HasValue() bool { return s.Fresh || s.Cached }

// Revalidate shows the cached value right away, always fetches, writes the
// fresh value through the cache and shows it. On fetch failure the cached
// value stays and is shown again with the error. display may be nil.
func Revalidate[T any](
	ctx context.Context,
	c *cache.EntityCache,
	kind cache.Kind,
	fetch func(context.Context) (T, error),
	display func(Snapshot[T]),
) Snapshot[T] {
	show := func(s Snapshot[T]) {
		if display != nil {
			display(s)
		}
	}

	var snap Snapshot[T]
	cached, ok, err := cache.ReadAs[T](ctx, c, kind)
	if err != nil {
		snap.CacheErr = err
	}
	if ok {
		snap.Value = cached
		snap.Cached = true
		show(snap)
	}

	fresh, err := fetch(ctx)
	if err != nil {
		snap.Err = err
		show(snap)
		return snap
	}

	if err := cache.WriteAs(ctx, c, kind, fresh); err != nil {
		snap.CacheErr = err
	}
	snap.Value = fresh
	snap.Fresh = true
	show(snap)
	return snap
}
