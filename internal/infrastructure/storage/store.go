// Package storage implements the persistent key-value store that survives
// process restarts. Every driver exposes the same small contract: get, set,
// remove and clear of string values under string keys.
//
// Drivers:
//   - MemoryStore: process-local, used by tests and dry runs
//   - SQLiteStore: local file, the default for the CLI (gorm)
//   - RedisStore: shared store for kiosk deployments (go-redis)
//   - SQLStore: PostgreSQL table via sqlx on the pgx driver
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tyust/tyust-client/pkg/logger"
	"github.com/tyust/tyust-client/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// Store is the persistent key-value primitive.
// Calls are synchronous from the caller's point of view.
type Store interface {
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set overwrites the value of key.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear deletes every key owned by this store.
	Clear(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

var (
	// ErrKeyEmpty is returned when an empty key is provided.
	ErrKeyEmpty = errors.New("storage: key cannot be empty")

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY
// ══════════════════════════════════════════════════════════════════════════════

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Options selects and configures a driver.
type Options struct {
	Driver string

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string

	// RedisURL is a redis:// URL for the redis driver.
	RedisURL string
	// KeyPrefix namespaces keys in shared backends (redis, postgres).
	KeyPrefix string

	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string

	// DialTimeout bounds each attempt of the initial connection check.
	DialTimeout time.Duration

	// Log receives connection retries. Nil discards them.
	Log *logger.Logger
}

// Open creates the store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}

	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(opts.SQLitePath)
	case DriverRedis:
		return OpenRedis(ctx, opts)
	case DriverPostgres:
		return OpenPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// ping checks a freshly opened shared store, retrying while the server may
// still be starting. Errors marked with retry.Permanent stop at once.
func ping(ctx context.Context, opts Options, check func(ctx context.Context) error) error {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	retrier := retry.StoreConnectRetrier(retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("store not reachable, retrying",
			logger.Component("storage"),
			logger.String("driver", opts.Driver),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err))
	}))
	return retrier.Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		return check(pingCtx)
	})
}
