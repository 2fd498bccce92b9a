// Package sqlite implements the CORTEX engine over a single SQLite
// database: bitemporal fact store, hash-chained ledger with Merkle
// checkpoints, FTS + embedding indexes, extracted entity graph, CDC outbox,
// and the consensus layer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/graph"
	"github.com/borjamoskv/cortex/internal/guard"
	"github.com/borjamoskv/cortex/internal/ledger"
	"github.com/borjamoskv/cortex/internal/storage"
)

// Embedder produces fixed-dimension vectors for fact content. Supplied by
// the host; failures are logged and the embedding skipped, never failing
// the store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// acquireTimeout bounds connection acquisition for write transactions.
// Exceeding it surfaces as ErrResourceExhausted.
const acquireTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	AutoEmbed           bool
	EmbeddingsDimension int
	CheckpointMin       int
	CheckpointMax       int
	PoolSize            int
	Limits              guard.Limits
	Embedder            Embedder
	Remote              graph.RemoteBackend
}

func (o Options) withDefaults() Options {
	if o.EmbeddingsDimension <= 0 {
		o.EmbeddingsDimension = 384
	}
	if o.CheckpointMin <= 0 {
		o.CheckpointMin = 100
	}
	if o.CheckpointMax <= 0 {
		o.CheckpointMax = 1000
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 5
	}
	return o
}

// Engine is the embedded CORTEX engine over one database file. Reads run
// concurrently; writes serialize through writeMu on top of SQLite's own
// single-writer contract.
type Engine struct {
	db      *sql.DB
	path    string
	opts    Options
	batcher *ledger.AdaptiveBatcher

	writeMu sync.Mutex
}

// New opens (creating if needed) the database at path and applies all
// pending migrations.
func New(ctx context.Context, path string, opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", storage.SQLiteConnString(path, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.PoolSize)

	e := &Engine{
		db:      db,
		path:    path,
		opts:    opts,
		batcher: ledger.NewAdaptiveBatcher(opts.CheckpointMin, opts.CheckpointMax),
	}

	if err := e.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	debug.Logf("cortex: database initialized at %s\n", path)
	return e, nil
}

// Close releases the underlying connection pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

// DB exposes the underlying pool for read-only extension queries.
func (e *Engine) DB() *sql.DB { return e.db }

// Limits returns the boundary limits in force.
func (e *Engine) Limits() guard.Limits { return e.opts.Limits }

// VectorAvailable reports whether the engine can serve vector KNN: an
// embedder is configured and the embedding index exists.
func (e *Engine) VectorAvailable() bool {
	return e.opts.Embedder != nil
}

// Embedder returns the configured embedder, or nil.
func (e *Engine) Embedder() Embedder { return e.opts.Embedder }

// migrate applies every pending schema migration in order.
func (e *Engine) migrate(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var current int
	err := e.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		debug.Logf("cortex: migration %d applied (%s)\n", m.version, m.name)
	}

	if _, err := e.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO cortex_meta (key, value) VALUES ('schema_version', ?), ('engine', 'cortex')",
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to stamp meta: %w", err)
	}
	return nil
}

// beginWrite serializes writers and opens a transaction. Connection
// acquisition is bounded by acquireTimeout; a timeout maps to
// ErrResourceExhausted. The returned release must be deferred by the
// caller; it runs after Commit or Rollback.
func (e *Engine) beginWrite(ctx context.Context) (*sql.Tx, func(), error) {
	e.writeMu.Lock()

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	conn, err := e.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		e.writeMu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("begin write: %w", ErrResourceExhausted)
		}
		return nil, nil, fmt.Errorf("begin write: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		e.writeMu.Unlock()
		return nil, nil, fmt.Errorf("begin write: %w", err)
	}

	release := func() {
		conn.Close()
		e.writeMu.Unlock()
	}
	return tx, release, nil
}
