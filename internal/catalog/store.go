// Package catalog is the metadata catalog (component C3): a
// transactional tree of nodes persisted in an embedded SQLite store,
// plus the blob refcount table (component C2) that shares its
// connection pool and transactions, per spec §4.1: "refcount updates
// are performed under the catalog's transaction so that a file node
// and its blob reference move together."
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/workerpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RootID is the implicit id of the root directory. It is never stored
// as a row; GetByID and GetByParentAndName special-case it.
const RootID int64 = 0

// Store owns the single *sql.DB backing both the nodes and blobs
// tables. Per the "no implicit ambient state" design note, it is
// constructed once in cmd/server and passed down explicitly.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	pool   *workerpool.Pool
}

// Open opens (creating if absent) the SQLite database at path in
// WAL journaling mode, per spec §5/§6.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=off", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "open catalog database")
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; one *sql.DB connection avoids SQLITE_BUSY storms
	if err := db.PingContext(context.Background()); err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "ping catalog database")
	}
	return &Store{db: db, logger: logger}, nil
}

// WithWorkerPool routes every transaction this Store runs through
// pool, per spec §5's "blocking operations ... run on a separate
// bounded worker pool of 32".
func (s *Store) WithWorkerPool(pool *workerpool.Pool) *Store {
	s.pool = pool
	return s
}

// Migrate applies any pending schema migrations. It is safe to call on
// every startup; golang-migrate no-ops once the schema is current.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return apperr.Wrap(apperr.Transport, err, "open migration source")
	}
	driver, err := sqlite3migrate.WithInstance(s.db, &sqlite3migrate.Config{})
	if err != nil {
		return apperr.Wrap(apperr.Transport, err, "open migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return apperr.Wrap(apperr.Transport, err, "init migrator")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apperr.Wrap(apperr.Transport, err, "apply migrations")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a single serializable transaction scoping the node and blob
// operations a caller (chiefly the file service orchestrator) composes
// together. Conflict-sensitive reads happen inside the same Tx as the
// write they guard, per spec §4.2 "Ordering/tie-breaks".
type Tx struct {
	tx *sql.Tx
}

// Begin opens a new transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, err, "begin transaction")
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Transport, err, "commit transaction")
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return apperr.Wrap(apperr.Transport, err, "rollback transaction")
	}
	return nil
}

// WithTx runs fn inside a fresh transaction, committing on success and
// rolling back on any error fn returns — the shape every C5 multi-step
// mutation uses so rollback-on-error is never forgotten.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	run := func() error {
		tx, err := s.Begin(ctx)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}
	if s.pool == nil {
		return run()
	}
	return s.pool.Do(ctx, run)
}

// View runs a read-only helper in its own transaction. Used by callers
// (e.g. a plain GetByID for a download) that don't need to compose
// with a write.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	run := func() error {
		tx, err := s.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		return fn(tx)
	}
	if s.pool == nil {
		return run()
	}
	return s.pool.Do(ctx, run)
}
