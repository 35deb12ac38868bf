// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkrause/newsharvest/internal/harvest"
)

// ErrConflict is returned when a unique constraint is violated.
var ErrConflict = errors.New("record conflict")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// psql builds queries with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB is the connection surface the store needs. Satisfied by *pgxpool.Pool
// and by pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements harvest.Store on Postgres.
type Store struct {
	db DB
	// pool is set only on the root store, for Close.
	pool *pgxpool.Pool
}

// New connects a pool and returns the store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// NewWithDB builds a store over an existing connection surface. Used by
// tests with pgxmock.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool, if this store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithinTx runs fn inside one database transaction. fn receives a store
// bound to the transaction; any error rolls everything back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx harvest.Store) error) error {
	pgtx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStore := &Store{db: txDB{pgtx}}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := pgtx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txDB adapts pgx.Tx to the DB surface. Exec runs each statement inside a
// savepoint so a constraint violation fails only that record instead of
// poisoning the enclosing transaction.
type txDB struct {
	pgx.Tx
}

func (t txDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sp, err := t.Tx.Begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("begin savepoint: %w", err)
	}
	tag, err := sp.Exec(ctx, sql, args...)
	if err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return tag, fmt.Errorf("%w (savepoint rollback: %v)", err, rbErr)
		}
		return tag, err
	}
	if err := sp.Commit(ctx); err != nil {
		return tag, fmt.Errorf("release savepoint: %w", err)
	}
	return tag, nil
}

func (t txDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.Tx.Begin(ctx)
}

// mapError converts driver errors into the store's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
