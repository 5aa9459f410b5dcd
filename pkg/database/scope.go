package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations repositories use. Both a pooled
// connection and an open transaction satisfy it, so repository code is
// unaware of whether it runs inside an apply-phase chunk transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// ProjectScope wraps a connection with project context and ensures cleanup.
// The connection has app.current_project_id set for RLS policy evaluation.
type ProjectScope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Q returns the querier to run statements on: the open transaction when one
// is active, otherwise the scoped connection.
func (s *ProjectScope) Q() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// Close resets project context and releases connection to pool.
// This MUST be called to prevent project context from leaking to the next request.
func (s *ProjectScope) Close() {
	if s.Conn == nil {
		return
	}
	// Reset the project context before returning connection to pool
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_project_id")
	s.Conn.Release()
}

// InTx runs fn inside a transaction on this scope's connection, bounded by
// timeout. fn receives a context carrying a transactional ProjectScope; every
// repository call made through that context joins the transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Chunked
// importers call this once per chunk, so a failed chunk never rolls back
// work committed by earlier chunks.
func (s *ProjectScope) InTx(ctx context.Context, timeout time.Duration, fn func(txCtx context.Context) error) error {
	if s.tx != nil {
		return errors.New("nested transactions are not supported")
	}

	txCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := s.Conn.Begin(txCtx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txScope := &ProjectScope{Conn: s.Conn, tx: tx}
	if err := fn(SetProjectScope(txCtx, txScope)); err != nil {
		if rbErr := tx.Rollback(txCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithProject acquires a connection and sets the project context for RLS.
// The returned ProjectScope MUST be closed with defer scope.Close().
func (db *DB) WithProject(ctx context.Context, projectID uuid.UUID) (*ProjectScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_project_id', $1, false)", projectID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &ProjectScope{Conn: conn}, nil
}

// WithoutProject acquires a connection without project context.
// Use this for operations that span projects (e.g., project creation).
// The returned ProjectScope MUST be closed with defer scope.Close().
func (db *DB) WithoutProject(ctx context.Context) (*ProjectScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &ProjectScope{Conn: conn}, nil
}
