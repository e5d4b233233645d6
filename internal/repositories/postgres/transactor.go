package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/relmanager/internal/repositories"
)

type txKey struct{}

// executor is the subset of *sql.DB and *sql.Tx used by the repositories.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// conn returns the transaction carried by ctx, or db.
func conn(ctx context.Context, db *sql.DB) executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// PostgresTransactor implements Transactor with database/sql transactions
type PostgresTransactor struct {
	db *sql.DB
}

// NewPostgresTransactor creates a new PostgreSQL transactor
func NewPostgresTransactor(db *sql.DB) repositories.Transactor {
	return &PostgresTransactor{db: db}
}

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
