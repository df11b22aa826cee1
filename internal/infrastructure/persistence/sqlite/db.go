// Package sqlite scopes repository writes to one transaction per engine step.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-flow/internal/application/port"
)

type txKeyType struct{}

var txKey txKeyType

const (
	defaultBusyRetries = 3
	busyBackoff        = 20 * time.Millisecond
)

// DB implements port.TransactionManager on a go-sqlite3 handle
type DB struct {
	*sql.DB
	logger      *zap.Logger
	busyRetries int
}

// Option configures the transaction manager
type Option func(*DB)

// WithBusyRetries sets how often a step is retried when SQLite reports the database busy or locked
func WithBusyRetries(n int) Option {
	return func(db *DB) {
		db.busyRetries = n
	}
}

// NewDB creates a new transaction manager
func NewDB(sqlDB *sql.DB, logger *zap.Logger, opts ...Option) *DB {
	db := &DB{DB: sqlDB, logger: logger, busyRetries: defaultBusyRetries}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// WithTransaction implements port.TransactionManager.
// A nested call joins the transaction already carried by ctx. An outermost step that fails
// because another writer holds the database is rolled back and retried with a linear backoff;
// fn must therefore only touch the database.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if extractTx(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = db.run(ctx, fn)
		if err == nil || !IsBusy(err) || attempt >= db.busyRetries {
			return err
		}
		db.logger.Debug("Database busy, retrying transaction", zap.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * busyBackoff):
		}
	}
}

func (db *DB) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err is SQLite refusing a write because another connection holds the lock
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func extractTx(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey).(*sql.Tx)
	return tx
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ExecutorFrom returns the transaction carried by ctx, or db when there is none
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db
}

var _ port.TransactionManager = (*DB)(nil)
