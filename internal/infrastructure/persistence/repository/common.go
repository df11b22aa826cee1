package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/reimburse-flow/internal/infrastructure/persistence/sqlite"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// dbTime normalizes a timestamp to the stored precision. Version tokens are millisecond based.
func dbTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Millisecond)
}

func executor(ctx context.Context, db *sql.DB) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, db)
}

// affected reports whether a conditional update matched a row
func affected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
