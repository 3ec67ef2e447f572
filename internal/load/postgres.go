package load

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/woonkaart/importer/internal/sqlbatch"
)

// PostgresFlusher writes batches with one multi-row INSERT that skips rows
// conflicting with the table's natural key.
type PostgresFlusher[R Row] struct {
	db     *sql.DB
	table  Table
	prefix string
	suffix string
}

// NewPostgresFlusher creates a flusher for table.
func NewPostgresFlusher[R Row](db *sql.DB, table Table) *PostgresFlusher[R] {
	return &PostgresFlusher[R]{
		db:     db,
		table:  table,
		prefix: "INSERT INTO " + pq.QuoteIdentifier(table.Name) + " (" + quoteAll(table.Columns) + ") VALUES ",
		suffix: " ON CONFLICT (" + quoteAll(table.ConflictColumns) + ") DO NOTHING",
	}
}

// Flush inserts rows and returns how many were new.
func (f *PostgresFlusher[R]) Flush(ctx context.Context, rows []R) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := len(f.table.Columns)
	args := make([]interface{}, 0, len(rows)*columns)
	for _, r := range rows {
		v := r.Values()
		if len(v) != columns {
			return 0, fmt.Errorf("%s: row has %d values, want %d", f.table.Name, len(v), columns)
		}
		args = append(args, v...)
	}

	res, err := f.db.ExecContext(ctx, f.prefix+sqlbatch.Values(len(rows), columns)+f.suffix, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s failed: %w", f.table.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected unavailable: %w", f.table.Name, err)
	}
	return int(n), nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
