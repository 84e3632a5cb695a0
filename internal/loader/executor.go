package loader

import (
	"context"
	"sync/atomic"

	"relload/internal/dbexec"
)

// countingExecutor counts the queries one batch fetch issues.
type countingExecutor struct {
	next    dbexec.QueryExecutor
	queries atomic.Int64
}

func (e *countingExecutor) QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error) {
	e.queries.Add(1)
	return e.next.QueryContext(ctx, query, args...)
}
