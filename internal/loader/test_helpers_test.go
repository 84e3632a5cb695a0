package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relload/internal/dbexec"
)

type fakeRows struct {
	columns []string
	rows    [][]any
	idx     int
}

func (r *fakeRows) Columns() ([]string, error) { return r.columns, nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("scan called without advancing rows")
	}
	row := r.rows[r.idx-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan row has %d values, dest has %d", len(row), len(dest))
	}
	for i, value := range row {
		ptr, ok := dest[i].(*any)
		if !ok {
			return fmt.Errorf("unsupported scan dest %T", dest[i])
		}
		*ptr = value
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type recordedQuery struct {
	sql  string
	args []any
}

// fakeExecutor answers every query with the same rows and records what ran.
type fakeExecutor struct {
	mu      sync.Mutex
	columns []string
	rows    [][]any
	err     error
	queries []recordedQuery
}

func (e *fakeExecutor) QueryContext(_ context.Context, query string, args ...any) (dbexec.Rows, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, recordedQuery{sql: query, args: args})
	if e.err != nil {
		return nil, e.err
	}
	return &fakeRows{columns: e.columns, rows: e.rows}, nil
}

func (e *fakeExecutor) recorded() []recordedQuery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedQuery(nil), e.queries...)
}
