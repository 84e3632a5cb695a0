package relation

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

type driverValue = driver.Value

type fakeRows struct {
	columns []string
	rows    [][]any
	idx     int
	err     error
}

func (r *fakeRows) Columns() ([]string, error) {
	return r.columns, nil
}

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

func (r *fakeRows) Err() error {
	return r.err
}

func (r *fakeRows) Close() error {
	return nil
}
