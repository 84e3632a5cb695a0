package dbexec

import (
	"context"
	"fmt"

	"relload/internal/record"
)

// QueryRecords runs query and scans every row into a record keyed by column
// name. []byte values are converted to strings so records can be compared and
// encoded.
func QueryRecords(ctx context.Context, exec QueryExecutor, query string, args ...any) ([]record.Record, error) {
	if exec == nil {
		return nil, fmt.Errorf("query executor is nil")
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRecords(rows)
}

// ScanRecords drains rows into records. It does not close rows.
func ScanRecords(rows Rows) ([]record.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []record.Record
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(record.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
