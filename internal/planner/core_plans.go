package planner

import (
	"errors"
	"fmt"
)

// ErrNoJoinColumn indicates a plan was requested without the column the batch
// keys bind to.
var ErrNoJoinColumn = errors.New("no join column")

// DefaultMaxInClause bounds the number of values bound into one IN list.
const DefaultMaxInClause = 1000

// PivotAliasPrefix prefixes join-table columns returned by many-to-many plans.
const PivotAliasPrefix = "_pivot_"

// PivotAlias returns the scan alias of a join-table column.
func PivotAlias(column string) string {
	return PivotAliasPrefix + column
}

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Empty reports whether the plan has nothing to run.
func (q SQLQuery) Empty() bool {
	return q.SQL == ""
}

// ChunkValues splits values into IN lists of at most max entries. A max of
// zero or less keeps a single chunk.
func ChunkValues(values []interface{}, max int) [][]interface{} {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]interface{}{values}
	}
	chunks := make([][]interface{}, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := start + max
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// QueriesSaved compares one query per key with one query per chunk.
func QueriesSaved(keyCount, chunkCount int) int64 {
	if keyCount <= 0 || chunkCount <= 0 {
		return 0
	}
	if saved := keyCount - chunkCount; saved > 0 {
		return int64(saved)
	}
	return 0
}

func requireColumns(kind string, columns map[string]string) error {
	for name, value := range columns {
		if value == "" {
			return fmt.Errorf("%w: %s plan requires %s", ErrNoJoinColumn, kind, name)
		}
	}
	return nil
}
