package planner

import (
	"fmt"
	"strings"

	"relload/internal/sqlutil"
)

// OrderBy orders fetched rows by one or more target columns.
type OrderBy struct {
	Columns   []string
	Direction string
}

// ParseOrderBy parses "col1,col2 DESC" style input. An empty input yields nil.
func ParseOrderBy(input string) (*OrderBy, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}

	direction := "ASC"
	fields := strings.Fields(input)
	if len(fields) > 1 {
		last := strings.ToUpper(fields[len(fields)-1])
		if last == "ASC" || last == "DESC" {
			direction = last
			fields = fields[:len(fields)-1]
		}
	}

	var columns []string
	for _, part := range strings.Split(strings.Join(fields, " "), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.ContainsAny(part, " \t") {
			return nil, fmt.Errorf("orderBy column %q is not a plain column name", part)
		}
		columns = append(columns, part)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("orderBy requires at least one column")
	}
	return &OrderBy{Columns: columns, Direction: direction}, nil
}

func (o *OrderBy) validate() error {
	if o == nil {
		return nil
	}
	if len(o.Columns) == 0 {
		return fmt.Errorf("orderBy requires at least one column")
	}
	direction := strings.ToUpper(o.Direction)
	if direction != "" && direction != "ASC" && direction != "DESC" {
		return fmt.Errorf("orderBy direction must be ASC or DESC")
	}
	return nil
}

func (o *OrderBy) clauses(d sqlutil.Dialect, table string) []string {
	if o == nil {
		return nil
	}
	direction := strings.ToUpper(o.Direction)
	if direction == "" {
		direction = "ASC"
	}
	out := make([]string, len(o.Columns))
	for i, col := range o.Columns {
		out[i] = sqlutil.QualifiedColumn(d, table, col) + " " + direction
	}
	return out
}

// Key identifies the ordering for batcher selection.
func (o *OrderBy) Key() string {
	if o == nil {
		return ""
	}
	return strings.Join(o.Columns, ",") + ":" + strings.ToUpper(o.Direction)
}
