package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Constraints are extra query terms applied to a relation fetch on top of the
// key predicate. Two fetches only share a batch when their Key matches.
type Constraints struct {
	Where   []sq.Sqlizer
	OrderBy *OrderBy
}

// IsZero reports whether c adds nothing to the fetch.
func (c Constraints) IsZero() bool {
	return len(c.Where) == 0 && c.OrderBy == nil
}

// Key returns a stable identity of the constraints built from their SQL text
// and bound arguments.
func (c Constraints) Key() string {
	if c.IsZero() {
		return ""
	}
	var b strings.Builder
	for i, pred := range c.Where {
		if i > 0 {
			b.WriteString(" AND ")
		}
		if pred == nil {
			continue
		}
		sqlText, args, err := pred.ToSql()
		if err != nil {
			fmt.Fprintf(&b, "!%v", err)
			continue
		}
		b.WriteString(sqlText)
		writeArgs(&b, args)
	}
	if c.OrderBy != nil {
		b.WriteString("|order:")
		b.WriteString(c.OrderBy.Key())
	}
	return b.String()
}

// writeArgs encodes args so that distinct argument lists never render alike.
func writeArgs(b *strings.Builder, args []interface{}) {
	if len(args) == 0 {
		return
	}
	fmt.Fprintf(b, "[%d", len(args))
	for _, arg := range args {
		fmt.Fprintf(b, " %T:%#v", arg, arg)
	}
	b.WriteString("]")
}

// Validate checks the ordering and predicates before planning.
func (c Constraints) Validate() error {
	if err := c.OrderBy.validate(); err != nil {
		return err
	}
	for i, pred := range c.Where {
		if pred == nil {
			return fmt.Errorf("where predicate %d is nil", i)
		}
	}
	return nil
}

// Where wraps a raw SQL predicate with its args.
func Where(sql string, args ...interface{}) sq.Sqlizer {
	return sq.Expr(sql, args...)
}

func (c Constraints) apply(builder sq.SelectBuilder, orderBy []string) sq.SelectBuilder {
	for _, pred := range c.Where {
		builder = builder.Where(pred)
	}
	if len(orderBy) > 0 {
		builder = builder.OrderBy(orderBy...)
	}
	return builder
}
