package planner

import (
	"fmt"

	"relload/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// PlanKeyInBatch builds the SQL for rows of table whose keyColumn is one of
// values. It serves to-one lookups by id and to-one/to-many lookups by
// foreign key.
func PlanKeyInBatch(d sqlutil.Dialect, table, keyColumn string, values []interface{}, c Constraints) (SQLQuery, error) {
	if len(values) == 0 {
		return SQLQuery{}, nil
	}
	if err := requireColumns("key-in batch", map[string]string{"table": table, "key column": keyColumn}); err != nil {
		return SQLQuery{}, err
	}
	if err := c.Validate(); err != nil {
		return SQLQuery{}, err
	}

	quotedTable := d.Quote(table)
	builder := sq.Select(quotedTable + ".*").
		From(quotedTable).
		Where(sq.Eq{sqlutil.QualifiedColumn(d, table, keyColumn): values})
	builder = c.apply(builder, c.OrderBy.clauses(d, table))

	query, args, err := builder.PlaceholderFormat(d.Placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// JoinTablePlan describes a many-to-many fetch through a join table.
type JoinTablePlan struct {
	Target    string
	TargetKey string
	JoinTable string
	// ForeignKey is the join-table column holding the parent key.
	ForeignKey string
	// OtherKey is the join-table column holding the target key.
	OtherKey string
}

// PlanJoinTableBatch builds the SQL for target rows linked through the join
// table to any of values. Each row carries the join-table keys under quoted
// PivotAlias names, so their case survives and rows group per parent key.
func PlanJoinTableBatch(d sqlutil.Dialect, p JoinTablePlan, values []interface{}, c Constraints) (SQLQuery, error) {
	if len(values) == 0 {
		return SQLQuery{}, nil
	}
	if err := requireColumns("join-table batch", map[string]string{
		"target":      p.Target,
		"target key":  p.TargetKey,
		"join table":  p.JoinTable,
		"foreign key": p.ForeignKey,
		"other key":   p.OtherKey,
	}); err != nil {
		return SQLQuery{}, err
	}
	if err := c.Validate(); err != nil {
		return SQLQuery{}, err
	}

	quotedTarget := d.Quote(p.Target)
	quotedJoin := d.Quote(p.JoinTable)
	joinFK := sqlutil.QualifiedColumn(d, p.JoinTable, p.ForeignKey)
	joinOK := sqlutil.QualifiedColumn(d, p.JoinTable, p.OtherKey)

	builder := sq.Select(
		quotedTarget+".*",
		fmt.Sprintf("%s AS %s", joinFK, d.Quote(PivotAlias(p.ForeignKey))),
		fmt.Sprintf("%s AS %s", joinOK, d.Quote(PivotAlias(p.OtherKey))),
	).
		From(quotedTarget).
		InnerJoin(fmt.Sprintf("%s ON %s = %s", quotedJoin, sqlutil.QualifiedColumn(d, p.Target, p.TargetKey), joinOK)).
		Where(sq.Eq{joinFK: values})
	builder = c.apply(builder, c.OrderBy.clauses(d, p.Target))

	query, args, err := builder.PlaceholderFormat(d.Placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
