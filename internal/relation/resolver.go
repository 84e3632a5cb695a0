// Package relation implements the four relation strategies: how a batch of
// parent keys becomes SQL and how the fetched rows fan back out to one result
// per key.
package relation

import (
	"context"
	"fmt"

	"relload/internal/dbexec"
	"relload/internal/planner"
	"relload/internal/record"
	"relload/internal/sqlutil"
)

// Resolver plans and remaps the batch fetch of one relation-query-shape.
type Resolver interface {
	Shape() Shape
	Descriptor() Descriptor
	// Plan returns one query per IN chunk of keys. Absent and duplicate keys
	// are not bound.
	Plan(keys []any) ([]planner.SQLQuery, error)
	// Remap returns one result per key, index-aligned with keys.
	Remap(keys []any, rows []record.Record) []Result
}

// NewResolver normalizes and validates desc and returns the strategy for its
// shape. maxInClause of zero or less uses planner.DefaultMaxInClause.
func NewResolver(desc Descriptor, dialect sqlutil.Dialect, maxInClause int) (Resolver, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if maxInClause <= 0 {
		maxInClause = planner.DefaultMaxInClause
	}
	base := strategy{desc: desc, dialect: dialect, maxInClause: maxInClause}
	switch desc.Shape {
	case BelongsTo:
		return &belongsTo{strategy: base}, nil
	case HasOne:
		return &hasOne{strategy: base}, nil
	case HasMany:
		return &hasMany{strategy: base}, nil
	case BelongsToMany:
		return &belongsToMany{strategy: base}, nil
	default:
		return nil, fmt.Errorf("%w: unknown shape %v", ErrInvalidDescriptor, desc.Shape)
	}
}

type strategy struct {
	desc        Descriptor
	dialect     sqlutil.Dialect
	maxInClause int
}

func (s strategy) Shape() Shape           { return s.desc.Shape }
func (s strategy) Descriptor() Descriptor { return s.desc }

func (s strategy) Remap(keys []any, rows []record.Record) []Result {
	return remap(s.desc.Shape, s.desc.GroupAttribute(), keys, rows)
}

func (s strategy) planKeyIn(keys []any, column string) ([]planner.SQLQuery, error) {
	chunks := planner.ChunkValues(bindableKeys(keys), s.maxInClause)
	queries := make([]planner.SQLQuery, 0, len(chunks))
	for _, chunk := range chunks {
		q, err := planner.PlanKeyInBatch(s.dialect, s.desc.Target, column, chunk, s.desc.Constraints)
		if err != nil {
			return nil, fmt.Errorf("failed to plan %s batch for %s: %w", s.desc.Shape, s.desc.Target, err)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// belongsTo fetches targets by id.
type belongsTo struct{ strategy }

func (r *belongsTo) Plan(keys []any) ([]planner.SQLQuery, error) {
	return r.planKeyIn(keys, r.desc.TargetIDAttribute)
}

// hasOne fetches targets by foreign key; when several rows share a foreign key
// the last fetched row is kept.
type hasOne struct{ strategy }

func (r *hasOne) Plan(keys []any) ([]planner.SQLQuery, error) {
	return r.planKeyIn(keys, r.desc.ForeignKey)
}

// hasMany fetches targets by foreign key.
type hasMany struct{ strategy }

func (r *hasMany) Plan(keys []any) ([]planner.SQLQuery, error) {
	return r.planKeyIn(keys, r.desc.ForeignKey)
}

// belongsToMany fetches targets through the join table.
type belongsToMany struct{ strategy }

func (r *belongsToMany) Plan(keys []any) ([]planner.SQLQuery, error) {
	plan := planner.JoinTablePlan{
		Target:     r.desc.Target,
		TargetKey:  r.desc.TargetIDAttribute,
		JoinTable:  r.desc.JoinTable,
		ForeignKey: r.desc.ForeignKey,
		OtherKey:   r.desc.OtherKey,
	}
	chunks := planner.ChunkValues(bindableKeys(keys), r.maxInClause)
	queries := make([]planner.SQLQuery, 0, len(chunks))
	for _, chunk := range chunks {
		q, err := planner.PlanJoinTableBatch(r.dialect, plan, chunk, r.desc.Constraints)
		if err != nil {
			return nil, fmt.Errorf("failed to plan %s batch for %s: %w", r.desc.Shape, r.desc.Target, err)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// Fetch runs the planned queries for keys and remaps the rows. Any executor
// or scan error fails the whole fetch.
func Fetch(ctx context.Context, exec dbexec.QueryExecutor, r Resolver, keys []any) ([]Result, error) {
	queries, err := r.Plan(keys)
	if err != nil {
		return nil, err
	}
	var rows []record.Record
	for _, q := range queries {
		if q.Empty() {
			continue
		}
		chunkRows, err := dbexec.QueryRecords(ctx, exec, q.SQL, q.Args...)
		if err != nil {
			desc := r.Descriptor()
			return nil, fmt.Errorf("%s fetch of %s failed: %w", desc.Shape, desc.Target, err)
		}
		rows = append(rows, chunkRows...)
	}
	return r.Remap(keys, rows), nil
}

// FetchOne resolves a single key without batching.
func FetchOne(ctx context.Context, exec dbexec.QueryExecutor, r Resolver, key any) (Result, error) {
	results, err := Fetch(ctx, exec, r, []any{key})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}
