package relation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"relload/internal/planner"

	"github.com/jinzhu/inflection"
)

// ErrInvalidDescriptor indicates a relation descriptor that cannot be resolved.
var ErrInvalidDescriptor = errors.New("invalid relation descriptor")

// DefaultTargetIDAttribute is the id column assumed when none is given.
const DefaultTargetIDAttribute = "id"

// Descriptor is the static description of a relation.
type Descriptor struct {
	Shape  Shape
	Target string
	// ParentTable is the table owning the parent key. It only feeds naming
	// defaults.
	ParentTable       string
	TargetIDAttribute string
	// ForeignKey is the target column holding the parent key for HasOne and
	// HasMany, the parent column holding the target id for BelongsTo, and the
	// join-table column holding the parent key for BelongsToMany.
	ForeignKey string
	// OtherKey is the join-table column holding the target id.
	OtherKey    string
	JoinTable   string
	Constraints planner.Constraints
}

// Normalize fills naming defaults derived from the table names.
func (d Descriptor) Normalize() Descriptor {
	if d.TargetIDAttribute == "" {
		d.TargetIDAttribute = DefaultTargetIDAttribute
	}
	switch d.Shape {
	case BelongsTo:
		if d.ForeignKey == "" && d.Target != "" {
			d.ForeignKey = foreignKeyFor(d.Target)
		}
	case HasOne, HasMany:
		if d.ForeignKey == "" && d.ParentTable != "" {
			d.ForeignKey = foreignKeyFor(d.ParentTable)
		}
	case BelongsToMany:
		if d.JoinTable == "" && d.Target != "" && d.ParentTable != "" {
			d.JoinTable = joinTableName(d.Target, d.ParentTable)
		}
		if d.ForeignKey == "" && d.ParentTable != "" {
			d.ForeignKey = foreignKeyFor(d.ParentTable)
		}
		if d.OtherKey == "" && d.Target != "" {
			d.OtherKey = foreignKeyFor(d.Target)
		}
	}
	return d
}

// Validate reports what prevents the normalized descriptor from being planned.
func (d Descriptor) Validate() error {
	if !d.Shape.Valid() {
		return fmt.Errorf("%w: unknown shape %v", ErrInvalidDescriptor, d.Shape)
	}
	if d.Target == "" {
		return fmt.Errorf("%w: %s relation requires a target table", ErrInvalidDescriptor, d.Shape)
	}
	if d.TargetIDAttribute == "" {
		return fmt.Errorf("%w: %s relation to %s requires a target id attribute", ErrInvalidDescriptor, d.Shape, d.Target)
	}
	switch d.Shape {
	case HasOne, HasMany:
		if d.ForeignKey == "" {
			return fmt.Errorf("%w: %s relation to %s requires a foreign key or parent table", ErrInvalidDescriptor, d.Shape, d.Target)
		}
	case BelongsToMany:
		if d.JoinTable == "" {
			return fmt.Errorf("%w: %s relation to %s requires a join table or parent table", ErrInvalidDescriptor, d.Shape, d.Target)
		}
		if d.ForeignKey == "" {
			return fmt.Errorf("%w: %s relation to %s requires a foreign key or parent table", ErrInvalidDescriptor, d.Shape, d.Target)
		}
		if d.OtherKey == "" {
			return fmt.Errorf("%w: %s relation to %s requires an other key", ErrInvalidDescriptor, d.Shape, d.Target)
		}
	}
	if err := d.Constraints.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

// Key identifies the relation-query-shape. Descriptors with equal keys run
// identical SQL apart from the bound parent keys.
func (d Descriptor) Key() string {
	parts := []string{d.Shape.String(), d.Target, d.TargetIDAttribute}
	switch d.Shape {
	case HasOne, HasMany:
		parts = append(parts, d.ForeignKey)
	case BelongsToMany:
		parts = append(parts, d.JoinTable, d.ForeignKey, d.OtherKey)
	}
	if c := d.Constraints.Key(); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, "|")
}

// GroupAttribute is the attribute of a fetched row holding its parent key.
func (d Descriptor) GroupAttribute() string {
	switch d.Shape {
	case BelongsTo:
		return d.TargetIDAttribute
	case BelongsToMany:
		return planner.PivotAlias(d.ForeignKey)
	default:
		return d.ForeignKey
	}
}

func foreignKeyFor(table string) string {
	return inflection.Singular(table) + "_" + DefaultTargetIDAttribute
}

func joinTableName(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return strings.Join(names, "_")
}
