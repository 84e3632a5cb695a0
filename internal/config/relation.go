package config

import (
	"fmt"
	"strings"

	"relload/internal/planner"
	"relload/internal/relation"
)

// Descriptor builds the relation descriptor described by the relation section.
// Naming defaults are filled from the table names.
func (r *RelationConfig) Descriptor() (relation.Descriptor, error) {
	shape, err := relation.ParseShape(r.Shape)
	if err != nil {
		return relation.Descriptor{}, err
	}

	constraints := planner.Constraints{}
	for _, predicate := range r.Where {
		predicate = strings.TrimSpace(predicate)
		if predicate == "" {
			continue
		}
		constraints.Where = append(constraints.Where, planner.Where(predicate))
	}
	if strings.TrimSpace(r.OrderBy) != "" {
		orderBy, err := planner.ParseOrderBy(r.OrderBy)
		if err != nil {
			return relation.Descriptor{}, fmt.Errorf("relation.order_by: %w", err)
		}
		constraints.OrderBy = orderBy
	}

	desc := relation.Descriptor{
		Shape:             shape,
		Target:            strings.TrimSpace(r.Target),
		ParentTable:       strings.TrimSpace(r.ParentTable),
		TargetIDAttribute: strings.TrimSpace(r.TargetIDAttribute),
		ForeignKey:        strings.TrimSpace(r.ForeignKey),
		OtherKey:          strings.TrimSpace(r.OtherKey),
		JoinTable:         strings.TrimSpace(r.JoinTable),
		Constraints:       constraints,
	}.Normalize()
	if err := desc.Validate(); err != nil {
		return relation.Descriptor{}, err
	}
	return desc, nil
}
