package relation

import (
	"fmt"
	"strings"
)

// Shape is the cardinality pattern of a relation.
type Shape int

const (
	// BelongsTo resolves the single target whose id equals the parent key.
	BelongsTo Shape = iota + 1
	// HasOne resolves the single target whose foreign key equals the parent key.
	HasOne
	// HasMany resolves every target whose foreign key equals the parent key.
	HasMany
	// BelongsToMany resolves every target linked to the parent key through a join table.
	BelongsToMany
)

var shapeNames = map[Shape]string{
	BelongsTo:     "belongsTo",
	HasOne:        "hasOne",
	HasMany:       "hasMany",
	BelongsToMany: "belongsToMany",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// Valid reports whether s is one of the four known shapes.
func (s Shape) Valid() bool {
	_, ok := shapeNames[s]
	return ok
}

// ToMany reports whether the shape resolves to a collection.
func (s Shape) ToMany() bool {
	return s == HasMany || s == BelongsToMany
}

// ParseShape accepts camelCase, snake_case and kebab-case shape names.
func ParseShape(name string) (Shape, error) {
	normalized := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(name))
	for shape, label := range shapeNames {
		if strings.ToLower(label) == normalized {
			return shape, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown relation shape %q", ErrInvalidDescriptor, name)
}
