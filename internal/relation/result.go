package relation

import "relload/internal/record"

// Result is the resolved value of a relation for one parent key. To-one shapes
// carry One (nil when nothing matched); to-many shapes carry Many, which is
// empty rather than nil when nothing matched.
type Result struct {
	One    record.Record
	Many   []record.Record
	toMany bool
}

// Single returns a to-one result. A nil record means no match.
func Single(rec record.Record) Result {
	return Result{One: rec}
}

// Collection returns a to-many result.
func Collection(recs []record.Record) Result {
	if recs == nil {
		recs = []record.Record{}
	}
	return Result{Many: recs, toMany: true}
}

// Empty returns the no-match result for shape.
func Empty(shape Shape) Result {
	if shape.ToMany() {
		return Collection(nil)
	}
	return Single(nil)
}

// ToMany reports whether r is a collection.
func (r Result) ToMany() bool {
	return r.toMany
}

// Found reports whether at least one record matched.
func (r Result) Found() bool {
	if r.toMany {
		return len(r.Many) > 0
	}
	return r.One != nil
}

// Len returns the number of matched records.
func (r Result) Len() int {
	if r.toMany {
		return len(r.Many)
	}
	if r.One != nil {
		return 1
	}
	return 0
}

// Value returns the record, nil, or the record slice, suitable for encoding.
func (r Result) Value() any {
	if r.toMany {
		return r.Many
	}
	if r.One == nil {
		return nil
	}
	return r.One
}
