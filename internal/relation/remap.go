package relation

import "relload/internal/record"

// bindableKeys drops absent keys and repeats of a canonical key, keeping the
// first raw value for binding.
func bindableKeys(keys []any) []any {
	seen := make(map[record.Key]struct{}, len(keys))
	out := make([]any, 0, len(keys))
	for _, raw := range keys {
		value, ok := record.Normalize(raw)
		if !ok {
			continue
		}
		k, _ := record.KeyOf(value)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, value)
	}
	return out
}

func groupByAttribute(rows []record.Record, attr string) map[record.Key][]record.Record {
	grouped := make(map[record.Key][]record.Record)
	for _, row := range rows {
		k, ok := row.Key(attr)
		if !ok {
			continue
		}
		grouped[k] = append(grouped[k], row)
	}
	return grouped
}

// remap emits one result per key in key order: the last matching row or nil
// for to-one shapes, the matching rows in fetch order for to-many shapes.
func remap(shape Shape, attr string, keys []any, rows []record.Record) []Result {
	grouped := groupByAttribute(rows, attr)
	out := make([]Result, len(keys))
	for i, raw := range keys {
		k, ok := record.KeyOf(raw)
		var matched []record.Record
		if ok {
			matched = grouped[k]
		}
		switch {
		case len(matched) == 0:
			out[i] = Empty(shape)
		case shape.ToMany():
			out[i] = Collection(append([]record.Record(nil), matched...))
		default:
			out[i] = Single(matched[len(matched)-1])
		}
	}
	return out
}
