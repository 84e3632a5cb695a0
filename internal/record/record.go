// Package record holds the row type produced by relation fetches and the
// canonical key encoding used to match rows to parent keys.
package record

// Record is one fetched row keyed by column name.
type Record map[string]any

// Get returns the raw value of attr, or nil.
func (r Record) Get(attr string) any {
	if r == nil {
		return nil
	}
	return r[attr]
}

// Key returns the canonical key of attr. ok is false when the value is absent.
func (r Record) Key(attr string) (Key, bool) {
	return KeyOf(r.Get(attr))
}
