package record

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Key is the canonical form of a join key value. Values that render the same
// way compare equal, so int(5), int64(5), "5" and []byte("5") share a key.
type Key string

// KeyOf returns the canonical key for v. ok is false when v is absent: nil, a
// nil pointer, or a driver.Valuer reporting NULL (for example an invalid
// sql.NullInt64).
func KeyOf(v any) (Key, bool) {
	v, ok := Normalize(v)
	if !ok {
		return "", false
	}
	return Key(encode(v)), true
}

// IsAbsent reports whether v carries no key.
func IsAbsent(v any) bool {
	_, ok := Normalize(v)
	return !ok
}

// Normalize unwraps pointers and driver.Valuer values and converts []byte to
// string. ok is false when nothing is left.
func Normalize(v any) (any, bool) {
	for depth := 0; depth < 8; depth++ {
		if v == nil {
			return nil, false
		}
		switch x := v.(type) {
		case []byte:
			return string(x), true
		case time.Time:
			return x, true
		case driver.Valuer:
			rv := reflect.ValueOf(x)
			if rv.Kind() == reflect.Pointer && rv.IsNil() {
				return nil, false
			}
			val, err := x.Value()
			if err != nil {
				return nil, false
			}
			v = val
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v, true
		}
		if rv.IsNil() {
			return nil, false
		}
		v = rv.Elem().Interface()
	}
	return v, true
}

func encode(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			item, _ = Normalize(item)
			parts[i] = encode(item)
		}
		return strings.Join(parts, "\x1f")
	default:
		return fmt.Sprint(x)
	}
}
