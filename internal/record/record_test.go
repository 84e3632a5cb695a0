package record

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyOf(t *testing.T) {
	five := 5
	var nilPtr *int
	var nilNull *sql.NullInt64

	tests := []struct {
		name   string
		value  any
		want   Key
		wantOK bool
	}{
		{name: "int", value: 5, want: "5", wantOK: true},
		{name: "int64", value: int64(5), want: "5", wantOK: true},
		{name: "uint8", value: uint8(5), want: "5", wantOK: true},
		{name: "string", value: "5", want: "5", wantOK: true},
		{name: "bytes", value: []byte("5"), want: "5", wantOK: true},
		{name: "pointer", value: &five, want: "5", wantOK: true},
		{name: "valid null int", value: sql.NullInt64{Int64: 5, Valid: true}, want: "5", wantOK: true},
		{name: "valid null string", value: sql.NullString{String: "abc", Valid: true}, want: "abc", wantOK: true},
		{name: "nil", value: nil, wantOK: false},
		{name: "nil pointer", value: nilPtr, wantOK: false},
		{name: "nil null pointer", value: nilNull, wantOK: false},
		{name: "invalid null int", value: sql.NullInt64{}, wantOK: false},
		{name: "invalid null string", value: sql.NullString{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KeyOf(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, !tt.wantOK, IsAbsent(tt.value))
		})
	}
}

func TestKeyOfTimeIsUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	a := time.Date(2024, 1, 2, 5, 0, 0, 0, loc)
	b := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	ka, ok := KeyOf(a)
	require.True(t, ok)
	kb, ok := KeyOf(b)
	require.True(t, ok)
	assert.Equal(t, kb, ka)
}

func TestKeyOfTuple(t *testing.T) {
	a, ok := KeyOf([]any{1, []byte("x")})
	require.True(t, ok)
	b, ok := KeyOf([]any{int64(1), "x"})
	require.True(t, ok)
	assert.Equal(t, a, b)

	c, _ := KeyOf([]any{"1x"})
	assert.NotEqual(t, a, c)
}

func TestRecordAccessors(t *testing.T) {
	r := Record{
		"id":    int64(3),
		"name":  "ada",
		"empty": nil,
	}

	assert.Equal(t, "ada", r.Get("name"))
	assert.Nil(t, r.Get("missing"))

	_, ok := r.Key("empty")
	assert.False(t, ok)
	_, ok = r.Key("missing")
	assert.False(t, ok)
	k, ok := r.Key("id")
	require.True(t, ok)
	assert.Equal(t, Key("3"), k)

	var nilRecord Record
	assert.Nil(t, nilRecord.Get("id"))
	_, ok = nilRecord.Key("id")
	assert.False(t, ok)
}
