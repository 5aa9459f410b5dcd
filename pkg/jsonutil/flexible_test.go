package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"string", `"hello"`, "hello"},
		{"integer", `42`, "42"},
		{"float", `3.14`, "3.14"},
		{"bool true", `true`, "true"},
		{"bool false", `false`, "false"},
		{"null", `null`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FlexibleStringValue(json.RawMessage(tt.raw)))
		})
	}
}

func TestString(t *testing.T) {
	s, ok := String("name")
	assert.True(t, ok)
	assert.Equal(t, "name", s)

	s, ok = String(float64(7))
	assert.True(t, ok)
	assert.Equal(t, "7", s)

	s, ok = String(2.5)
	assert.True(t, ok)
	assert.Equal(t, "2.5", s)

	_, ok = String(map[string]any{})
	assert.False(t, ok)
}

func TestInt64(t *testing.T) {
	n, ok := Int64(float64(12))
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	n, ok = Int64(" 34 ")
	assert.True(t, ok)
	assert.Equal(t, int64(34), n)

	n, ok = Int64(json.Number("56"))
	assert.True(t, ok)
	assert.Equal(t, int64(56), n)

	_, ok = Int64("not a number")
	assert.False(t, ok)

	_, ok = Int64(nil)
	assert.False(t, ok)
}

func TestBool(t *testing.T) {
	truthy := []any{true, float64(1), "1", "true", "YES", "on"}
	for _, v := range truthy {
		b, ok := Bool(v)
		assert.True(t, ok, "value %v", v)
		assert.True(t, b, "value %v", v)
	}

	falsy := []any{false, float64(0), "0", "false", "no", ""}
	for _, v := range falsy {
		b, ok := Bool(v)
		assert.True(t, ok, "value %v", v)
		assert.False(t, b, "value %v", v)
	}

	_, ok := Bool("maybe")
	assert.False(t, ok)
}

func TestFirstKey(t *testing.T) {
	obj := map[string]any{
		"icon_id": float64(3),
		"label":   "Passed",
		"color":   nil,
	}

	// Priority order: first present non-nil key wins.
	v, ok := FirstKey(obj, "iconId", "icon_id", "icon")
	assert.True(t, ok)
	assert.Equal(t, float64(3), v)

	// nil values are treated as absent.
	_, ok = FirstKey(obj, "color")
	assert.False(t, ok)

	name, ok := StringKey(obj, "name", "label", "value")
	assert.True(t, ok)
	assert.Equal(t, "Passed", name)

	id, ok := Int64Key(obj, "iconId", "icon_id")
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}
