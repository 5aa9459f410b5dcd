package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases
// where the source export stores numbers or booleans where a string is
// expected. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// String coerces an arbitrary decoded JSON value to a string.
// Numbers are rendered without a trailing ".0" when integral.
func String(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'g', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

// Int64 coerces an arbitrary decoded JSON value to an int64. Numeric strings
// are accepted because several export shapes carry ids as strings.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// Bool coerces an arbitrary decoded JSON value to a bool. Accepts the loose
// truthy spellings the source export uses: 1, "1", "true", "yes", "on".
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
		return false, false
	case json.Number:
		i, err := b.Int64()
		if err != nil {
			return false, false
		}
		return i != 0, true
	}
	return false, false
}

// FirstKey returns the value for the first of keys present in obj with a
// non-nil value. The key order is the priority order: callers list the
// canonical spelling first and legacy/source spellings after it.
func FirstKey(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// StringKey is FirstKey followed by a string coercion.
func StringKey(obj map[string]any, keys ...string) (string, bool) {
	v, ok := FirstKey(obj, keys...)
	if !ok {
		return "", false
	}
	return String(v)
}

// Int64Key is FirstKey followed by an int64 coercion.
func Int64Key(obj map[string]any, keys ...string) (int64, bool) {
	v, ok := FirstKey(obj, keys...)
	if !ok {
		return 0, false
	}
	return Int64(v)
}

// BoolKey is FirstKey followed by a bool coercion.
func BoolKey(obj map[string]any, keys ...string) (bool, bool) {
	v, ok := FirstKey(obj, keys...)
	if !ok {
		return false, false
	}
	return Bool(v)
}

// AsObject returns v as a map when it decodes as a JSON object.
func AsObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// AsArray returns v as a slice when it decodes as a JSON array.
func AsArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}
