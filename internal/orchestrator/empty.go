package orchestrator

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Emptier lets a value decide whether it carries usable data
type Emptier interface {
	IsEmpty() bool
}

// IsEmpty reports whether a produced value has no usable data.
//
// nil, zero-length slices, maps, strings and arrays, nil pointers, and JSON documents that are
// null, [], {} or "" are empty. Values implementing Emptier decide for themselves.
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return true
	}

	if emptier, ok := value.(Emptier); ok {
		return emptier.IsEmpty()
	}

	if raw, ok := value.(json.RawMessage); ok {
		return isEmptyJSON(raw)
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer:
		return IsEmpty(rv.Elem().Interface())
	default:
		return false
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return len(bytes.TrimSpace(raw)) == 0
	}

	switch compacted.String() {
	case "", "null", "[]", "{}", `""`:
		return true
	default:
		return false
	}
}
