package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload values arrive from many sources: Go callers, JSON-decoded episodes,
// YAML pattern files and SQLite rows. The helpers below coerce them without
// panicking on unexpected types.

// ExtractString extracts a string from a payload value.
// Returns "" for nil and formats other scalars with %v.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractFloat64 extracts a float64 value from a payload value.
// Returns (value, true) on success, (0, false) if the type is incompatible.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
