package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// ParseTimestamp accepts the timestamp formats seen across 311 extracts.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// ValuesEqual compares two attribute values semantically: numbers compare as
// numbers regardless of encoding, timestamps compare as instants regardless of
// representation, and maps/slices compare structurally. Serialized-string
// comparison would open spurious versions on cosmetic re-encoding.
func ValuesEqual(a, b any) bool {
	a = normalizeValue(a)
	b = normalizeValue(b)

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, value := range av {
			other, found := bv[key]
			if !found || !ValuesEqual(value, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	default:
		return a == b
	}
}

// normalizeValue folds the encodings produced by JSON decoding, CSV coercion,
// and database round-trips into comparable forms.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case int:
		return float64(typed)
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	case float32:
		return float64(typed)
	case float64:
		return typed
	case time.Time:
		return typed.UTC()
	case string:
		if ts, err := ParseTimestamp(typed); err == nil {
			return ts.UTC()
		}
		return typed
	default:
		return value
	}
}
