package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	cases := []string{
		"2024-03-15T00:00:00Z",
		"2024-03-15",
		"2024-03-15 00:00:00",
		"2024/03/15",
		"03/15/2024",
	}
	for _, raw := range cases {
		got, err := ParseTimestamp(raw)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) returned error: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %s, want %s", raw, got, want)
		}
	}

	if _, err := ParseTimestamp("not a date"); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
}

func TestValuesEqualNumbers(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", int64(3), float64(3), true},
		{"int and json.Number", 3, json.Number("3"), true},
		{"float32 and float64", float32(2.5), float64(2.5), true},
		{"different values", int64(3), float64(4), false},
		{"number and numeric string stay distinct", 3, "3", false},
	}
	for _, tc := range cases {
		if got := ValuesEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: ValuesEqual(%v, %v) = %v, want %v", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestValuesEqualTimestamps(t *testing.T) {
	if !ValuesEqual("2024-03-15T10:00:00Z", "2024-03-15 10:00:00") {
		t.Fatalf("equivalent timestamp strings compared unequal")
	}
	est := time.FixedZone("EST", -5*3600)
	if !ValuesEqual(time.Date(2024, 3, 15, 5, 0, 0, 0, est), "2024-03-15T10:00:00Z") {
		t.Fatalf("same instant in different zones compared unequal")
	}
	if ValuesEqual("2024-03-15T10:00:00Z", "2024-03-15T11:00:00Z") {
		t.Fatalf("different instants compared equal")
	}
}

func TestValuesEqualStructural(t *testing.T) {
	a := map[string]any{
		"location": map[string]any{"lat": float64(40.7), "lon": float64(-73.9)},
		"tags":     []any{"noise", "night"},
	}
	b := map[string]any{
		"location": map[string]any{"lat": float64(40.7), "lon": float64(-73.9)},
		"tags":     []any{"noise", "night"},
	}
	if !ValuesEqual(a, b) {
		t.Fatalf("structurally equal maps compared unequal")
	}

	b["tags"] = []any{"night", "noise"}
	if ValuesEqual(a, b) {
		t.Fatalf("slices with different order compared equal")
	}

	if ValuesEqual(map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}) {
		t.Fatalf("maps with different key sets compared equal")
	}
}

func TestValuesEqualNil(t *testing.T) {
	if !ValuesEqual(nil, nil) {
		t.Fatalf("nil values compared unequal")
	}
	if ValuesEqual(nil, "x") {
		t.Fatalf("nil and non-nil compared equal")
	}
}
