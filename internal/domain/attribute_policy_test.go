package domain

import "testing"

func TestTrackedEqualIgnoresUntracked(t *testing.T) {
	policy := NewAttributePolicy("service_request", []string{"status"})

	a := map[string]any{"status": "Open", "descriptor": "Pothole"}
	b := map[string]any{"status": "Open", "descriptor": "Large pothole"}
	if !policy.TrackedEqual(a, b) {
		t.Fatalf("untracked change flagged as tracked difference")
	}

	b["status"] = "Completed"
	if policy.TrackedEqual(a, b) {
		t.Fatalf("tracked change not detected")
	}
}

func TestTrackedEqualMissingAttribute(t *testing.T) {
	policy := NewAttributePolicy("service_request", []string{"status", "closed_date"})

	a := map[string]any{"status": "Open"}
	b := map[string]any{"status": "Open"}
	if !policy.TrackedEqual(a, b) {
		t.Fatalf("attribute missing from both maps must compare equal")
	}

	b["closed_date"] = "2024-03-15T10:00:00Z"
	if policy.TrackedEqual(a, b) {
		t.Fatalf("attribute appearing on one side must compare unequal")
	}
}

func TestTrackedEqualSemanticValues(t *testing.T) {
	policy := NewAttributePolicy("service_request", []string{"closed_date"})

	a := map[string]any{"closed_date": "2024-03-15T10:00:00Z"}
	b := map[string]any{"closed_date": "2024-03-15 10:00:00"}
	if !policy.TrackedEqual(a, b) {
		t.Fatalf("re-encoded timestamp flagged as tracked difference")
	}
}

func TestTrackedNamesStableOrder(t *testing.T) {
	policy := NewAttributePolicy("service_request", []string{"status", "agency", "closed_date", ""})

	names := policy.TrackedNames()
	want := []string{"agency", "closed_date", "status"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
