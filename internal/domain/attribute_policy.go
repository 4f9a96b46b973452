package domain

import "sort"

// AttributePolicy is the static tracked/untracked split for one entity type.
// Tracked attributes open a new version when they change; untracked
// attributes are carried along but never compared. The policy is not
// retroactive: changing it only affects snapshots ingested afterwards.
type AttributePolicy struct {
	EntityType string
	tracked    map[string]bool
}

// NewAttributePolicy builds a policy from the tracked attribute names.
func NewAttributePolicy(entityType string, trackedNames []string) AttributePolicy {
	tracked := make(map[string]bool, len(trackedNames))
	for _, name := range trackedNames {
		if name != "" {
			tracked[name] = true
		}
	}
	return AttributePolicy{EntityType: entityType, tracked: tracked}
}

// IsTracked reports whether a change to the named attribute versions the
// entity.
func (p AttributePolicy) IsTracked(name string) bool {
	return p.tracked[name]
}

// TrackedNames returns the tracked attribute names in stable order.
func (p AttributePolicy) TrackedNames() []string {
	names := make([]string, 0, len(p.tracked))
	for name := range p.tracked {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TrackedEqual compares only the tracked attributes of two attribute maps,
// by value. An attribute missing from both maps counts as equal; missing on
// one side compares as nil.
func (p AttributePolicy) TrackedEqual(a, b map[string]any) bool {
	for name := range p.tracked {
		av, aok := a[name]
		bv, bok := b[name]
		if !aok && !bok {
			continue
		}
		if !ValuesEqual(av, bv) {
			return false
		}
	}
	return true
}
