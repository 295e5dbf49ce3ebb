package registry

import (
	"fmt"

	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// ValidateDepsTable enforces the §3 invariant: for any fixed package
// version v, each dependency UUID appears in at most one range of the
// table that contains v. Equivalently, across all entries, the ranges
// associated with a single dependency UUID must be pairwise non-overlapping.
func ValidateDepsTable(registryName string, entries []DepsEntry) error {
	byDep := make(map[ID][]VersionRange)
	for _, e := range entries {
		for _, id := range e.Deps {
			byDep[id] = append(byDep[id], e.Range)
		}
	}
	for id, ranges := range byDep {
		for i := 0; i < len(ranges); i++ {
			for j := i + 1; j < len(ranges); j++ {
				if rangesOverlap(ranges[i], ranges[j]) {
					return &pmerr.RegistryError{
						Registry: registryName,
						Reason: fmt.Sprintf(
							"overlapping ranges %s and %s for dependency %s: registry invariant violation",
							ranges[i], ranges[j], id),
					}
				}
			}
		}
	}
	return nil
}

func rangesOverlap(a, b VersionRange) bool {
	return a.Lo.Less(b.Hi) && b.Lo.Less(a.Hi)
}

// ValidateCompatTable enforces the other half of the §3 invariant: every
// UUID referenced by a compat entry for version-range r must also be
// present as a dependency (strong or weak) for some range overlapping r.
func ValidateCompatTable(registryName string, compat []CompatEntry, deps, weakDeps []DepsEntry) error {
	known := make(map[ID][]VersionRange)
	for _, e := range deps {
		for _, id := range e.Deps {
			known[id] = append(known[id], e.Range)
		}
	}
	for _, e := range weakDeps {
		for _, id := range e.Deps {
			known[id] = append(known[id], e.Range)
		}
	}
	for _, e := range compat {
		for id := range e.Compat {
			found := false
			for _, r := range known[id] {
				if rangesOverlap(r, e.Range) {
					found = true
				}
			}
			if !found {
				return &pmerr.RegistryError{
					Registry: registryName,
					Reason:   fmt.Sprintf("compat entry for %s over %s has no corresponding deps/weak-deps entry", id, e.Range),
				}
			}
		}
	}
	return nil
}
