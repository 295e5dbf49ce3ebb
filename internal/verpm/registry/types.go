// Package registry implements §3 "Registry" and §4.2: a lazily-loaded,
// immutable-per-session view of packages, their versions, and their
// compressed deps/compat tables. The compressed-range codec lives in
// package semver and the cross-registry dependency union in package
// depgraph.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

// ID is a package's stable 128-bit identifier. Equality and hashing are by
// UUID; names are resolved separately via Registry.UUIDsByName since they are
// human-readable but non-unique across the union of registries.
type ID = uuid.UUID

// RuntimeID is the UUID of the implicit runtime dependency that every
// package depends on at every version.
var RuntimeID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Version is re-exported for callers that only need the registry package.
type Version = semver.Version

// VersionRange is re-exported for callers that only need the registry
// package.
type VersionRange = semver.Range

// VersionSpec is re-exported for callers that only need the registry
// package.
type VersionSpec = semver.Spec

// VersionInfo is the per-version record in a PkgInfo: its tree hash and
// whether it has been yanked.
type VersionInfo struct {
	TreeHash string
	Yanked   bool
}

// DepsEntry is one row of a compressed deps table: the set of dependency
// UUIDs that apply to every version in Range.
type DepsEntry struct {
	Range VersionRange
	Deps  []ID
}

// CompatEntry is one row of a compressed compat table: for each dependency
// UUID that applies to every version in Range, the VersionSpec it must
// satisfy. A dependency present in the DepsEntry for the same range but
// absent here is unconstrained (§3).
type CompatEntry struct {
	Range  VersionRange
	Compat map[ID]VersionSpec
}

// PkgInfo is the fully materialized view of one package: its known
// versions and its compressed deps/compat/weak-deps/weak-compat tables.
// Ownership lives in the Registry that loaded it; the resolver only ever
// holds read-only views (§3 "Environment cache").
type PkgInfo struct {
	UUID ID
	Name string
	Repo string

	Versions map[string]VersionInfo // keyed by Version.String()

	Deps       []DepsEntry
	Compat     []CompatEntry
	WeakDeps   []DepsEntry
	WeakCompat []CompatEntry
}

// SortedVersions returns the package's versions, ascending; yanked
// versions are included only when includeYanked is true.
func (p *PkgInfo) SortedVersions(includeYanked bool) []Version {
	out := make([]Version, 0, len(p.Versions))
	for vs, info := range p.Versions {
		if info.Yanked && !includeYanked {
			continue
		}
		v, err := semver.Parse(vs)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sortVersionsAsc(out)
	return out
}

func sortVersionsAsc(vs []Version) {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j].Less(vs[j-1]); j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
}

// DepsAt returns the effective (unweighted-merged) dependency set and
// compat constraints of p at version v, drawn only from this registry. The
// cross-registry union described in §4.2 is performed by package depgraph,
// not here — a single Registry only ever reports what it itself knows.
func (p *PkgInfo) DepsAt(v Version, weak bool) (map[ID]VersionSpec, error) {
	depsTable := p.Deps
	compatTable := p.Compat
	if weak {
		depsTable = p.WeakDeps
		compatTable = p.WeakCompat
	}

	out := make(map[ID]VersionSpec)
	for _, e := range depsTable {
		if !e.Range.Contains(v) {
			continue
		}
		for _, id := range e.Deps {
			if _, ok := out[id]; !ok {
				out[id] = semver.Any()
			}
		}
	}
	for _, e := range compatTable {
		if !e.Range.Contains(v) {
			continue
		}
		for id, spec := range e.Compat {
			if _, ok := out[id]; ok {
				out[id] = spec
			}
			// A compat entry whose UUID is absent from deps/weak-deps at
			// this version violates the §3 invariant; loaders must reject
			// this before it reaches DepsAt (see ValidateCompatTable).
		}
	}
	return out, nil
}

// entryState is the lazy-load state of one PkgEntry: double-checked locking
// per §4.2 — a per-entry lock guards the slow (first) load; subsequent
// reads are lock-free once initialized is observed true.
type entryState struct {
	mu          sync.Mutex
	initialized atomic.Bool
	info        *PkgInfo
	err         error
}

// PkgEntry is a lazily-materializing handle to one package within a
// Registry. Call Info to force materialization.
type PkgEntry struct {
	UUID ID
	Name string

	reg   *Registry
	state entryState
}

// Info lazily loads and returns the entry's PkgInfo. Thread-safe: a
// per-entry lock guards the slow path, and the fast path (after the first
// successful load) never takes the lock.
func (e *PkgEntry) Info() (*PkgInfo, error) {
	if e.state.initialized.Load() {
		return e.state.info, e.state.err
	}
	return e.infoSlow()
}

func (e *PkgEntry) infoSlow() (*PkgInfo, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	if e.state.initialized.Load() {
		return e.state.info, e.state.err
	}

	info, err := e.reg.loadPkgInfo(e)
	e.state.info, e.state.err = info, err
	e.state.initialized.Store(true)

	// Per §4.2: after a successful load the source bytes for that package
	// are freed from the in-memory file map (only meaningful for the
	// packed storage variant).
	if err == nil {
		e.reg.forgetSourceBytes(e.UUID)
	}

	return e.state.info, e.state.err
}
