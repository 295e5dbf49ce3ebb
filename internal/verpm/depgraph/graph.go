// Package depgraph implements §4.4: composing per-package compressed deps
// across every reachable registry into a bit-mask adjacency graph over
// (package, version-index) pairs.
package depgraph

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/vermint-pm/vermint/internal/verpm/registry"
	"github.com/vermint-pm/vermint/internal/verpm/resolvelog"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

// PkgID aliases registry.ID for readability within the graph package.
type PkgID = registry.ID

// Fixed describes a package whose version is locked before resolution:
// develop-mode, pinned, or the runtime itself (§3 "Fixed package").
type Fixed struct {
	Version  semver.Version
	Requires map[PkgID]semver.Spec
}

// Edge holds the bit-mask adjacency between p and q: M[v_q, v_p] is true
// iff choosing v_q (row, including the synthetic "uninstalled" row) is
// compatible with p taking state v_p (column). Rows is stored for the p
// side of the edge; the q side is a second Edge stored explicitly under
// Graph.Edges[q][p] (rows over p's states), created by edge and filled by
// syncTranspose.
type Edge struct {
	P, Q PkgID
	// Rows[v_q] is a BitSet over p's states (length spp[P]) — row v_q is
	// the set of p-states compatible with q being at v_q.
	Rows []BitSet
	sppP int
}

// Col returns the set of q-states (as a BitSet over spp[Q]) compatible with
// p being at state vp — i.e. column vp of M, read out row by row.
func (e *Edge) Col(vp int) BitSet {
	out := NewBitSet(len(e.Rows))
	for vq, row := range e.Rows {
		if row.Test(vp) {
			out.Set(vq)
		}
	}
	return out
}

// Graph is the bit-mask adjacency graph of §4.4.
type Graph struct {
	// Order is every reachable package, in a stable (insertion) order.
	Order []PkgID

	// Pool[p] is the sorted, ascending list of p's real versions (fixed
	// packages contribute only their fixed version). State index spp[p]-1
	// (the last index) is the synthetic "uninstalled" state.
	Pool map[PkgID][]semver.Version

	// Spp[p] = len(Pool[p]) + 1.
	Spp map[PkgID]int

	// Edges[p][q] gives the (p,q) edge (p's rows over q's states); a
	// caller wanting the q-side view uses Edges[q][p] directly, since
	// edges are built and stored for both directions (§4.4 "must be
	// stored explicitly").
	Edges map[PkgID]map[PkgID]*Edge

	// GConstr[p] starts all-true, except that an explicitly required
	// package may only take a version its requirement accepts (never
	// "uninstalled"), and is narrowed further during Stage A/B/C.
	GConstr map[PkgID]BitSet

	Fixed map[PkgID]Fixed

	Log *resolvelog.Log

	names map[PkgID]string
}

// Name returns a display name for a package UUID, if known.
func (g *Graph) Name(id PkgID) string {
	if n, ok := g.names[id]; ok {
		return n
	}
	return id.String()
}

// effectiveDeps is the merged view of one package's dependencies at one
// version, across every registry that knows it, per §4.2's cross-registry
// union rule: union the deps sets; where the same dependency appears in
// multiple registries at that version, intersect the compat specs
// (first-registry-wins when specs conflict in a way that would otherwise
// empty the intersection).
func effectiveDeps(regs []*registry.Registry, id PkgID, v semver.Version, runtimeVersion semver.Version) (map[PkgID]semver.Spec, map[PkgID]bool, error) {
	merged := make(map[PkgID]semver.Spec)
	weak := make(map[PkgID]bool)
	firstWriter := make(map[PkgID]int)

	for ri, reg := range regs {
		entry, ok := reg.Entry(id)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, nil, err
		}
		// Only query a registry for constraints at a version that exists
		// in that registry, per §4.2.
		if _, known := info.Versions[v.String()]; !known {
			continue
		}

		strong, err := info.DepsAt(v, false)
		if err != nil {
			return nil, nil, err
		}
		for depID, spec := range strong {
			if existing, ok := merged[depID]; ok {
				merged[depID] = existing.Intersect(spec)
				if merged[depID].IsEmpty() && firstWriter[depID] != ri {
					// Intersection emptied by a later registry: keep the
					// first registry's constraint (first-registry-wins).
					merged[depID] = existing
				}
			} else {
				merged[depID] = spec
				firstWriter[depID] = ri
			}
		}

		weakDeps, err := info.DepsAt(v, true)
		if err != nil {
			return nil, nil, err
		}
		for depID, spec := range weakDeps {
			if _, alreadyStrong := merged[depID]; alreadyStrong && !weak[depID] {
				continue
			}
			weak[depID] = true
			if existing, ok := merged[depID]; ok {
				merged[depID] = existing.Intersect(spec)
			} else {
				merged[depID] = spec
			}
		}
	}

	// Every package implicitly depends on the runtime at every version
	// (§3); the compat constraint is always "exactly the target runtime
	// version" since the resolver fixes the runtime.
	if id != registry.RuntimeID {
		merged[registry.RuntimeID] = semver.NewSpec(semver.Range{Lo: runtimeVersion, Hi: nextVersion(runtimeVersion)})
	}

	// Drop incompatible stdlib constraints: a dependency classified as
	// bundled with runtimeVersion is filtered out here if its bundled
	// version fails the accumulated compat spec, rather than being carried
	// forward as an unsatisfiable edge to a package the graph would then
	// try to resolve normally.
	for depID, spec := range merged {
		if depID == registry.RuntimeID {
			continue
		}
		if stdlibVersion, ok := registry.IsStdlib(depID, runtimeVersion); ok && !spec.Contains(stdlibVersion) {
			delete(merged, depID)
			delete(weak, depID)
		}
	}

	return merged, weak, nil
}

func nextVersion(v semver.Version) semver.Version {
	return semver.MustParse(uintStr(v.Major()) + "." + uintStr(v.Minor()) + "." + uintStr(v.Patch()+1))
}

func uintStr(n uint64) string {
	// Tiny local formatter to avoid importing strconv just for this.
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Build composes the bit-mask graph described by §4.4 from a set of
// explicit requirements, a set of fixed packages, every reachable
// registry, and the target runtime version (used to seed a synthetic
// fixed runtime entry).
func Build(requires map[PkgID]semver.Spec, fixed map[PkgID]Fixed, regs []*registry.Registry, runtimeVersion semver.Version, names map[PkgID]string, log *resolvelog.Log) (*Graph, error) {
	g := &Graph{
		Pool:    make(map[PkgID][]semver.Version),
		Spp:     make(map[PkgID]int),
		Edges:   make(map[PkgID]map[PkgID]*Edge),
		GConstr: make(map[PkgID]BitSet),
		Fixed:   make(map[PkgID]Fixed),
		Log:     log,
		names:   names,
	}
	for k, v := range fixed {
		g.Fixed[k] = v
	}
	if _, ok := g.Fixed[registry.RuntimeID]; !ok {
		g.Fixed[registry.RuntimeID] = Fixed{Version: runtimeVersion, Requires: nil}
	}

	visited := make(map[PkgID]bool)
	var order []PkgID
	queue := make([]PkgID, 0, len(requires)+len(fixed))
	for id := range requires {
		queue = append(queue, id)
	}
	for id := range fixed {
		queue = append(queue, id)
	}
	// Deterministic traversal order for reproducible logs/output.
	sort.Slice(queue, func(i, j int) bool { return queue[i].String() < queue[j].String() })

	depsCache := make(map[PkgID]map[string]map[PkgID]semver.Spec) // pkg -> version string -> deps
	weakCache := make(map[PkgID]map[string]map[PkgID]bool)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		pool, err := buildPool(id, g.Fixed, regs)
		if err != nil {
			return nil, err
		}
		g.Pool[id] = pool
		g.Spp[id] = len(pool) + 1

		depsCache[id] = make(map[string]map[PkgID]semver.Spec, len(pool))
		weakCache[id] = make(map[string]map[PkgID]bool, len(pool))

		for _, v := range pool {
			var deps map[PkgID]semver.Spec
			var weak map[PkgID]bool
			var err error
			if f, isFixed := g.Fixed[id]; isFixed && f.Requires != nil {
				// A fixed package's dependencies come from its own
				// project file (develop mode) or are absent (pinned
				// registry packages still resolve deps from the
				// registry), not from a registry lookup.
				deps = make(map[PkgID]semver.Spec, len(f.Requires))
				for k, v := range f.Requires {
					deps[k] = v
				}
				if id != registry.RuntimeID {
					deps[registry.RuntimeID] = semver.NewSpec(semver.Range{Lo: runtimeVersion, Hi: nextVersion(runtimeVersion)})
				}
				weak = nil
			} else {
				deps, weak, err = effectiveDeps(regs, id, v, runtimeVersion)
			}
			if err != nil {
				return nil, errors.Wrapf(err, "computing effective deps for %s@%s", id, v)
			}
			depsCache[id][v.String()] = deps
			weakCache[id][v.String()] = weak
			for depID := range deps {
				if !visited[depID] {
					queue = append(queue, depID)
				}
			}
		}
	}
	g.Order = order

	// Build edges now that every package's pool is known.
	for _, p := range order {
		listed := make(map[PkgID]bool)
		for _, v := range g.Pool[p] {
			deps := depsCache[p][v.String()]
			weak := weakCache[p][v.String()]
			for q, spec := range deps {
				if _, ok := g.Spp[q]; !ok {
					// q only appears fixed with no pool entry (shouldn't
					// normally happen since fixed packages get a
					// single-element pool via buildPool); skip safely.
					continue
				}
				listed[q] = true
				if err := g.addEdgeConstraint(p, v, q, spec, weak[q]); err != nil {
					return nil, err
				}
			}
		}
		// p-states that do not list q (including p uninstalled) accept every q-state.
		for q := range listed {
			for vp := 0; vp < g.Spp[p]; vp++ {
				if vp < len(g.Pool[p]) {
					if _, dep := depsCache[p][g.Pool[p][vp].String()][q]; dep {
						continue
					}
				}
				for _, row := range g.Edges[p][q].Rows {
					row.Set(vp)
				}
			}
		}
	}

	for p, nbrs := range g.Edges {
		for q := range nbrs {
			g.syncTranspose(p, q)
		}
	}

	for _, id := range order {
		c := NewBitSet(g.Spp[id])
		spec, required := requires[id]
		for i := 0; i < g.Spp[id]; i++ {
			if !required || (i < len(g.Pool[id]) && spec.Contains(g.Pool[id][i])) {
				c.Set(i)
			}
		}
		g.GConstr[id] = c
	}

	return g, nil
}

func buildPool(id PkgID, fixed map[PkgID]Fixed, regs []*registry.Registry) ([]semver.Version, error) {
	if f, ok := fixed[id]; ok {
		return []semver.Version{f.Version}, nil
	}

	seen := make(map[string]semver.Version)
	for _, reg := range regs {
		entry, ok := reg.Entry(id)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		for vs, vi := range info.Versions {
			if vi.Yanked {
				continue
			}
			v, err := semver.Parse(vs)
			if err != nil {
				continue
			}
			seen[vs] = v
		}
	}
	out := make([]semver.Version, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// VersionIndex returns the pool index of v within g.Pool[p], or -1 if p
// has no such version. Exported so package resolver can seed a fixed
// package's constraint vector without duplicating pool lookup logic.
func (g *Graph) VersionIndex(p PkgID, v semver.Version) int {
	return g.versionIndex(p, v)
}

// versionIndex returns the pool index of v within g.Pool[p], or -1.
func (g *Graph) versionIndex(p PkgID, v semver.Version) int {
	for i, pv := range g.Pool[p] {
		if pv.Equal(v) {
			return i
		}
	}
	return -1
}

// uninstalledState returns the index of p's synthetic "uninstalled" state.
func (g *Graph) uninstalledState(p PkgID) int {
	return g.Spp[p] - 1
}

// addEdgeConstraint records, for dependency edge p -> q where p@v requires
// q to satisfy spec (and is weak if isWeak), the compatibility bits of
// M[q][p]: row v_q is true at column v_p iff q's version at v_q (or
// "uninstalled", which is only valid for weak deps) satisfies the edge.
func (g *Graph) addEdgeConstraint(p PkgID, v semver.Version, q PkgID, spec semver.Spec, isWeak bool) error {
	vp := g.versionIndex(p, v)
	if vp < 0 {
		return errors.Errorf("internal error: version %s not found in pool for %s", v, p)
	}

	edge := g.edge(p, q)
	for vq := 0; vq < g.Spp[q]-1; vq++ {
		if spec.Contains(g.Pool[q][vq]) {
			edge.Rows[vq].Set(vp)
		}
	}
	if isWeak {
		edge.Rows[g.uninstalledState(q)].Set(vp)
	}
	return nil
}

// edge returns (creating if necessary) the p-rows-over-q-states Edge for
// (p,q), and its symmetric twin stored under (q,p), satisfying §4.4's
// "graph is symmetric... must be stored explicitly" requirement.
func (g *Graph) edge(p, q PkgID) *Edge {
	if g.Edges[p] == nil {
		g.Edges[p] = make(map[PkgID]*Edge)
	}
	if e, ok := g.Edges[p][q]; ok {
		return e
	}
	e := &Edge{P: p, Q: q, sppP: g.Spp[p]}
	e.Rows = make([]BitSet, g.Spp[q])
	for i := range e.Rows {
		e.Rows[i] = NewBitSet(g.Spp[p])
	}
	g.Edges[p][q] = e

	// Build (and keep in sync with) the transpose under (q,p).
	if g.Edges[q] == nil {
		g.Edges[q] = make(map[PkgID]*Edge)
	}
	if _, ok := g.Edges[q][p]; !ok {
		te := &Edge{P: q, Q: p, sppP: g.Spp[q]}
		te.Rows = make([]BitSet, g.Spp[p])
		for i := range te.Rows {
			te.Rows[i] = NewBitSet(g.Spp[q])
		}
		g.Edges[q][p] = te
	}
	return e
}

// syncTranspose copies p-over-q bits into the stored q-over-p transpose.
// Called once graph construction for (p,q) is complete.
func (g *Graph) syncTranspose(p, q PkgID) {
	e := g.Edges[p][q]
	te := g.Edges[q][p]
	for vq := 0; vq < len(e.Rows); vq++ {
		for vp := 0; vp < e.sppP; vp++ {
			if e.Rows[vq].Test(vp) {
				te.Rows[vp].Set(vq)
			}
		}
	}
}
