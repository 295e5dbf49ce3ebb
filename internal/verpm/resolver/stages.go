package resolver

import (
	"context"
	"sort"

	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// propagateA runs Stage A (§4.5): repeatedly intersect every package's
// constraint vector with the set of states reachable from its neighbors'
// currently allowed states, until a fixpoint. Returns a ResolverError
// (carrying the offending package's log subtree) the moment any
// constraint vector is emptied.
func propagateA(ctx context.Context, g *depgraph.Graph) error {
	for {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		changed := false
		for _, p := range g.Order {
			nbrs := g.Edges[p]
			for q := range nbrs {
				if !sameGraphOrder(g, q) {
					continue
				}
				allowed := depgraph.NewBitSet(g.Spp[p])
				edge := g.Edges[p][q]
				for vq := 0; vq < g.Spp[q]; vq++ {
					if !g.GConstr[q].Test(vq) {
						continue
					}
					allowed.Or(edge.Rows[vq])
				}
				before := g.GConstr[p].PopCount()
				g.GConstr[p].And(allowed)
				after := g.GConstr[p].PopCount()
				if after == 0 {
					g.Log.Add(p, "propagation emptied constraint vector via neighbor %s", g.Name(q))
					return &pmerr.ResolverError{Package: g.Name(p), Log: g.Log.Subtree(p)}
				}
				if after != before {
					changed = true
				}
			}
		}
		if !changed {
			return nil
		}
	}
}

func sameGraphOrder(g *depgraph.Graph, q depgraph.PkgID) bool {
	_, ok := g.Spp[q]
	return ok
}

// disableUnreachableB runs Stage B: BFS from the required set along
// allowed edges; anything outside the reached set is forced to
// "uninstalled".
func disableUnreachableB(g *depgraph.Graph, required map[depgraph.PkgID]bool) {
	reached := make(map[depgraph.PkgID]bool, len(g.Order))
	queue := make([]depgraph.PkgID, 0, len(required))
	for id := range required {
		reached[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for q, edge := range g.Edges[p] {
			if reached[q] {
				continue
			}
			if edgeAllowsInstalled(g, edge, p, q) {
				reached[q] = true
				queue = append(queue, q)
			}
		}
	}
	for _, p := range g.Order {
		if reached[p] {
			continue
		}
		u := g.Spp[p] - 1
		c := depgraph.NewBitSet(g.Spp[p])
		c.Set(u)
		g.GConstr[p] = c
		g.Log.Add(p, "unreachable from required set, forced uninstalled")
	}
}

// edgeAllowsInstalled reports whether any currently-allowed state of p is
// compatible with any installed (non-uninstalled) state of q.
func edgeAllowsInstalled(g *depgraph.Graph, edge *depgraph.Edge, p, q depgraph.PkgID) bool {
	for vq := 0; vq < g.Spp[q]-1; vq++ {
		if !g.GConstr[q].Test(vq) {
			continue
		}
		row := edge.Rows[vq]
		for vp := 0; vp < g.Spp[p]; vp++ {
			if g.GConstr[p].Test(vp) && row.Test(vp) {
				return true
			}
		}
	}
	return false
}

// validateVersionsC runs Stage C (skim mode): for every package with more
// than one allowed state, tentatively pin each state behind a snapshot,
// re-propagate, and drop states that produce a contradiction.
func validateVersionsC(ctx context.Context, g *depgraph.Graph) error {
	stack := newSnapshotStack()
	for _, p := range g.Order {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		allowed := allowedStates(g, p)
		if len(allowed) <= 1 {
			continue
		}
		for _, vp := range allowed {
			if !g.GConstr[p].Test(vp) {
				continue // already eliminated by an earlier trial this pass
			}
			stack.push()
			for id := range g.GConstr {
				stack.recordBeforeMutate(id, g.GConstr[id])
			}
			trial := depgraph.NewBitSet(g.Spp[p])
			trial.Set(vp)
			g.GConstr[p] = trial

			err := propagateA(ctx, g)
			stack.pop(g.GConstr)
			if err != nil {
				g.GConstr[p].Clear(vp)
				if g.GConstr[p].PopCount() == 0 {
					return &pmerr.ResolverError{Package: g.Name(p), Log: g.Log.Subtree(p)}
				}
				g.Log.Add(p, "state %d eliminated during skim validation", vp)
			}
		}
	}
	return nil
}

func allowedStates(g *depgraph.Graph, p depgraph.PkgID) []int {
	out := make([]int, 0, g.Spp[p])
	for i := 0; i < g.Spp[p]; i++ {
		if g.GConstr[p].Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// equivClass maps a package's pool index to the representative index of
// its equivalence class (§4.5 Stage D), so the solver can operate on a
// reduced state space while the final output still reports the highest
// member of each class.
type equivClass struct {
	repOf map[int]int // pool index -> representative pool index (highest in class)
}

// compressD runs Stage D: group versions of the same package into
// equivalence classes (same compatibility truth table against every
// neighbor, same constraint bit) and keep only the highest representative.
func compressD(g *depgraph.Graph) map[depgraph.PkgID]*equivClass {
	out := make(map[depgraph.PkgID]*equivClass, len(g.Order))
	for _, p := range g.Order {
		classes := make(map[string][]int)
		for vp := 0; vp < g.Spp[p]; vp++ {
			key := equivKey(g, p, vp)
			classes[key] = append(classes[key], vp)
		}
		ec := &equivClass{repOf: make(map[int]int)}
		for _, members := range classes {
			rep := members[0]
			for _, m := range members {
				if m > rep {
					rep = m
				}
			}
			for _, m := range members {
				ec.repOf[m] = rep
				if m != rep {
					g.GConstr[p].Clear(m)
				}
			}
		}
		out[p] = ec
		if len(classes) < g.Spp[p] {
			g.Log.Add(p, "equivalence-class compression: %d states collapsed to %d classes", g.Spp[p], len(classes))
		}
	}
	return out
}

// equivKey builds a string fingerprint of state vp's constraint bit plus its
// compatibility row against every neighbor, so two equal fingerprints mean
// the states are interchangeable for solving purposes.
func equivKey(g *depgraph.Graph, p depgraph.PkgID, vp int) string {
	buf := make([]byte, 0, 64)
	if g.GConstr[p].Test(vp) {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	nbrs := make([]depgraph.PkgID, 0, len(g.Edges[p]))
	for q := range g.Edges[p] {
		nbrs = append(nbrs, q)
	}
	sort.Slice(nbrs, func(i, j int) bool { return nbrs[i].String() < nbrs[j].String() })
	for _, q := range nbrs {
		edge := g.Edges[p][q]
		for vq := 0; vq < g.Spp[q]; vq++ {
			if edge.Rows[vq].Test(vp) {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	return string(buf)
}

// pruned records a package removed by Stage E because its constraint
// vector narrowed to exactly one state.
type pruned struct {
	state int
}

// pruneE runs Stage E: remove every package whose constraint vector has
// exactly one true entry, returning the pruned set so the caller can fold
// it back into the output manifest (§4.5's "record pruned packages").
func pruneE(g *depgraph.Graph) map[depgraph.PkgID]pruned {
	out := make(map[depgraph.PkgID]pruned)
	for _, p := range g.Order {
		allowed := allowedStates(g, p)
		if len(allowed) == 1 {
			out[p] = pruned{state: allowed[0]}
		}
	}
	return out
}
