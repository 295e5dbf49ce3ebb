package resolver

import (
	"sort"
	"strconv"
	"strings"

	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// localOptimalityH runs Stage H: repeatedly try to bump each installed
// package to a higher allowed version that stays compatible with every
// neighbor's current state. It does not remove packages that became
// unreachable from the required set; they keep their state. Cascading bumps
// happen naturally across rounds since a bump changes what's compatible
// for the next package considered. Terminates when a round changes
// nothing, or when the assignment repeats one already seen (the 100%
// infinite-loop guard), whichever comes first.
func localOptimalityH(g *depgraph.Graph, assign map[depgraph.PkgID]State, prunedSet map[depgraph.PkgID]pruned) map[depgraph.PkgID]State {
	seen := make(map[string]bool)
	for round := 0; round < localOptGuard; round++ {
		sig := signature(g, assign)
		if seen[sig] {
			break
		}
		seen[sig] = true

		changed := false
		for _, p := range g.Order {
			if _, isPruned := prunedSet[p]; isPruned {
				continue
			}
			cur := int(assign[p])
			for v := g.Spp[p] - 2; v > cur; v-- { // scan from highest installed state down
				if !g.GConstr[p].Test(v) {
					continue
				}
				if compatibleWithNeighbors(g, assign, p, v) {
					assign[p] = State(v)
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}
	return assign
}

// compatibleWithNeighbors reports whether p taking state v is consistent
// with every neighbor's current assignment.
func compatibleWithNeighbors(g *depgraph.Graph, assign map[depgraph.PkgID]State, p depgraph.PkgID, v int) bool {
	for q, edge := range g.Edges[p] {
		vq, ok := assign[q]
		if !ok {
			continue
		}
		if !edge.Rows[int(vq)].Test(v) {
			return false
		}
	}
	return true
}

func signature(g *depgraph.Graph, assign map[depgraph.PkgID]State) string {
	var b strings.Builder
	for _, p := range g.Order {
		b.WriteString(p.String())
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(assign[p])))
		b.WriteByte(';')
	}
	return b.String()
}

// applyEquivalenceReps folds Stage D's equivalence classes back in: every
// resolved state is replaced by the highest representative of its class,
// per §4.5's "remember the class mapping so the final output can report
// the highest member".
func applyEquivalenceReps(g *depgraph.Graph, assign map[depgraph.PkgID]State, classes map[depgraph.PkgID]*equivClass) {
	for p, v := range assign {
		ec, ok := classes[p]
		if !ok {
			continue
		}
		if rep, ok := ec.repOf[int(v)]; ok {
			assign[p] = State(rep)
		}
	}
}

// verify checks every returned assignment against gconstr and every edge's
// compatibility bit, per §4.5's "checked as an invariant on every return
// path".
func verify(g *depgraph.Graph, assign map[depgraph.PkgID]State) error {
	order := append([]depgraph.PkgID(nil), g.Order...)
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	for _, p := range order {
		vp, ok := assign[p]
		if !ok {
			continue
		}
		if !g.GConstr[p].Test(int(vp)) {
			g.Log.Add(p, "verification failed: state %d not in gconstr", vp)
			return verifyError(g, p)
		}
		for q, edge := range g.Edges[p] {
			vq, ok := assign[q]
			if !ok {
				continue
			}
			if !edge.Rows[int(vq)].Test(int(vp)) {
				g.Log.Add(p, "verification failed: incompatible with %s", g.Name(q))
				return verifyError(g, p)
			}
		}
	}
	return nil
}

func verifyError(g *depgraph.Graph, p depgraph.PkgID) error {
	return &pmerr.ResolverError{Package: g.Name(p), Log: g.Log.Subtree(p)}
}
