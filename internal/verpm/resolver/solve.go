// Package resolver implements §4.5: the version-selection engine operating
// on the bit-mask graph built by package depgraph. It combines a greedy
// attempt, a max-sum belief-propagation fallback, and a local-optimality
// post-pass, with an equivalence-class compression and a pruning step in
// between to shrink the problem before either solver runs.
package resolver

import (
	"context"
	"sort"

	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// maxSumIterations bounds Stage G's message-passing sweeps before it gives
// up and splits the most uncertain variable.
const maxSumIterations = 64

// localOptGuard is the "100% infinite-loop guard" DESIGN NOTES §9 calls
// for: Stage H terminates unconditionally after this many rounds even if
// it never revisits an exact prior solution.
const localOptGuard = 100

// Result is what Resolve returns: the chosen state per package plus the
// set pruned by Stage E (§4.5 "augmented with the pruned map").
type Result struct {
	Assignment map[depgraph.PkgID]State
	Pruned     map[depgraph.PkgID]pruned
}

// State is a resolved package's pool index (not its Version — the
// caller maps index to Version via Graph.Pool).
type State int

// Resolve is the resolver's single public entry point (§4.5). It mutates
// g.GConstr in place as it narrows the problem, and returns the final
// state assignment of every package in the graph (fixed and pruned
// packages included), or a *pmerr.ResolverError carrying the offending
// package's log subtree.
func Resolve(ctx context.Context, g *depgraph.Graph, required map[depgraph.PkgID]bool) (*Result, error) {
	for p := range g.Fixed {
		f := g.Fixed[p]
		idx := g.VersionIndex(p, f.Version)
		if idx < 0 {
			return nil, &pmerr.ResolverError{Package: g.Name(p), Log: g.Log.Subtree(p)}
		}
		c := depgraph.NewBitSet(g.Spp[p])
		c.Set(idx)
		g.GConstr[p] = c
	}

	if err := propagateA(ctx, g); err != nil {
		return nil, err
	}
	disableUnreachableB(g, required)
	if err := propagateA(ctx, g); err != nil {
		return nil, err
	}
	if err := validateVersionsC(ctx, g); err != nil {
		return nil, err
	}

	classes := compressD(g)
	prunedSet := pruneE(g)

	assignment, ok := greedyF(g, required, prunedSet)
	if !ok {
		g.Log.Add(depgraph.PkgID{}, "greedy solver failed to converge, falling back to max-sum")
		var err error
		assignment, err = maxSumG(ctx, g, required, prunedSet)
		if err != nil {
			return nil, err
		}
	}

	assignment = localOptimalityH(g, assignment, prunedSet)
	applyEquivalenceReps(g, assignment, classes)

	if err := verify(g, assignment); err != nil {
		return nil, err
	}

	for p, pr := range prunedSet {
		assignment[p] = State(pr.state)
	}

	return &Result{Assignment: assignment, Pruned: prunedSet}, nil
}

// greedyF runs Stage F: every required package is set to its highest
// allowed version, then a BFS along dependency edges picks, for each
// neighbor, the highest version consistent with the parent's chosen
// state. Fails (returns ok=false) the moment a neighbor has zero or more
// than one viable maximum.
func greedyF(g *depgraph.Graph, required map[depgraph.PkgID]bool, prunedSet map[depgraph.PkgID]pruned) (map[depgraph.PkgID]State, bool) {
	assign := make(map[depgraph.PkgID]State, len(g.Order))
	for _, p := range g.Order {
		assign[p] = State(g.Spp[p] - 1) // uninstalled by default
	}

	visited := make(map[depgraph.PkgID]bool)
	queue := make([]depgraph.PkgID, 0, len(required))
	for id := range required {
		sorted := sortedCandidates(g, id, g.GConstr[id])
		if len(sorted) == 0 {
			return nil, false
		}
		assign[id] = State(sorted[0])
		visited[id] = true
		queue = append(queue, id)
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].String() < queue[j].String() })

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		vp := int(assign[p])

		nbrs := make([]depgraph.PkgID, 0, len(g.Edges[p]))
		for q := range g.Edges[p] {
			nbrs = append(nbrs, q)
		}
		sort.Slice(nbrs, func(i, j int) bool { return nbrs[i].String() < nbrs[j].String() })

		for _, q := range nbrs {
			if visited[q] {
				continue
			}
			edge := g.Edges[p][q] // rows over q's states, keyed by p's state column
			candidates := make([]int, 0, g.Spp[q])
			for vq := 0; vq < g.Spp[q]; vq++ {
				if g.GConstr[q].Test(vq) && edge.Rows[vq].Test(vp) {
					candidates = append(candidates, vq)
				}
			}
			if len(candidates) == 0 {
				return nil, false
			}
			best := candidates[0]
			for _, c := range candidates {
				if c > best {
					best = c
				}
			}
			// Greedy gives up if the pick isn't the unique maximum among
			// installed (non-uninstalled) candidates, unless uninstalled
			// is the only option.
			if best != g.Spp[q]-1 {
				maxima := 0
				for _, c := range candidates {
					if c == best {
						maxima++
					}
				}
				if maxima > 1 {
					return nil, false
				}
			}
			assign[q] = State(best)
			visited[q] = true
			queue = append(queue, q)
		}
	}

	for _, p := range g.Order {
		if !visited[p] {
			// Disconnected from the required set: uninstalled is forced by
			// Stage B already, so this is just confirming the default.
			if !g.GConstr[p].Test(int(assign[p])) {
				return nil, false
			}
		}
	}
	return assign, true
}

func sortedCandidates(g *depgraph.Graph, p depgraph.PkgID, allowed depgraph.BitSet) []int {
	out := make([]int, 0, g.Spp[p])
	for i := 0; i < g.Spp[p]-1; i++ { // prefer installed states over uninstalled
		if allowed.Test(i) {
			out = append(out, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	if len(out) == 0 && allowed.Test(g.Spp[p]-1) {
		out = append(out, g.Spp[p]-1)
	}
	return out
}
