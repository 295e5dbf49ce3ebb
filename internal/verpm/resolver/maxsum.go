package resolver

import (
	"context"
	"math"

	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// fieldValue grades one package's one state for the max-sum per-variable
// field (§4.5 Stage G): zero (here, -Inf) for disallowed states, a "level"
// component favoring higher versions, and a tiny perturbation proportional
// to the pool index, which likewise favors the higher index.
func fieldValue(g *depgraph.Graph, p depgraph.PkgID, v int) float64 {
	if !g.GConstr[p].Test(v) {
		return math.Inf(-1)
	}
	uninstalled := g.Spp[p] - 1
	if v == uninstalled {
		return -0.5
	}
	return float64(v) + float64(v)*1e-6
}

// msgKey addresses one directed message p->q in the belief-propagation
// sweep.
type msgKey struct {
	from, to depgraph.PkgID
}

// maxSumG runs Stage G: max-product belief propagation over the factor
// graph formed by the bit-mask edges, decoding by argmax on convergence.
// On non-convergence within the iteration budget it splits the package
// with the most remaining allowed states and recurses under a snapshot.
func maxSumG(ctx context.Context, g *depgraph.Graph, required map[depgraph.PkgID]bool, prunedSet map[depgraph.PkgID]pruned) (map[depgraph.PkgID]State, error) {
	active := make([]depgraph.PkgID, 0, len(g.Order))
	for _, p := range g.Order {
		if _, isPruned := prunedSet[p]; isPruned {
			continue
		}
		active = append(active, p)
	}

	msgs := make(map[msgKey][]float64)
	for _, p := range active {
		for q := range g.Edges[p] {
			if !inSet(active, q) {
				continue
			}
			msgs[msgKey{p, q}] = make([]float64, g.Spp[q])
		}
	}

	for iter := 0; iter < maxSumIterations; iter++ {
		if err := checkCancel(ctx); err != nil {
			return nil, err
		}
		maxDelta := 0.0
		next := make(map[msgKey][]float64, len(msgs))
		for key := range msgs {
			p, q := key.from, key.to
			edge := g.Edges[p][q] // rows over q's states, column = p's state
			nm := make([]float64, g.Spp[q])
			for vq := 0; vq < g.Spp[q]; vq++ {
				best := math.Inf(-1)
				row := edge.Rows[vq]
				for vp := 0; vp < g.Spp[p]; vp++ {
					if !row.Test(vp) {
						continue
					}
					score := fieldValue(g, p, vp)
					if math.IsInf(score, -1) {
						continue
					}
					for r := range g.Edges[p] {
						if r == q || !inSet(active, r) {
							continue
						}
						score += msgs[msgKey{r, p}][vp]
					}
					if score > best {
						best = score
					}
				}
				nm[vq] = best
			}
			normalizeMessage(nm)
			if old, ok := msgs[key]; ok {
				for i := range nm {
					d := math.Abs(nm[i] - old[i])
					if !math.IsInf(d, 0) && d > maxDelta {
						maxDelta = d
					}
				}
			}
			next[key] = nm
		}
		msgs = next
		if maxDelta < 1e-9 {
			return decodeBeliefs(g, active, msgs, required, prunedSet)
		}
	}

	// Non-convergence: split the most uncertain active variable (most
	// allowed states) and recurse with each candidate tentatively pinned.
	mostUncertain := pickMostUncertain(g, active)
	if mostUncertain == (depgraph.PkgID{}) {
		return nil, &pmerr.ResolverError{Log: g.Log.Subtree(depgraph.PkgID{})}
	}
	stack := newSnapshotStack()
	for _, v := range allowedStates(g, mostUncertain) {
		stack.push()
		for id := range g.GConstr {
			stack.recordBeforeMutate(id, g.GConstr[id])
		}
		trial := depgraph.NewBitSet(g.Spp[mostUncertain])
		trial.Set(v)
		g.GConstr[mostUncertain] = trial

		if err := propagateA(ctx, g); err == nil {
			assign, serr := maxSumG(ctx, g, required, prunedSet)
			if serr == nil {
				stack.pop(g.GConstr)
				return assign, nil
			}
		}
		stack.pop(g.GConstr)
	}
	g.Log.Add(mostUncertain, "max-sum split exhausted all candidate states without converging")
	return nil, &pmerr.ResolverError{Package: g.Name(mostUncertain), Log: g.Log.Subtree(mostUncertain)}
}

// normalizeMessage subtracts the max finite value from a message to keep
// the running scores from drifting unboundedly over many sweeps.
func normalizeMessage(m []float64) {
	max := math.Inf(-1)
	for _, v := range m {
		if !math.IsInf(v, -1) && v > max {
			max = v
		}
	}
	if math.IsInf(max, -1) {
		return
	}
	for i := range m {
		if !math.IsInf(m[i], -1) {
			m[i] -= max
		}
	}
}

func decodeBeliefs(g *depgraph.Graph, active []depgraph.PkgID, msgs map[msgKey][]float64, required map[depgraph.PkgID]bool, prunedSet map[depgraph.PkgID]pruned) (map[depgraph.PkgID]State, error) {
	assign := make(map[depgraph.PkgID]State, len(g.Order))
	for _, p := range g.Order {
		if pr, ok := prunedSet[p]; ok {
			assign[p] = State(pr.state)
			continue
		}
		best, bestScore := -1, math.Inf(-1)
		for v := 0; v < g.Spp[p]; v++ {
			score := fieldValue(g, p, v)
			if math.IsInf(score, -1) {
				continue
			}
			for r := range g.Edges[p] {
				if !inSet(active, r) {
					continue
				}
				score += msgs[msgKey{r, p}][v]
			}
			if score > bestScore {
				bestScore, best = score, v
			}
		}
		if best < 0 {
			return nil, &pmerr.ResolverError{Package: g.Name(p), Log: g.Log.Subtree(p)}
		}
		assign[p] = State(best)
	}
	return assign, nil
}

func pickMostUncertain(g *depgraph.Graph, active []depgraph.PkgID) depgraph.PkgID {
	best := depgraph.PkgID{}
	bestCount := 1
	for _, p := range active {
		n := len(allowedStates(g, p))
		if n > bestCount {
			bestCount = n
			best = p
		}
	}
	return best
}

func inSet(set []depgraph.PkgID, id depgraph.PkgID) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}
