package resolver

import "github.com/vermint-pm/vermint/internal/verpm/depgraph"

// snapshotDelta records, for one push/pop frame, the prior contents of
// every gconstr bitset touched since the push. Storing deltas instead of
// full copies is the efficient implementation DESIGN NOTES §9 calls for:
// restoring a frame is O(words touched), not O(total graph size).
type snapshotDelta struct {
	// touched[pkg] -> original (pre-mutation) copy of that package's
	// bitset, captured lazily on first mutation after the push.
	touched map[depgraph.PkgID]depgraph.BitSet
}

// snapshotStack is a LIFO stack of snapshotDelta frames over a solver's
// GConstr map, supporting Stage C's speculative pinning and Stage G's
// split-and-recurse without linear-time full copies.
type snapshotStack struct {
	frames []*snapshotDelta
}

func newSnapshotStack() *snapshotStack { return &snapshotStack{} }

// push starts a new delta-tracking frame.
func (s *snapshotStack) push() {
	s.frames = append(s.frames, &snapshotDelta{touched: make(map[depgraph.PkgID]depgraph.BitSet)})
}

// recordBeforeMutate must be called by the solver before mutating
// gconstr[pkg], so the current top frame can restore it on pop. Safe to
// call repeatedly for the same pkg within one frame (only the first call
// captures anything).
func (s *snapshotStack) recordBeforeMutate(pkg depgraph.PkgID, bits depgraph.BitSet) {
	if len(s.frames) == 0 {
		return
	}
	top := s.frames[len(s.frames)-1]
	if _, ok := top.touched[pkg]; ok {
		return
	}
	top.touched[pkg] = bits.Clone()
}

// pop restores every bitset touched since the matching push and discards
// the frame. gconstr must be the same map passed to recordBeforeMutate
// calls for this frame.
func (s *snapshotStack) pop(gconstr map[depgraph.PkgID]depgraph.BitSet) {
	if len(s.frames) == 0 {
		return
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	for pkg, prior := range top.touched {
		copy(gconstr[pkg], prior)
	}
}

// depth reports how many frames are currently pushed.
func (s *snapshotStack) depth() int { return len(s.frames) }
