package semver

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Range is a closed-open interval [Lo, Hi) over versions. Hi may be
// semver.Infinity to denote an unbounded range.
type Range struct {
	Lo, Hi Version
}

// Contains reports whether v falls in [r.Lo, r.Hi).
func (r Range) Contains(v Version) bool {
	return !v.Less(r.Lo) && v.Less(r.Hi)
}

// IsEmpty reports whether the range contains no version at all.
func (r Range) IsEmpty() bool {
	return !r.Lo.Less(r.Hi)
}

// overlaps reports whether two ranges share any version.
func (r Range) overlaps(o Range) bool {
	return r.Lo.Less(o.Hi) && o.Lo.Less(r.Hi)
}

// intersect returns the (possibly empty) intersection of two ranges.
func (r Range) intersect(o Range) Range {
	lo := r.Lo
	if o.Lo.Compare(lo) > 0 {
		lo = o.Lo
	}
	hi := r.Hi
	if o.Hi.Compare(hi) < 0 {
		hi = o.Hi
	}
	return Range{Lo: lo, Hi: hi}
}

// Key renders r as the canonical on-disk string key used in Deps.toml /
// Compat.toml tables ("1.2.3..2.0.0", or "1.2.3..*" for an unbounded upper
// bound). This is the wire form of a compressed-table range key.
func (r Range) Key() string {
	if r.Hi == Infinity {
		return r.Lo.String() + "..*"
	}
	return r.Lo.String() + ".." + r.Hi.String()
}

// ParseRangeKey parses the Key encoding back into a Range.
func ParseRangeKey(s string) (Range, error) {
	parts := strings.SplitN(s, "..", 2)
	if len(parts) != 2 {
		return Range{}, errors.Errorf("malformed range key %q", s)
	}
	lo, err := Parse(parts[0])
	if err != nil {
		return Range{}, errors.Wrapf(err, "parsing range key %q", s)
	}
	if parts[1] == "*" {
		return Range{Lo: lo, Hi: Infinity}, nil
	}
	hi, err := Parse(parts[1])
	if err != nil {
		return Range{}, errors.Wrapf(err, "parsing range key %q", s)
	}
	return Range{Lo: lo, Hi: hi}, nil
}

func (r Range) String() string {
	if r.Hi == Infinity {
		return "[" + r.Lo.String() + ", ∞)"
	}
	return "[" + r.Lo.String() + ", " + r.Hi.String() + ")"
}

// Spec is a VersionSpec: a sorted set of non-overlapping Ranges. The zero
// value matches nothing; use Any() for the universal spec.
type Spec struct {
	ranges []Range
}

// Any returns a Spec that contains every version.
func Any() Spec {
	return Spec{ranges: []Range{{Lo: Zero, Hi: Infinity}}}
}

// Empty returns a Spec matching no version.
func Empty() Spec {
	return Spec{}
}

// NewSpec builds a Spec from an arbitrary set of ranges, normalizing
// (sorting and merging overlapping/adjacent ranges) so the result satisfies
// the canonical-form invariant required by compress's right-inverse law.
func NewSpec(rs ...Range) Spec {
	rs = append([]Range(nil), rs...)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Lo.Less(rs[j].Lo) })

	var merged []Range
	for _, r := range rs {
		if r.IsEmpty() {
			continue
		}
		if n := len(merged); n > 0 && !merged[n-1].Hi.Less(r.Lo) {
			if r.Hi.Compare(merged[n-1].Hi) > 0 {
				merged[n-1].Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}
	return Spec{ranges: merged}
}

// Ranges returns the canonical, sorted, non-overlapping range list.
func (s Spec) Ranges() []Range { return s.ranges }

// Contains reports whether v is matched by any range in the spec.
func (s Spec) Contains(v Version) bool {
	// Ranges are sorted and non-overlapping; binary search on Lo.
	i := sort.Search(len(s.ranges), func(i int) bool { return v.Less(s.ranges[i].Hi) })
	if i == len(s.ranges) {
		return false
	}
	return s.ranges[i].Contains(v)
}

// IsEmpty reports whether the spec matches no version at all.
func (s Spec) IsEmpty() bool { return len(s.ranges) == 0 }

// Intersect computes the intersection of two specs: the set of versions
// matched by both.
func (s Spec) Intersect(o Spec) Spec {
	var out []Range
	i, j := 0, 0
	for i < len(s.ranges) && j < len(o.ranges) {
		a, b := s.ranges[i], o.ranges[j]
		if a.overlaps(b) {
			out = append(out, a.intersect(b))
		}
		if a.Hi.Less(b.Hi) {
			i++
		} else {
			j++
		}
	}
	return NewSpec(out...)
}

// Union computes the union of two specs.
func (s Spec) Union(o Spec) Spec {
	return NewSpec(append(append([]Range(nil), s.ranges...), o.ranges...)...)
}

func (s Spec) String() string {
	if len(s.ranges) == 0 {
		return "∅"
	}
	out := ""
	for i, r := range s.ranges {
		if i > 0 {
			out += " ∪ "
		}
		out += r.String()
	}
	return out
}

// Compress converts an uncompressed (version -> bool-membership) table,
// represented here as pool (every known version, sorted ascending) and
// subset (the versions that should be accepted, sorted ascending and
// pool-ordered), into the canonical minimal Spec.
//
// The algorithm scans subset in pool order, extending the current range as
// long as consecutive members of subset are also consecutive in pool, and
// breaking to start a new range otherwise — this is what makes the output
// canonical: for a fixed pool, any two subsets that pick the same elements
// produce byte-identical range lists, and compress is a right-inverse of
// set-membership (v is in compress(pool, subset) for v in pool iff v is in
// subset).
func Compress(pool []Version, subset []Version) Spec {
	if len(subset) == 0 {
		return Empty()
	}

	poolIndex := make(map[string]int, len(pool))
	for i, v := range pool {
		poolIndex[v.String()] = i
	}

	var ranges []Range
	start := subset[0]
	prevPoolIdx := poolIndex[start.String()]
	last := start

	flush := func(hi Version) {
		var upper Version
		idx := poolIndex[hi.String()]
		if idx+1 < len(pool) {
			upper = pool[idx+1]
		} else {
			upper = Infinity
		}
		ranges = append(ranges, Range{Lo: start, Hi: upper})
	}

	for _, v := range subset[1:] {
		idx, ok := poolIndex[v.String()]
		if !ok {
			// Not part of the declared pool; treat conservatively as
			// breaking the run.
			flush(last)
			start = v
			last = v
			prevPoolIdx = -1
			continue
		}
		if idx == prevPoolIdx+1 {
			last = v
			prevPoolIdx = idx
			continue
		}
		flush(last)
		start = v
		last = v
		prevPoolIdx = idx
	}
	flush(last)

	return NewSpec(ranges...)
}

// Expand is the inverse view used for invariant-checking in tests: it
// returns every member of pool matched by s.
func Expand(pool []Version, s Spec) []Version {
	var out []Version
	for _, v := range pool {
		if s.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}
