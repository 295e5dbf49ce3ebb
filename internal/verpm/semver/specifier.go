package semver

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseSpec parses the specifier grammar of §4.1 into a Spec:
//
//   - a bare "a.b.c" is a caret specifier: [a.b.c, N) where N increments the
//     leftmost non-zero digit, except that "0.a.b" with a != 0 is treated as
//     if the minor position were the leftmost non-zero digit — i.e.
//     ^0.a.b == [0.a.b, 0.(a+1).0). This is a deliberate relaxation of
//     strict semver-caret, matching the teacher's 0.x compatibility
//     handling for pre-1.0 packages.
//   - "^a.b.c" is the same caret specifier, spelled explicitly.
//   - "~a.b.c" is a tilde specifier: only the last specified component may
//     increment.
//   - "a - b" is an inclusive hyphen range: [a, b].
//   - "=a.b.c" matches exactly a.b.c.
//   - "a, b, ..." is the union of each comma-separated term.
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Any(), nil
	}

	var out Spec
	first := true
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		r, err := parseTerm(term)
		if err != nil {
			return Spec{}, err
		}
		if first {
			out = r
			first = false
		} else {
			out = out.Union(r)
		}
	}
	if first {
		return Spec{}, errors.Errorf("empty version spec %q", s)
	}
	return out, nil
}

func parseTerm(term string) (Spec, error) {
	switch {
	case strings.Contains(term, " - "):
		parts := strings.SplitN(term, " - ", 2)
		lo, err := parsePartial(strings.TrimSpace(parts[0]), fillZero)
		if err != nil {
			return Spec{}, err
		}
		hi, err := parsePartial(strings.TrimSpace(parts[1]), fillMaxUpperBound)
		if err != nil {
			return Spec{}, err
		}
		return NewSpec(Range{Lo: lo, Hi: hi}), nil

	case strings.HasPrefix(term, "="):
		v, err := Parse(strings.TrimPrefix(term, "="))
		if err != nil {
			return Spec{}, err
		}
		return NewSpec(Range{Lo: v, Hi: nextPatch(v)}), nil

	case strings.HasPrefix(term, "~"):
		return parseTilde(strings.TrimPrefix(term, "~"))

	case strings.HasPrefix(term, "^"):
		return parseCaret(strings.TrimPrefix(term, "^"))

	default:
		return parseCaret(term)
	}
}

type fillMode int

const (
	fillZero fillMode = iota
	fillMaxUpperBound
)

// components splits a dotted version prefix ("1", "1.2", "1.2.3") into up to
// three numeric components, padding with zero or -1 (meaning "unspecified")
// as requested.
func components(s string) ([3]int, int, error) {
	parts := strings.SplitN(s, ".", 3)
	var out [3]int
	for i := range out {
		out[i] = -1
	}
	for i, p := range parts {
		p = strings.SplitN(p, "-", 2)[0]
		p = strings.SplitN(p, "+", 2)[0]
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, 0, errors.Wrapf(err, "parsing version component %q", s)
		}
		out[i] = n
	}
	return out, len(parts), nil
}

func fullVersion(c [3]int) Version {
	return MustParse(strconv.Itoa(max0(c[0])) + "." + strconv.Itoa(max0(c[1])) + "." + strconv.Itoa(max0(c[2])))
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func parsePartial(s string, mode fillMode) (Version, error) {
	c, n, err := components(s)
	if err != nil {
		return Version{}, err
	}
	if mode == fillZero {
		return fullVersion(c), nil
	}
	// Upper bound of a hyphen range with a partial version: "1.2 - 2" means
	// up to (but including) the highest patch of 2.x.x; we approximate this
	// as the start of the next unspecified component, matching the
	// inclusive-range convention of the hyphen form.
	switch n {
	case 1:
		return MustParse(strconv.Itoa(c[0]+1) + ".0.0-0"), nil
	case 2:
		return MustParse(strconv.Itoa(c[0]) + "." + strconv.Itoa(c[1]+1) + ".0-0"), nil
	default:
		return nextPatch(fullVersion(c)), nil
	}
}

func nextPatch(v Version) Version {
	return MustParse(uintStr(v.Major()) + "." + uintStr(v.Minor()) + "." + uintStr(v.Patch()+1))
}

func uintStr(n uint64) string { return strconv.FormatUint(n, 10) }

// parseCaret implements the caret specifier including the deliberate 0.x
// relaxation: ^0.a.b (a != 0) means [0.a.b, 0.(a+1).0), not the strict-semver
// [0.a.b, 0.a.(b+1)).
func parseCaret(s string) (Spec, error) {
	c, n, err := components(s)
	if err != nil {
		return Spec{}, err
	}
	lo := fullVersion(c)

	major, minor := max0(c[0]), max0(c[1])

	var hi Version
	switch {
	case major != 0:
		hi = MustParse(strconv.Itoa(major+1) + ".0.0-0")
	case n >= 2 && minor != 0:
		// ^0.a.b, a != 0: bump the minor, matching the relaxed rule.
		hi = MustParse("0." + strconv.Itoa(minor+1) + ".0-0")
	case n >= 3:
		// ^0.0.c: only the patch may vary.
		hi = MustParse("0.0." + strconv.Itoa(max0(c[2])+1) + "-0")
	case n == 2:
		// ^0.0 (minor unspecified as 0): any patch at 0.0.x.
		hi = MustParse("0.1.0-0")
	default:
		// ^0 (nothing but major specified, and it's zero): any 0.x.y.
		hi = MustParse("1.0.0-0")
	}
	return NewSpec(Range{Lo: lo, Hi: hi}), nil
}

// parseTilde implements the tilde specifier: increments are permitted only
// in the last explicitly specified component.
func parseTilde(s string) (Spec, error) {
	c, n, err := components(s)
	if err != nil {
		return Spec{}, err
	}
	lo := fullVersion(c)

	var hi Version
	switch n {
	case 1:
		// ~1 permits any minor/patch increment: [1.0.0, 2.0.0).
		hi = MustParse(strconv.Itoa(max0(c[0])+1) + ".0.0-0")
	default:
		// ~1.2 or ~1.2.3: only the patch may vary: [1.2.0, 1.3.0).
		hi = MustParse(strconv.Itoa(max0(c[0])) + "." + strconv.Itoa(max0(c[1])+1) + ".0-0")
	}
	return NewSpec(Range{Lo: lo, Hi: hi}), nil
}
