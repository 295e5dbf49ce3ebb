// Package semver implements the version algebra of §4.1: parsing, precedence
// comparison, and VersionSpec construction (union of half-open ranges),
// including the caret/tilde/hyphen/exact/union specifier grammar and the
// canonical compress(pool, subset) operation.
//
// Version comparison is delegated to github.com/Masterminds/semver/v3, which
// already implements the published semver precedence ordering (pre-release
// tokens sort before their release, build metadata is preserved but ignored
// for ordering). Everything specific to this domain — compressed range sets,
// the 0.x caret relaxation, and compress's canonical-minimal-range-list
// guarantee — is implemented on top of it.
package semver

import (
	mmsemver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Version is a parsed semantic version. The zero value is not valid; use
// Parse.
type Version struct {
	v *mmsemver.Version
}

// Parse parses a semver string ("1.2.3", "1.2.3-rc.1+build5") into a
// Version.
func Parse(s string) (Version, error) {
	v, err := mmsemver.NewVersion(s)
	if err != nil {
		return Version{}, errors.Wrapf(err, "parsing version %q", s)
	}
	return Version{v: v}, nil
}

// MustParse is Parse, panicking on error. Intended for literals in tests and
// registry bootstrap code.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.v == nil {
		return "<invalid>"
	}
	return v.v.String()
}

// Compare returns -1, 0, or 1 following semver precedence: pre-release
// versions precede their release; build metadata does not affect ordering.
func (v Version) Compare(o Version) int {
	return v.v.Compare(o.v)
}

// Less reports whether v strictly precedes o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports precedence equality (build metadata ignored, per semver).
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) Major() uint64 { return v.v.Major() }
func (v Version) Minor() uint64 { return v.v.Minor() }
func (v Version) Patch() uint64 { return v.v.Patch() }
func (v Version) Prerelease() string { return v.v.Prerelease() }
func (v Version) Metadata() string { return v.v.Metadata() }

// IsValid reports whether v was produced by a successful Parse.
func (v Version) IsValid() bool { return v.v != nil }

// MarshalBinary implements encoding.BinaryMarshaler so Version can be
// gob-encoded (its only field is an unexported pointer, which gob cannot
// otherwise see) — used by the registry package's persistent PkgInfo cache.
func (v Version) MarshalBinary() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, the inverse of
// MarshalBinary.
func (v *Version) UnmarshalBinary(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Infinity is a sentinel "greater than every real version" value used as the
// upper bound of an unbounded range. It participates in Compare/Less like any
// other Version except that nothing Compares greater than it.
var Infinity = Version{v: mmsemver.MustParse("999999999.999999999.999999999")}

// Zero is the minimum version any real package version compares greater
// than or equal to; it is the lower bound of the universal Spec.
var Zero = Version{v: mmsemver.MustParse("0.0.0-0")}

// sortVersions sorts a slice of Version ascending by precedence.
func sortVersions(vs []Version) {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j].Less(vs[j-1]); j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
}
