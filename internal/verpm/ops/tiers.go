package ops

import (
	"github.com/google/uuid"
	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/depot"
	"github.com/vermint-pm/vermint/internal/verpm/envcache"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

// Tier is a preservation policy (§4.6): how much of the manifest's current
// state a resolve should try to keep fixed rather than re-derive.
type Tier int

const (
	// TierAll fixes every manifest entry, installed or not.
	TierAll Tier = iota
	// TierAllInstalled fixes every manifest entry that is already
	// materialized on disk; anything missing is left free.
	TierAllInstalled
	// TierDirect fixes only entries the project depends on directly.
	TierDirect
	// TierSemver fixes nothing, but narrows every entry's requirement to
	// its current semver-compatible range rather than the universal spec.
	TierSemver
	// TierNone fixes nothing and passes the caller's requirements through
	// unchanged.
	TierNone
	// TierTiered tries All, then Direct, then Semver, then None, keeping
	// the first one that produces a fixed set the resolver accepts.
	TierTiered
	// TierTieredInstalled is TierTiered with its first step replaced by
	// TierAllInstalled; the later steps are the same as TierTiered's.
	TierTieredInstalled
)

// ParseTier maps the §6 preservation tier names to a Tier value.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "ALL":
		return TierAll, true
	case "ALL_INSTALLED":
		return TierAllInstalled, true
	case "DIRECT":
		return TierDirect, true
	case "SEMVER":
		return TierSemver, true
	case "NONE":
		return TierNone, true
	case "TIERED":
		return TierTiered, true
	case "TIERED_INSTALLED":
		return TierTieredInstalled, true
	default:
		return 0, false
	}
}

// fixedFor computes the Fixed map a resolve should seed for this tier,
// given the manifest's current entries and the requires set already
// assembled by the caller (which carries the new/explicit requirements
// that always win over whatever the tier would otherwise fix).
//
// TierTiered and TierTieredInstalled are resolved by the caller trying
// each step in order and keeping the first that the resolver accepts;
// fixedFor itself only implements the non-composite tiers, since trying a
// fallback requires re-running Resolve, which lives in Env.
func (t Tier) fixedFor(c *envcache.Cache, requires map[uuid.UUID]semver.Spec, d *depot.Depot) map[uuid.UUID]depgraph.Fixed {
	fixed := make(map[uuid.UUID]depgraph.Fixed)

	keep := func(entry envcache.ManifestEntry) bool {
		switch t {
		case TierAll:
			return true
		case TierAllInstalled:
			return d.IsInstalled(entry.Name, entry.UUID, entry.TreeHash)
		case TierDirect:
			_, direct := c.Project.Deps[entry.Name]
			return direct
		default:
			return false
		}
	}

	for _, entry := range c.Manifest.Entries {
		if entry.IsPath() || entry.IsRepo() {
			continue // develop/repo sources are fixed separately by the caller
		}
		if spec, explicit := requires[entry.UUID]; explicit && len(spec.Ranges()) > 0 && !spec.Ranges()[0].Lo.Equal(semver.Zero) {
			// An explicitly narrowed requirement (an add with a version spec,
			// an update target, or a pinned entry's own version) must stay
			// free to move within it; never fix it regardless of tier. A
			// universal requirement only marks a direct dependency.
			continue
		}
		if !keep(entry) {
			continue
		}
		v, err := semver.Parse(entry.Version)
		if err != nil {
			continue
		}
		fixed[entry.UUID] = depgraph.Fixed{Version: v}
	}
	return fixed
}
