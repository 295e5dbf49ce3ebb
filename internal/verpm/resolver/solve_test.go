package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/registry"
	"github.com/vermint-pm/vermint/internal/verpm/resolvelog"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

func writeFixtureFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// twoPackageRegistry builds alpha (depends on beta ^1.0.0) and beta
// (1.0.0, 2.0.0), the same shape depgraph's own fixture uses, so the
// resolver is exercised end to end against a real on-disk registry rather
// than a hand-built Graph.
func twoPackageRegistry(t *testing.T) (*registry.Registry, uuid.UUID, uuid.UUID) {
	t.Helper()
	root := t.TempDir()
	regUUID, alphaUUID, betaUUID := uuid.New(), uuid.New(), uuid.New()

	writeFixtureFile(t, root, "Registry.toml", `
name = "fixture"
uuid = "`+regUUID.String()+`"
repo = "https://example.invalid/fixture"

[packages."`+alphaUUID.String()+`"]
name = "alpha"
path = "alpha"

[packages."`+betaUUID.String()+`"]
name = "beta"
path = "beta"
`)
	writeFixtureFile(t, root, "alpha/Package.toml", `repo = "https://example.invalid/alpha"`)
	writeFixtureFile(t, root, "alpha/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "aaaa0000"
`)
	writeFixtureFile(t, root, "alpha/Deps.toml", `
["0.0.0..*"]
beta = "`+betaUUID.String()+`"
`)
	writeFixtureFile(t, root, "alpha/Compat.toml", `
["0.0.0..*"]
"`+betaUUID.String()+`" = "^1.0.0"
`)
	writeFixtureFile(t, root, "beta/Package.toml", `repo = "https://example.invalid/beta"`)
	writeFixtureFile(t, root, "beta/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "bbbb0000"

["2.0.0"]
git-tree-sha1 = "bbbb2000"
`)

	reg, err := registry.Open(root)
	require.NoError(t, err)
	return reg, alphaUUID, betaUUID
}

func TestResolvePicksBetaWithinAlphaCompat(t *testing.T) {
	reg, alphaUUID, betaUUID := twoPackageRegistry(t)
	names := map[depgraph.PkgID]string{alphaUUID: "alpha", betaUUID: "beta", registry.RuntimeID: "runtime"}
	requires := map[depgraph.PkgID]semver.Spec{
		alphaUUID: semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity}),
	}

	g, err := depgraph.Build(requires, nil, []*registry.Registry{reg}, semver.MustParse("1.0.0"), names, resolvelog.New(names))
	require.NoError(t, err)

	result, err := Resolve(context.Background(), g, map[depgraph.PkgID]bool{alphaUUID: true})
	require.NoError(t, err)

	betaState, ok := result.Assignment[betaUUID]
	require.True(t, ok, "beta should be assigned a state")
	got := g.Pool[betaUUID][betaState]
	want := semver.MustParse("1.0.0")
	if diff, equal := messagediff.PrettyDiff(want.String(), got.String()); !equal {
		t.Errorf("resolver picked the wrong beta version:\n%s", diff)
	}
}
