package depgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vermint-pm/vermint/internal/verpm/registry"
	"github.com/vermint-pm/vermint/internal/verpm/resolvelog"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

// writeFile writes a registry fixture file, creating parent directories.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// bareRegistryFixture builds a minimal on-disk "bare" registry (§4.2) with
// two packages: alpha (1.0.0, 1.1.0) and beta (1.0.0, 2.0.0), where every
// version of alpha depends on beta at ^1.0.0.
func bareRegistryFixture(t *testing.T) (*registry.Registry, uuid.UUID, uuid.UUID) {
	t.Helper()
	root := t.TempDir()

	regUUID := uuid.New()
	alphaUUID := uuid.New()
	betaUUID := uuid.New()

	writeFile(t, root, "Registry.toml", `
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

	writeFile(t, root, "alpha/Package.toml", `repo = "https://example.invalid/alpha"`)
	writeFile(t, root, "alpha/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "aaaa0000"

["1.1.0"]
git-tree-sha1 = "aaaa1111"
`)
	writeFile(t, root, "alpha/Deps.toml", `
["0.0.0..*"]
beta = "`+betaUUID.String()+`"
`)
	writeFile(t, root, "alpha/Compat.toml", `
["0.0.0..*"]
"`+betaUUID.String()+`" = "^1.0.0"
`)

	writeFile(t, root, "beta/Package.toml", `repo = "https://example.invalid/beta"`)
	writeFile(t, root, "beta/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "bbbb0000"

["2.0.0"]
git-tree-sha1 = "bbbb2000"
`)

	reg, err := registry.Open(root)
	require.NoError(t, err)
	return reg, alphaUUID, betaUUID
}

func TestBuildEncodesCompatibleDependencyEdges(t *testing.T) {
	reg, alphaUUID, betaUUID := bareRegistryFixture(t)
	runtimeVersion := semver.MustParse("1.0.0")

	names := map[PkgID]string{alphaUUID: "alpha", betaUUID: "beta", registry.RuntimeID: "runtime"}
	requires := map[PkgID]semver.Spec{
		alphaUUID: semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity}),
	}

	g, err := Build(requires, nil, []*registry.Registry{reg}, runtimeVersion, names, resolvelog.New(names))
	require.NoError(t, err)

	require.Contains(t, g.Order, alphaUUID)
	require.Contains(t, g.Order, betaUUID)

	wantAlpha := []string{"1.0.0", "1.1.0"}
	gotAlpha := make([]string, len(g.Pool[alphaUUID]))
	for i, v := range g.Pool[alphaUUID] {
		gotAlpha[i] = v.String()
	}
	if diff := cmp.Diff(wantAlpha, gotAlpha); diff != "" {
		t.Errorf("alpha pool mismatch (-want +got):\n%s", diff)
	}

	edge := g.Edges[alphaUUID][betaUUID]
	require.NotNil(t, edge)
	// alpha@1.1.0 (index 1) requires beta ^1.0.0, so only beta@1.0.0
	// (index 0) may accompany it; beta@2.0.0 (index 1) must not.
	require.True(t, edge.Rows[0].Test(1))
	require.False(t, edge.Rows[1].Test(1))
}

func TestEffectiveDepsDropsIncompatibleStdlibConstraint(t *testing.T) {
	reg, alphaUUID, betaUUID := bareRegistryFixture(t)
	runtimeVersion := semver.MustParse("1.0.0")
	t.Cleanup(registry.ResetStdlib)

	// beta is bundled with runtime 1.0.0 at version 2.0.0, which fails
	// alpha's ^1.0.0 compat constraint on beta — the edge must be dropped
	// rather than carried forward as an unsatisfiable dependency.
	registry.RegisterStdlib(betaUUID, semver.Range{Lo: semver.MustParse("1.0.0"), Hi: semver.MustParse("1.1.0")}, semver.MustParse("2.0.0"))

	deps, weak, err := effectiveDeps([]*registry.Registry{reg}, alphaUUID, semver.MustParse("1.0.0"), runtimeVersion)
	require.NoError(t, err)
	_, stillPresent := deps[betaUUID]
	require.False(t, stillPresent)
	_, stillWeak := weak[betaUUID]
	require.False(t, stillWeak)
}

func TestEffectiveDepsKeepsCompatibleStdlibConstraint(t *testing.T) {
	reg, alphaUUID, betaUUID := bareRegistryFixture(t)
	runtimeVersion := semver.MustParse("1.0.0")
	t.Cleanup(registry.ResetStdlib)

	// beta is bundled with runtime 1.0.0 at version 1.0.0, which satisfies
	// alpha's ^1.0.0 compat constraint — the edge must survive.
	registry.RegisterStdlib(betaUUID, semver.Range{Lo: semver.MustParse("1.0.0"), Hi: semver.MustParse("1.1.0")}, semver.MustParse("1.0.0"))

	deps, _, err := effectiveDeps([]*registry.Registry{reg}, alphaUUID, semver.MustParse("1.0.0"), runtimeVersion)
	require.NoError(t, err)
	_, stillPresent := deps[betaUUID]
	require.True(t, stillPresent)
}
