package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vermint-pm/vermint/internal/verpm/depot"
	"github.com/vermint-pm/vermint/internal/verpm/envcache"
	"github.com/vermint-pm/vermint/internal/verpm/pmctx"
	"github.com/vermint-pm/vermint/internal/verpm/registry"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// addTestEnv builds an Env over a one-registry fixture (alpha depends on
// beta ^1.0.0, both available at a single version) plus a depot whose
// install directories are pre-seeded so Add never needs the network.
func addTestEnv(t *testing.T) (*Env, *envcache.Cache, uuid.UUID, uuid.UUID) {
	t.Helper()
	regRoot := t.TempDir()
	regUUID, alphaUUID, betaUUID := uuid.New(), uuid.New(), uuid.New()

	writeFixture(t, regRoot, "Registry.toml", `
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
	writeFixture(t, regRoot, "alpha/Package.toml", `repo = "https://example.invalid/alpha"`)
	writeFixture(t, regRoot, "alpha/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "aaaa0000"
`)
	writeFixture(t, regRoot, "alpha/Deps.toml", `
["0.0.0..*"]
beta = "`+betaUUID.String()+`"
`)
	writeFixture(t, regRoot, "alpha/Compat.toml", `
["0.0.0..*"]
"`+betaUUID.String()+`" = "^1.0.0"
`)
	writeFixture(t, regRoot, "beta/Package.toml", `repo = "https://example.invalid/beta"`)
	writeFixture(t, regRoot, "beta/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "bbbb0000"
`)

	reg, err := registry.Open(regRoot)
	require.NoError(t, err)

	depotRoot := t.TempDir()
	pctx := &pmctx.Context{DepotStack: []string{depotRoot}}
	d, err := depot.New(pctx)
	require.NoError(t, err)

	// Pre-seed install dirs so downloadNew has nothing to fetch.
	require.NoError(t, os.MkdirAll(d.InstallPath("alpha", alphaUUID, "aaaa0000"), 0o755))
	require.NoError(t, os.MkdirAll(d.InstallPath("beta", betaUUID, "bbbb0000"), 0o755))

	projDir := t.TempDir()
	projPath := filepath.Join(projDir, "Project.toml")
	proj := &envcache.Project{
		Name:    "app",
		UUID:    uuid.New(),
		Deps:    map[string]uuid.UUID{},
		Compat:  map[string]string{},
		Sources: map[string]envcache.DevSource{},
		Targets: map[string][]string{},
	}
	data, err := proj.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(projPath, data, 0o644))

	c, err := envcache.Read(projPath)
	require.NoError(t, err)

	env := &Env{
		Ctx:            pctx,
		Registries:     []*registry.Registry{reg},
		Depot:          d,
		RuntimeVersion: semver.MustParse("1.0.0"),
	}
	return env, c, alphaUUID, betaUUID
}

func TestAddResolvesTransitiveDependency(t *testing.T) {
	env, c, alphaUUID, betaUUID := addTestEnv(t)

	diff, err := env.Add(context.Background(), c, map[string]string{"alpha": "*"}, TierNone)
	require.NoError(t, err)
	require.Contains(t, diff, "+ alpha")
	require.Contains(t, diff, "+ beta")

	alphaEntry, ok := c.Manifest.ByUUID(alphaUUID)
	require.True(t, ok)
	require.Equal(t, "1.0.0", alphaEntry.Version)

	betaEntry, ok := c.Manifest.ByUUID(betaUUID)
	require.True(t, ok)
	require.Equal(t, "1.0.0", betaEntry.Version)

	require.Contains(t, alphaEntry.Deps, "beta")
}

func TestRemovePrunesTransitiveDependency(t *testing.T) {
	env, c, _, betaUUID := addTestEnv(t)

	_, err := env.Add(context.Background(), c, map[string]string{"alpha": "*"}, TierNone)
	require.NoError(t, err)

	require.NoError(t, env.Remove(context.Background(), c, []string{"alpha"}))

	_, hasAlpha := c.Manifest.ByName("alpha")
	_, hasBeta := c.Manifest.ByUUID(betaUUID)
	require.False(t, hasAlpha)
	require.False(t, hasBeta, "beta should be pruned once alpha is removed and nothing else roots it")
}
