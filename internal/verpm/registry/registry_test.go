package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

func mustRange(lo, hi string) VersionRange {
	loV := semver.MustParse(lo)
	if hi == "*" {
		return VersionRange{Lo: loV, Hi: semver.Infinity}
	}
	return VersionRange{Lo: loV, Hi: semver.MustParse(hi)}
}

func mustSpecAny() VersionSpec {
	return semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
}

func writeRegFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestOpenBareRegistryAndLoadPkgInfo(t *testing.T) {
	root := t.TempDir()
	regUUID := uuid.New()
	pkgUUID := uuid.New()

	writeRegFixture(t, root, "Registry.toml", `
name = "fixture"
uuid = "`+regUUID.String()+`"
repo = "https://example.invalid/fixture"

[packages."`+pkgUUID.String()+`"]
name = "widget"
path = "widget"
`)
	writeRegFixture(t, root, "widget/Package.toml", `repo = "https://example.invalid/widget"`)
	writeRegFixture(t, root, "widget/Versions.toml", `
["1.0.0"]
git-tree-sha1 = "cafef00d"

["1.1.0"]
git-tree-sha1 = "cafebabe"
yanked = true
`)

	reg, err := Open(root)
	require.NoError(t, err)
	require.Equal(t, VariantBare, reg.Variant())
	require.Equal(t, regUUID, reg.UUID)

	require.ElementsMatch(t, []uuid.UUID{pkgUUID}, reg.UUIDsByName("widget"))

	entry, ok := reg.Entry(pkgUUID)
	require.True(t, ok)

	info, err := entry.Info()
	require.NoError(t, err)
	require.Equal(t, "widget", info.Name)
	require.Equal(t, "cafef00d", info.Versions["1.0.0"].TreeHash)
	require.True(t, info.Versions["1.1.0"].Yanked)
}

func TestValidateDepsTableRejectsOverlap(t *testing.T) {
	dep := uuid.New()
	entries := []DepsEntry{
		{Range: mustRange("0.0.0", "2.0.0"), Deps: []uuid.UUID{dep}},
		{Range: mustRange("1.0.0", "3.0.0"), Deps: []uuid.UUID{dep}},
	}
	err := ValidateDepsTable("fixture", entries)
	require.Error(t, err)
}

func TestValidateCompatTableRejectsUnknownDep(t *testing.T) {
	dep := uuid.New()
	compat := []CompatEntry{
		{Range: mustRange("0.0.0", "*"), Compat: map[ID]VersionSpec{dep: mustSpecAny()}},
	}
	err := ValidateCompatTable("fixture", compat, nil, nil)
	require.Error(t, err)
}
