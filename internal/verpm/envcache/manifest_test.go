package envcache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestManifestSetByNameByUUID(t *testing.T) {
	m := &Manifest{FormatVersion: manifestFormatVersion}
	id := uuid.New()
	m.Set(ManifestEntry{Name: "a", UUID: id, Version: "1.0.0"})

	got, ok := m.ByName("a")
	require.True(t, ok)
	require.Equal(t, "1.0.0", got.Version)

	got2, ok := m.ByUUID(id)
	require.True(t, ok)
	require.Equal(t, "a", got2.Name)

	m.Set(ManifestEntry{Name: "a", UUID: id, Version: "1.1.0"})
	require.Len(t, m.Entries, 1)
	got3, _ := m.ByName("a")
	require.Equal(t, "1.1.0", got3.Version)
}

func TestManifestPruneDropsUnreachable(t *testing.T) {
	m := &Manifest{FormatVersion: manifestFormatVersion}
	m.Set(ManifestEntry{Name: "root", Deps: map[string]uuid.UUID{"mid": uuid.New()}})
	m.Set(ManifestEntry{Name: "mid", Deps: map[string]uuid.UUID{"leaf": uuid.New()}})
	m.Set(ManifestEntry{Name: "leaf"})
	m.Set(ManifestEntry{Name: "orphan"})

	m.Prune([]string{"root"})

	_, hasRoot := m.ByName("root")
	_, hasMid := m.ByName("mid")
	_, hasLeaf := m.ByName("leaf")
	_, hasOrphan := m.ByName("orphan")

	require.True(t, hasRoot)
	require.True(t, hasMid)
	require.True(t, hasLeaf)
	require.False(t, hasOrphan)
}

func TestManifestCloneIsIndependent(t *testing.T) {
	m := &Manifest{FormatVersion: manifestFormatVersion}
	m.Set(ManifestEntry{Name: "a", Deps: map[string]uuid.UUID{"b": uuid.New()}})

	clone := m.Clone()
	entry, _ := m.ByName("a")
	entry.Deps["c"] = uuid.New()
	m.Set(entry)

	cloneEntry, _ := clone.ByName("a")
	require.Len(t, cloneEntry.Deps, 1, "mutating the original's Deps map must not affect the clone")
}

func TestManifestMarshalParseRoundTrip(t *testing.T) {
	id := uuid.New()
	m := &Manifest{FormatVersion: manifestFormatVersion, ProjectHash: "deadbeef"}
	m.Set(ManifestEntry{Name: "a", UUID: id, Version: "1.0.0", TreeHash: "abc123", Pinned: true})

	data, err := m.Marshal()
	require.NoError(t, err)

	got, err := ParseManifest(data)
	require.NoError(t, err)
	require.Equal(t, m.ProjectHash, got.ProjectHash)

	entry, ok := got.ByName("a")
	require.True(t, ok)
	require.Equal(t, id, entry.UUID)
	require.Equal(t, "1.0.0", entry.Version)
	require.Equal(t, "abc123", entry.TreeHash)
	require.True(t, entry.Pinned)
}
