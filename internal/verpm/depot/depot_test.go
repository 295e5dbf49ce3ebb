package depot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vermint-pm/vermint/internal/verpm/pmctx"
)

func testDepot(t *testing.T) (*Depot, string) {
	t.Helper()
	root := t.TempDir()
	ctx := &pmctx.Context{DepotStack: []string{root}}
	d, err := New(ctx)
	require.NoError(t, err)
	return d, root
}

func TestSlugIsStableAndDistinguishesTreeHash(t *testing.T) {
	id := uuid.New()
	a := Slug(id, "hash-one")
	b := Slug(id, "hash-one")
	c := Slug(id, "hash-two")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 16)
}

func TestInstallPathIsContentAddressed(t *testing.T) {
	d, root := testDepot(t)
	id := uuid.New()
	p1 := d.InstallPath("widget", id, "hash-one")
	p2 := d.InstallPath("widget", id, "hash-two")

	require.NotEqual(t, p1, p2)
	rel, err := filepath.Rel(root, p1)
	require.NoError(t, err)
	require.False(t, filepath.IsAbs(rel))
}

func TestIsInstalledChecksLegacySlug(t *testing.T) {
	d, _ := testDepot(t)
	id := uuid.New()
	treeHash := "deadbeef"

	require.False(t, d.IsInstalled("widget", id, treeHash))

	legacy := d.legacyInstallPath("widget", treeHash)
	require.NoError(t, os.MkdirAll(legacy, 0o755))

	require.True(t, d.IsInstalled("widget", id, treeHash))
}

func TestTreeHashDeterministicOverContent(t *testing.T) {
	dirA := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.txt"), []byte("hello"), 0o644))
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "a.txt"), []byte("hello"), 0o644))
	dirC := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirC, "a.txt"), []byte("goodbye"), 0o644))

	hA, err := TreeHash(dirA)
	require.NoError(t, err)
	hB, err := TreeHash(dirB)
	require.NoError(t, err)
	hC, err := TreeHash(dirC)
	require.NoError(t, err)

	require.Equal(t, hA, hB)
	require.NotEqual(t, hA, hC)
}
